package relay

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"relaychat/internal/provider"
)

const shutdownTimeout = 30 * time.Second

// NewEngine builds the gin engine serving the relay routes.
func NewEngine(p provider.Provider, logger zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(RequestID(), AccessLog(logger), Recovery(logger))
	NewHandler(p, logger).Register(engine)
	return engine
}

// Server owns the HTTP listener of the relay.
type Server struct {
	server *http.Server
	logger zerolog.Logger
}

func NewServer(addr string, p provider.Provider, logger zerolog.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewEngine(p, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			// No WriteTimeout: completions stream for as long as the model talks.
			IdleTimeout: 120 * time.Second,
		},
		logger: logger,
	}
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.server.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and shuts down gracefully when ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("starting relay server")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serving http")
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("server shutdown error")
			return errors.Wrap(err, "shutting down")
		}
		s.logger.Info().Msg("relay server stopped")
		return nil
	})

	return eg.Wait()
}
