// Package relay implements the POST /api/chat endpoint that forwards a
// conversation to the inference provider and streams its reply back verbatim
// as chunked plain text.
package relay

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"relaychat/internal/provider"
)

const failureMessage = "Failed to process request"

// MaxBodyBytes caps the request body read by the handler.
const MaxBodyBytes = 4 << 20

type Handler struct {
	provider provider.Provider
	logger   zerolog.Logger
}

func NewHandler(p provider.Provider, logger zerolog.Logger) *Handler {
	return &Handler{
		provider: p,
		logger:   logger.With().Str("component", "relay").Logger(),
	}
}

// Register mounts the relay routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/api/chat", h.Chat)
}

func (h *Handler) Chat(c *gin.Context) {
	log := h.logger.With().Str("request_id", c.GetString(requestIDKey)).Logger()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
	if err != nil {
		h.fail(c, log, errors.Wrap(err, "reading request body"))
		return
	}

	messages, err := ParseRequest(body)
	if err != nil {
		if IsClientError(err) {
			log.Debug().Err(err).Msg("rejected chat request")
			c.JSON(http.StatusBadRequest, gin.H{"error": clientMessage(err)})
			return
		}
		h.fail(c, log, err)
		return
	}

	ctx := c.Request.Context()
	stream, err := h.provider.Stream(ctx, messages)
	if err != nil {
		h.fail(c, log, err)
		return
	}
	defer stream.Close()

	// The status is committed with the first fragment, so anything that goes
	// wrong before the provider produced text still gets a JSON 500.
	first, err := stream.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		h.fail(c, log, err)
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	fragments := 0
	for ; err == nil; first, err = stream.Recv() {
		if _, werr := c.Writer.WriteString(first); werr != nil {
			log.Debug().Err(werr).Msg("client went away")
			return
		}
		c.Writer.Flush()
		fragments++
	}
	if errors.Is(err, io.EOF) {
		log.Debug().Int("fragments", fragments).Int("messages", len(messages)).Msg("relayed completion")
		return
	}
	if ctx.Err() != nil {
		log.Debug().Err(ctx.Err()).Msg("client cancelled stream")
		return
	}

	// Headers are gone already: drop the connection so the client sees a
	// truncated body instead of a clean end of stream.
	log.Error().Err(err).Int("fragments", fragments).Msg("provider stream failed mid-response")
	panic(http.ErrAbortHandler)
}

func (h *Handler) fail(c *gin.Context, log zerolog.Logger, err error) {
	log.Error().Err(err).Msg("chat request failed")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   failureMessage,
		"details": err.Error(),
	})
}
