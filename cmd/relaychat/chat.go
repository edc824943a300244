package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"relaychat/internal/chat"
	"relaychat/internal/config"
	"relaychat/internal/logging"
	"relaychat/internal/storage"
	"relaychat/internal/store"
	"relaychat/internal/ui"
)

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the terminal chat client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateClient(); err != nil {
				return err
			}
			if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
				return errors.New("chat needs an interactive terminal")
			}

			// The terminal belongs to the UI, so logs go to a file.
			logger, closer, err := logging.File(cfg.Client.LogFile, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer closer.Close()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runChat(sigCtx, cfg, logger)
		},
	}

	cmd.Flags().String("relay-url", "", "relay service base URL (default http://localhost:3000)")
	cmd.Flags().String("db", "", "SQLite file keeping conversations between runs")
	cmd.Flags().String("redis-addr", "", "Redis address keeping conversations between runs")
	cmd.Flags().String("log-file", "", "log file path (default ~/.relaychat/relaychat.log)")
	return cmd
}

func runChat(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	opts := []store.Option{store.WithLogger(logger)}
	persister, err := openPersister(ctx, cfg)
	if err != nil {
		return err
	}
	if persister != nil {
		opts = append(opts, store.WithPersister(persister))
	}

	st, err := store.New(ctx, opts...)
	if err != nil {
		if persister != nil {
			_ = persister.Close()
		}
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close conversation store")
		}
	}()

	// Cancelled before the store closes so an in-flight send settles first.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	notifier := ui.NewNotifier()
	session := chat.NewSession(st,
		chat.NewHTTPRelay(cfg.Client.RelayURL, &http.Client{}),
		chat.WithLogger(logger),
		chat.WithNotify(notifier.Notify),
	)

	logger.Info().Str("relay_url", cfg.Client.RelayURL).Int("conversations", st.Len()).Msg("starting chat client")
	p := tea.NewProgram(ui.NewModel(ctx, session, notifier.Updates()), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "running chat ui")
	}
	return nil
}

func openPersister(ctx context.Context, cfg *config.Config) (store.Persister, error) {
	switch {
	case cfg.Client.DBPath != "":
		db, err := storage.NewDatabase(cfg.Client.DBPath)
		if err != nil {
			return nil, errors.Wrap(err, "opening conversation database")
		}
		return db, nil
	case cfg.Client.RedisAddr != "":
		r, err := storage.NewRedis(ctx, cfg.Client.RedisAddr, storage.DefaultRedisPrefix)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, nil
	}
}
