package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"relaychat/internal/logging"
	"relaychat/internal/provider"
	"relaychat/internal/relay"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}

			logger, err := logging.Console(cfg.LogLevel)
			if err != nil {
				return err
			}

			p, err := provider.NewOpenRouter(provider.Options{
				BaseURL:  cfg.Provider.BaseURL,
				APIKey:   cfg.Provider.APIKey,
				Model:    cfg.Provider.Model,
				SiteURL:  cfg.Provider.SiteURL,
				SiteName: cfg.Provider.SiteName,
			})
			if err != nil {
				return errors.Wrap(err, "creating provider")
			}
			logger.Info().Str("model", p.Model()).Str("base_url", cfg.Provider.BaseURL).Msg("provider ready")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return relay.NewServer(cfg.Server.Addr, p, logger).Run(ctx)
		},
	}

	cmd.Flags().String("addr", "", "listen address (default :3000)")
	cmd.Flags().String("model", "", "model id sent to the provider")
	cmd.Flags().String("base-url", "", "OpenAI-compatible provider base URL")
	return cmd
}
