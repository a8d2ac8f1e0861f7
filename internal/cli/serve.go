package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/conductor/internal/coordinator"
	"github.com/soyeahso/conductor/internal/gateway"
	"github.com/soyeahso/conductor/internal/logging"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator behind the WebSocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if err := checkConfig(cmd.ErrOrStderr(), &cfg); err != nil {
				return &ExitError{Code: 2, Err: err}
			}
			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			root, closer, err := logging.Open(logging.Options{
				Level:        cfg.Logging.Level,
				File:         cfg.Logging.File,
				ConsoleStyle: cfg.Logging.ConsoleStyle,
			})
			if err != nil {
				return fmt.Errorf("opening log: %w", err)
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			coord, err := coordinator.New(ctx, cfg, root, coordinator.Options{})
			if err != nil {
				return err
			}
			defer func() {
				drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := coord.Close(drainCtx); err != nil {
					root.Warn().Err(err).Msg("coordinator shutdown incomplete")
				}
			}()

			root.Info().
				Str("catalog", cfg.Catalog.Path).
				Str("agentsDir", cfg.Catalog.AgentsDir).
				Str("provider", cfg.Executor.Provider).
				Str("store", cfg.Store.Driver).
				Bool("watch", cfg.Catalog.Watch).
				Msg("coordinator ready")

			srv := gateway.New(cfg.Gateway, coord, root,
				gateway.WithHooks(coord.Hooks()),
				gateway.WithMetrics(coord.Metrics()),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")
	return cmd
}
