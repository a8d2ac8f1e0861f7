package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/conductor/internal/coordinator"
	"github.com/soyeahso/conductor/internal/domain"
)

func newInvokeCmd() *cobra.Command {
	var (
		model   string
		session string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "invoke <agent> <prompt>",
		Short: "Invoke one agent and print its output",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}
			if err := checkConfig(cmd.ErrOrStderr(), &cfg); err != nil {
				return &ExitError{Code: 2, Err: err}
			}
			cfg.Catalog.Watch = false
			if cfg.Store.Driver == "sqlite" {
				if err := paths.EnsureDirs(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			coord, err := coordinator.New(ctx, cfg, log, coordinator.Options{})
			if err != nil {
				return err
			}
			defer coord.Close(context.Background())

			params := domain.InvokeAgentParams{
				Agent:         args[0],
				Prompt:        strings.Join(args[1:], " "),
				ModelOverride: model,
			}
			if session != "" {
				params.Context = &domain.AgentContext{SessionID: session}
			}
			rec, err := coord.InvokeAgent(ctx, params)
			if err != nil {
				return err
			}

			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			rec, err = coord.WaitInvocation(waitCtx, rec.InvocationID)
			if err != nil {
				return err
			}
			if rec.Status == domain.InvocationFailed {
				return fmt.Errorf("invocation %s failed: %s", rec.InvocationID, rec.Error)
			}

			fmt.Fprintln(cmd.OutOrStdout(), rec.Output)
			errOut := cmd.ErrOrStderr()
			if len(rec.ArtifactsCreated) > 0 {
				fmt.Fprintf(errOut, "artifacts: %s\n", strings.Join(rec.ArtifactsCreated, ", "))
			}
			if len(rec.SuggestedNext) > 0 {
				fmt.Fprintf(errOut, "suggested next: %s\n", strings.Join(rec.SuggestedNext, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "model override (opus, sonnet, haiku)")
	cmd.Flags().StringVar(&session, "session", "", "session id recorded with the invocation")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "how long to wait for the agent")
	return cmd
}
