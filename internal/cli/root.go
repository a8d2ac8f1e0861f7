// Package cli implements the conductor command line.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/soyeahso/conductor/internal/config"
	"github.com/soyeahso/conductor/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// resolved in PersistentPreRunE
	paths config.Paths
	log   *logging.Logger
)

// ExitError carries a specific process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conductor",
		Short: "conductor coordinates a catalog of specialized agents",
		Long: "conductor routes tasks to agents from a declared catalog, invokes them, tracks\n" +
			"handoffs between them and aggregates the results of parallel runs.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			level := logLevel
			if level == "" {
				level = "warn"
			}
			log = logging.New(cmd.ErrOrStderr(), level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.conductor/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newCatalogCmd(),
		newRouteCmd(),
		newInvokeCmd(),
		newStatusCmd(),
		newConfigCmd(),
	)
	return cmd
}

// loadConfig reads the config file and fills unset paths.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	config.ApplyPaths(&cfg, paths)
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// checkConfig reports every config.Validate issue to w.
func checkConfig(w io.Writer, cfg *config.Config) error {
	issues := config.Validate(cfg)
	for _, issue := range issues {
		fmt.Fprintf(w, "config: %s\n", issue)
	}
	if len(issues) > 0 {
		return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return nil
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return newRootCmd().Execute()
}
