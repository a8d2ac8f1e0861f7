package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/conductor/internal/catalog"
	"github.com/soyeahso/conductor/internal/coordinator"
	"github.com/soyeahso/conductor/internal/llm"
	"github.com/soyeahso/conductor/internal/version"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show paths, configuration and catalog summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "conductor %s (commit %s)\n\n", version.Version, version.Commit)
			fmt.Fprintf(out, "Config:   %s\n", paths.Config)
			fmt.Fprintf(out, "Data:     %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:     %s\n\n", paths.Logs)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config file not found, using defaults")
			}
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(out, "Config error: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway:  port=%d bind=%s auth=%s tls=%t\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.TLS.Enabled)
			fmt.Fprintf(out, "Store:    %s %s\n", cfg.Store.Driver, cfg.Store.Path)

			reg, err := llm.NewRegistryFromConfig(cfg.Executor, cfg.Catalog.AllowedModels, log)
			if err != nil {
				fmt.Fprintf(out, "Executor: %s (%v)\n", cfg.Executor.Provider, err)
			} else {
				fmt.Fprintf(out, "Executor: %s models=%s\n", strings.Join(reg.List(), ","), strings.Join(cfg.Catalog.AllowedModels, ","))
			}

			if cfg.Catalog.Path == "" && cfg.Catalog.AgentsDir == "" {
				fmt.Fprintln(out, "Catalog:  not configured")
				return nil
			}
			src := &catalog.FileSource{CatalogPath: cfg.Catalog.Path, AgentsDir: cfg.Catalog.AgentsDir}
			c, err := coordinator.LoadCatalog(cmd.Context(), src, catalog.WithAllowedModels(cfg.Catalog.AllowedModels...))
			if err != nil {
				fmt.Fprintf(out, "Catalog:  invalid (%v)\n", err)
				return nil
			}
			fmt.Fprintf(out, "Catalog:  %d agents, %d workflows, %d routing rules (watch=%t)\n",
				len(c.Agents()), len(c.Workflows()), len(c.RoutingRules()), cfg.Catalog.Watch)
			for _, a := range c.Agents() {
				fmt.Fprintf(out, "  %-20s model=%-7s %s\n", a.Name, a.DefaultModel, a.Role)
			}
			return nil
		},
	}
}
