package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soyeahso/conductor/internal/catalog"
	"github.com/soyeahso/conductor/internal/config"
	"github.com/soyeahso/conductor/internal/coordinator"
	"github.com/soyeahso/conductor/internal/domain"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and validate the agent catalog",
	}
	cmd.AddCommand(newCatalogValidateCmd(), newCatalogShowCmd())
	return cmd
}

type catalogFlags struct {
	path      string
	agentsDir string
}

func (f *catalogFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "catalog", "", "catalog YAML file (overrides catalog.path)")
	cmd.Flags().StringVar(&f.agentsDir, "agents", "", "agent markdown directory (overrides catalog.agentsDir)")
}

// source resolves the catalog location from flags and config. Problems here
// are configuration errors, not catalog validation failures.
func (f *catalogFlags) source(w io.Writer) (*catalog.FileSource, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	if f.path != "" {
		cfg.Catalog.Path = f.path
	}
	if f.agentsDir != "" {
		cfg.Catalog.AgentsDir = f.agentsDir
	}
	if err := checkConfig(w, &cfg); err != nil {
		return nil, cfg, err
	}
	if cfg.Catalog.Path == "" && cfg.Catalog.AgentsDir == "" {
		return nil, cfg, errors.New("no catalog configured: set catalog.path or catalog.agentsDir")
	}
	return &catalog.FileSource{CatalogPath: cfg.Catalog.Path, AgentsDir: cfg.Catalog.AgentsDir}, cfg, nil
}

// load reads and freezes the catalog. Read and parse failures exit 2,
// validation failures exit 1.
func (f *catalogFlags) load(ctx context.Context, w io.Writer) (*catalog.Catalog, error) {
	src, cfg, err := f.source(w)
	if err != nil {
		return nil, &ExitError{Code: 2, Err: err}
	}
	defs, err := src.Load(ctx)
	if err != nil {
		return nil, &ExitError{Code: 2, Err: err}
	}
	c, err := catalog.Build(defs, catalog.WithAllowedModels(cfg.Catalog.AllowedModels...))
	if err != nil {
		return nil, &ExitError{Code: 1, Err: err}
	}
	return c, nil
}

type validationReport struct {
	Valid     bool     `json:"valid"`
	Agents    int      `json:"agents"`
	Workflows int      `json:"workflows"`
	Rules     int      `json:"routing_rules"`
	Issues    []string `json:"issues,omitempty"`
}

func newCatalogValidateCmd() *cobra.Command {
	var (
		flags  catalogFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the catalog (exit 0 valid, 1 invalid, 2 configuration error)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			c, err := flags.load(cmd.Context(), cmd.ErrOrStderr())

			var report validationReport
			var ve *domain.ValidationError
			switch {
			case err == nil:
				report = validationReport{
					Valid:     true,
					Agents:    len(c.Agents()),
					Workflows: len(c.Workflows()),
					Rules:     len(c.RoutingRules()),
				}
			case errors.As(err, &ve):
				report.Issues = ve.Issues
			default:
				return err
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(report); encErr != nil {
					return encErr
				}
			} else if report.Valid {
				fmt.Fprintf(out, "catalog valid: %d agents, %d workflows, %d routing rules\n",
					report.Agents, report.Workflows, report.Rules)
			} else {
				fmt.Fprintf(out, "catalog invalid: %d issue(s)\n", len(report.Issues))
				for _, issue := range report.Issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newCatalogShowCmd() *cobra.Command {
	var (
		flags  catalogFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "show [agent]",
		Short: "Print the catalog, or one agent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, cfg, err := flags.source(cmd.ErrOrStderr())
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}
			c, err := coordinator.LoadCatalog(cmd.Context(), src, catalog.WithAllowedModels(cfg.Catalog.AllowedModels...))
			if err != nil {
				return err
			}

			var v any = c.Snapshot()
			if len(args) == 1 {
				if v, err = c.Agent(args[0]); err != nil {
					return err
				}
			}
			return render(cmd.OutOrStdout(), v, asJSON)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of YAML")
	return cmd
}

// render writes v as indented JSON or YAML.
func render(w io.Writer, v any, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
