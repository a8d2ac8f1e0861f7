package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/conductor/internal/catalog"
	"github.com/soyeahso/conductor/internal/domain"
	"github.com/soyeahso/conductor/internal/routing"
)

func newRouteCmd() *cobra.Command {
	var (
		flags       catalogFlags
		state       string
		constraints []string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "route <task>",
		Short: "Recommend a workflow and agents for a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, cfg, err := flags.source(cmd.ErrOrStderr())
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}
			defs, err := src.Load(cmd.Context())
			if err != nil {
				return err
			}
			c, err := catalog.Build(defs, catalog.WithAllowedModels(cfg.Catalog.AllowedModels...))
			if err != nil {
				return err
			}

			router := routing.NewRouter(catalog.NewHolder(c), cfg.Routing.MaxAlternatives, log)
			rec := router.Recommend(domain.RoutingRequest{
				Task:         strings.Join(args, " "),
				CurrentState: state,
				Constraints:  constraints,
			})
			if asJSON {
				return render(cmd.OutOrStdout(), rec, true)
			}
			printRecommendation(cmd, rec)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&state, "state", "", "current workflow state")
	cmd.Flags().StringArrayVar(&constraints, "constraint", nil, "required capability (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printRecommendation(cmd *cobra.Command, rec domain.RoutingRecommendation) {
	out := cmd.OutOrStdout()
	if len(rec.RecommendedAgents) == 0 {
		fmt.Fprintln(out, "no route matches this task")
		return
	}
	fmt.Fprintf(out, "%s (confidence %d)\n", rec.RecommendedWorkflow, rec.Confidence)
	fmt.Fprintf(out, "  agents: %s\n", strings.Join(rec.RecommendedAgents, " -> "))
	fmt.Fprintf(out, "  %s\n", rec.Reasoning)
	for _, alt := range rec.Alternatives {
		fmt.Fprintf(out, "  alt %s (confidence %d): %s\n", alt.Workflow, alt.Confidence, alt.WhyNotChosen)
	}
}
