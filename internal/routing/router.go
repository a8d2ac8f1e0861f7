// Package routing recommends a workflow and agent sequence for a task by
// matching it against the catalog's routing rules.
package routing

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/soyeahso/conductor/internal/catalog"
	"github.com/soyeahso/conductor/internal/domain"
	"github.com/soyeahso/conductor/internal/logging"
)

// fallbackPenalty is subtracted from a rule's confidence when its fallback
// agent is offered as an alternative.
const fallbackPenalty = 10.0

// CatalogProvider returns the current catalog snapshot.
type CatalogProvider interface {
	Current() *catalog.Catalog
}

// Router ranks routing rules against a task. Its output depends only on
// the request and the catalog snapshot.
type Router struct {
	catalogs        CatalogProvider
	maxAlternatives int
	log             *logging.Logger

	compiled atomic.Pointer[compiledRules]
}

type compiledRules struct {
	catalog  *catalog.Catalog
	rules    []domain.RoutingRule
	matchers []Matcher
}

// NewRouter creates a router. maxAlternatives <= 0 means 3.
func NewRouter(catalogs CatalogProvider, maxAlternatives int, log *logging.Logger) *Router {
	if maxAlternatives <= 0 {
		maxAlternatives = 3
	}
	return &Router{
		catalogs:        catalogs,
		maxAlternatives: maxAlternatives,
		log:             log.Sub("routing"),
	}
}

// rulesFor returns compiled matchers for c, compiling once per snapshot.
func (r *Router) rulesFor(c *catalog.Catalog) *compiledRules {
	if cr := r.compiled.Load(); cr != nil && cr.catalog == c {
		return cr
	}

	rules := c.RoutingRules()
	cr := &compiledRules{catalog: c, rules: rules, matchers: make([]Matcher, len(rules))}
	for i, rule := range rules {
		m, err := NewMatcher(rule)
		if err != nil {
			// Registration validates patterns, so this only guards hand-built catalogs.
			r.log.Warn().Err(err).Str("pattern", rule.Pattern).Msg("skipping routing rule")
			continue
		}
		cr.matchers[i] = m
	}
	r.compiled.Store(cr)
	return cr
}

type candidate struct {
	workflow    string
	agents      []string
	base        float64
	score       float64
	specificity int
	order       int
	unmet       []string
	rule        domain.RoutingRule
	fallback    bool
}

func (c candidate) confidence() int { return int(math.Round(c.score)) }

// Recommend returns the best workflow for the task plus ranked alternatives.
func (r *Router) Recommend(req domain.RoutingRequest) domain.RoutingRecommendation {
	c := r.catalogs.Current()
	cr := r.rulesFor(c)

	var cands []candidate
	for i, rule := range cr.rules {
		m := cr.matchers[i]
		if m == nil {
			continue
		}
		if len(rule.States) > 0 && !slices.Contains(rule.States, req.CurrentState) {
			continue
		}
		ok, spec := m.Match(req.Task)
		if !ok {
			continue
		}

		primary := candidate{
			workflow:    rule.Primary,
			agents:      []string{rule.Primary},
			base:        rule.Confidence * 100,
			specificity: spec,
			order:       i,
			rule:        rule,
		}
		if rule.Workflow != "" {
			if wf, ok := c.Workflow(rule.Workflow); ok {
				primary.workflow = wf.Name
				primary.agents = wf.Agents
			}
		}
		cands = append(cands, scored(c, primary, req.Constraints))

		if rule.Fallback != "" && rule.Fallback != rule.Primary {
			fb := candidate{
				workflow:    rule.Fallback,
				agents:      []string{rule.Fallback},
				base:        math.Max(0, rule.Confidence*100-fallbackPenalty),
				specificity: spec,
				order:       i,
				rule:        rule,
				fallback:    true,
			}
			cands = append(cands, scored(c, fb, req.Constraints))
		}
	}

	if len(cands) == 0 {
		return r.noMatch(c, req)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.specificity != b.specificity {
			return a.specificity > b.specificity
		}
		if a.order != b.order {
			return a.order < b.order
		}
		return !a.fallback && b.fallback
	})

	seen := map[string]bool{}
	ranked := cands[:0:0]
	for _, cand := range cands {
		if seen[cand.workflow] {
			continue
		}
		seen[cand.workflow] = true
		ranked = append(ranked, cand)
	}

	top := ranked[0]
	rec := domain.RoutingRecommendation{
		RecommendedWorkflow: top.workflow,
		RecommendedAgents:   slices.Clone(top.agents),
		Confidence:          top.confidence(),
		Reasoning:           reasoning(top, len(req.Constraints)),
		Alternatives:        []domain.Alternative{},
	}
	for _, alt := range ranked[1:] {
		if len(rec.Alternatives) == r.maxAlternatives {
			break
		}
		rec.Alternatives = append(rec.Alternatives, domain.Alternative{
			Workflow:     alt.workflow,
			Agents:       slices.Clone(alt.agents),
			Confidence:   alt.confidence(),
			WhyNotChosen: whyNotChosen(alt, top),
		})
	}

	r.log.Debug().
		Str("workflow", rec.RecommendedWorkflow).
		Int("confidence", rec.Confidence).
		Int("alternatives", len(rec.Alternatives)).
		Msg("routing recommendation")
	return rec
}

func (r *Router) noMatch(c *catalog.Catalog, req domain.RoutingRequest) domain.RoutingRecommendation {
	rec := domain.RoutingRecommendation{
		RecommendedAgents: []string{},
		Alternatives:      []domain.Alternative{},
		Reasoning:         "no routing rule matched the task",
	}
	if def := c.DefaultRoute(); def != "" {
		rec.RecommendedWorkflow = def
		rec.RecommendedAgents = []string{def}
		rec.Reasoning = fmt.Sprintf("no routing rule matched the task; using default route %q", def)
	}
	r.log.Debug().Str("task", truncate(req.Task, 80)).Msg("no routing rule matched")
	return rec
}

// scored applies the constraint penalty: each unmet constraint removes an
// equal share of half the base confidence.
func scored(c *catalog.Catalog, cand candidate, constraints []string) candidate {
	for _, want := range constraints {
		if !satisfied(c, cand.agents, want) {
			cand.unmet = append(cand.unmet, want)
		}
	}
	cand.score = cand.base
	if len(constraints) > 0 {
		cand.score = cand.base * (1 - 0.5*float64(len(cand.unmet))/float64(len(constraints)))
	}
	return cand
}

// satisfied reports whether any agent declares the constraint as a
// capability tag, an output name or type, or is named by it.
func satisfied(c *catalog.Catalog, agents []string, constraint string) bool {
	for _, name := range agents {
		if strings.EqualFold(name, constraint) {
			return true
		}
		def, err := c.Agent(name)
		if err != nil {
			continue
		}
		for _, tag := range def.Capabilities {
			if strings.EqualFold(tag, constraint) {
				return true
			}
		}
		for _, out := range def.Outputs {
			if strings.EqualFold(out.Name, constraint) || strings.EqualFold(out.Type, constraint) {
				return true
			}
		}
	}
	return false
}

func reasoning(top candidate, constraints int) string {
	var b strings.Builder
	kind := top.rule.Match
	if kind == "" {
		kind = domain.MatchRegex
	}
	fmt.Fprintf(&b, "task matched %s rule %q (specificity %d) routing to %q", kind, top.rule.Pattern, top.specificity, top.rule.Primary)
	if top.rule.Workflow != "" {
		fmt.Fprintf(&b, " via workflow %q", top.rule.Workflow)
	}
	fmt.Fprintf(&b, "; base confidence %d", int(math.Round(top.base)))
	if len(top.unmet) > 0 {
		fmt.Fprintf(&b, ", reduced to %d for %d of %d unmet constraints (%s)",
			top.confidence(), len(top.unmet), constraints, strings.Join(top.unmet, ", "))
	}
	return b.String()
}

func whyNotChosen(alt, top candidate) string {
	var reason string
	switch {
	case len(alt.unmet) > 0 && alt.score < top.score:
		reason = fmt.Sprintf("unmet constraint %q; lower confidence %s", alt.unmet[0], compareScores(alt, top))
	case alt.score < top.score:
		reason = "lower confidence " + compareScores(alt, top)
	case alt.specificity < top.specificity:
		reason = fmt.Sprintf("less specific match (%d < %d characters)", alt.specificity, top.specificity)
	default:
		reason = fmt.Sprintf("equal confidence and specificity but registered after %q", top.rule.Pattern)
	}
	if alt.fallback {
		return fmt.Sprintf("fallback for %q: %s", alt.rule.Primary, reason)
	}
	return reason
}

// compareScores prints the reported confidences, or the raw scores when
// both round to the same integer.
func compareScores(alt, top candidate) string {
	if alt.confidence() == top.confidence() {
		return fmt.Sprintf("(%.2f < %.2f)", alt.score, top.score)
	}
	return fmt.Sprintf("(%d < %d)", alt.confidence(), top.confidence())
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
