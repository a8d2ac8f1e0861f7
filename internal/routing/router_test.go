package routing

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/soyeahso/conductor/internal/catalog"
	"github.com/soyeahso/conductor/internal/domain"
	"github.com/soyeahso/conductor/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func def(name string, caps []string, outputs ...domain.OutputSpec) domain.AgentDefinition {
	return domain.AgentDefinition{
		Name:         name,
		DefaultModel: "sonnet",
		Outputs:      outputs,
		Capabilities: caps,
	}
}

func testCatalog(t testing.TB, rules []domain.RoutingRule, defaultRoute string) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Build(&catalog.Definitions{
		Agents: []domain.AgentDefinition{
			def("analyst", []string{"research"}, domain.OutputSpec{Name: "analysis", Type: "markdown"}),
			def("implementer", []string{"code"}, domain.OutputSpec{Name: "patch", Type: "diff"}),
			def("security", []string{"threat-model"}),
			def("architect", []string{"design"}, domain.OutputSpec{Name: "adr", Type: "markdown"}),
			def("debug", nil),
		},
		Workflows: []domain.WorkflowDefinition{
			{Name: "feature", Agents: []string{"analyst", "architect", "implementer"}},
		},
		RoutingRules: rules,
		DefaultRoute: defaultRoute,
	})
	require.NoError(t, err)
	return c
}

func newTestRouter(t testing.TB, rules []domain.RoutingRule, defaultRoute string) *Router {
	t.Helper()
	return NewRouter(catalog.NewHolder(testCatalog(t, rules, defaultRoute)), 3, testLogger())
}

var standardRules = []domain.RoutingRule{
	{Pattern: `(?i)\bbug\b|crash`, Primary: "debug", Fallback: "analyst", Confidence: 0.7},
	{Pattern: `(?i)implement|build`, Primary: "implementer", Fallback: "analyst", Confidence: 0.8, Workflow: "feature"},
	{Pattern: `(?i)security|vulnerab`, Primary: "security", Confidence: 0.9},
	{Pattern: "design", Match: domain.MatchLiteral, Primary: "architect", Confidence: 0.8},
}

func TestMatchers(t *testing.T) {
	lit := NewLiteralMatcher("Design")
	ok, spec := lit.Match("please DESIGN the cache")
	assert.True(t, ok)
	assert.Equal(t, 6, spec)
	ok, _ = lit.Match("implement it")
	assert.False(t, ok)

	re, err := NewRegexMatcher(`impl\w*`)
	require.NoError(t, err)
	ok, spec = re.Match("we implement things")
	assert.True(t, ok)
	assert.Equal(t, len("implement"), spec)

	_, err = NewMatcher(domain.RoutingRule{Pattern: "x", Match: "semantic"})
	assert.Error(t, err)
	m, err := NewMatcher(domain.RoutingRule{Pattern: "x"})
	require.NoError(t, err)
	assert.IsType(t, &RegexMatcher{}, m)
}

func TestRecommend_WorkflowRule(t *testing.T) {
	r := newTestRouter(t, standardRules, "")

	rec := r.Recommend(domain.RoutingRequest{Task: "Implement the login page"})
	assert.Equal(t, "feature", rec.RecommendedWorkflow)
	assert.Equal(t, []string{"analyst", "architect", "implementer"}, rec.RecommendedAgents)
	assert.Equal(t, 80, rec.Confidence)
	assert.Contains(t, rec.Reasoning, "workflow \"feature\"")

	require.Len(t, rec.Alternatives, 1)
	alt := rec.Alternatives[0]
	assert.Equal(t, "analyst", alt.Workflow)
	assert.Equal(t, 70, alt.Confidence)
	assert.Equal(t, `fallback for "implementer": lower confidence (70 < 80)`, alt.WhyNotChosen)
}

func TestRecommend_RankingByConfidence(t *testing.T) {
	r := newTestRouter(t, standardRules, "")

	rec := r.Recommend(domain.RoutingRequest{Task: "fix the security bug"})
	assert.Equal(t, "security", rec.RecommendedWorkflow)
	assert.Equal(t, 90, rec.Confidence)

	var workflows []string
	for _, a := range rec.Alternatives {
		workflows = append(workflows, a.Workflow)
		assert.NotEqual(t, rec.RecommendedWorkflow, a.Workflow)
	}
	assert.Equal(t, []string{"debug", "analyst"}, workflows)
}

func TestRecommend_SpecificityBreaksTies(t *testing.T) {
	rules := []domain.RoutingRule{
		{Pattern: "auth", Match: domain.MatchLiteral, Primary: "analyst", Confidence: 0.6},
		{Pattern: "authentication", Match: domain.MatchLiteral, Primary: "security", Confidence: 0.6},
	}
	r := newTestRouter(t, rules, "")

	rec := r.Recommend(domain.RoutingRequest{Task: "review authentication flow"})
	assert.Equal(t, "security", rec.RecommendedWorkflow)
	require.Len(t, rec.Alternatives, 1)
	assert.Equal(t, "less specific match (4 < 14 characters)", rec.Alternatives[0].WhyNotChosen)
}

func TestRecommend_RegistrationOrderBreaksTies(t *testing.T) {
	rules := []domain.RoutingRule{
		{Pattern: "review", Match: domain.MatchLiteral, Primary: "architect", Confidence: 0.5},
		{Pattern: "review", Match: domain.MatchLiteral, Primary: "analyst", Confidence: 0.5},
	}
	r := newTestRouter(t, rules, "")

	rec := r.Recommend(domain.RoutingRequest{Task: "review this"})
	assert.Equal(t, "architect", rec.RecommendedWorkflow)
	require.Len(t, rec.Alternatives, 1)
	assert.Contains(t, rec.Alternatives[0].WhyNotChosen, "registered after")
}

func TestRecommend_ConstraintPenalty(t *testing.T) {
	r := newTestRouter(t, standardRules, "")

	// Satisfied via capability tag, output name and output type.
	for _, c := range []string{"code", "ADR", "diff"} {
		rec := r.Recommend(domain.RoutingRequest{Task: "build a cache", Constraints: []string{c}})
		assert.Equal(t, 80, rec.Confidence, "constraint %q", c)
	}

	rec := r.Recommend(domain.RoutingRequest{Task: "build a cache", Constraints: []string{"code", "threat-model"}})
	assert.Equal(t, "feature", rec.RecommendedWorkflow)
	assert.Equal(t, 60, rec.Confidence) // 80 * (1 - 0.5*1/2)
	assert.Contains(t, rec.Reasoning, "threat-model")
}

func TestRecommend_ConstraintCanChangeWinner(t *testing.T) {
	rules := []domain.RoutingRule{
		{Pattern: "review", Match: domain.MatchLiteral, Primary: "architect", Confidence: 0.8},
		{Pattern: "review", Match: domain.MatchLiteral, Primary: "security", Confidence: 0.7},
	}
	r := newTestRouter(t, rules, "")

	rec := r.Recommend(domain.RoutingRequest{Task: "review the api", Constraints: []string{"threat-model"}})
	assert.Equal(t, "security", rec.RecommendedWorkflow)
	assert.Equal(t, 70, rec.Confidence)
	require.Len(t, rec.Alternatives, 1)
	assert.Equal(t, 40, rec.Alternatives[0].Confidence)
	assert.Equal(t, `unmet constraint "threat-model"; lower confidence (40 < 70)`, rec.Alternatives[0].WhyNotChosen)
}

func TestRecommend_StateFilter(t *testing.T) {
	rules := []domain.RoutingRule{
		{Pattern: "next", Match: domain.MatchLiteral, Primary: "implementer", Confidence: 0.9, States: []string{"design-approved"}},
		{Pattern: "next", Match: domain.MatchLiteral, Primary: "architect", Confidence: 0.5},
	}
	r := newTestRouter(t, rules, "")

	rec := r.Recommend(domain.RoutingRequest{Task: "what next", CurrentState: "analysis"})
	assert.Equal(t, "architect", rec.RecommendedWorkflow)

	rec = r.Recommend(domain.RoutingRequest{Task: "what next", CurrentState: "design-approved"})
	assert.Equal(t, "implementer", rec.RecommendedWorkflow)
}

func TestRecommend_MaxAlternatives(t *testing.T) {
	rules := []domain.RoutingRule{
		{Pattern: "x", Match: domain.MatchLiteral, Primary: "analyst", Confidence: 0.9},
		{Pattern: "x", Match: domain.MatchLiteral, Primary: "implementer", Confidence: 0.8},
		{Pattern: "x", Match: domain.MatchLiteral, Primary: "security", Confidence: 0.7},
		{Pattern: "x", Match: domain.MatchLiteral, Primary: "architect", Confidence: 0.6},
		{Pattern: "x", Match: domain.MatchLiteral, Primary: "debug", Confidence: 0.5},
	}
	c := testCatalog(t, rules, "")

	rec := NewRouter(catalog.NewHolder(c), 2, testLogger()).Recommend(domain.RoutingRequest{Task: "x"})
	assert.Len(t, rec.Alternatives, 2)

	rec = NewRouter(catalog.NewHolder(c), 0, testLogger()).Recommend(domain.RoutingRequest{Task: "x"})
	assert.Len(t, rec.Alternatives, 3)
}

func TestRecommend_NoMatch(t *testing.T) {
	rec := newTestRouter(t, standardRules, "").Recommend(domain.RoutingRequest{Task: "write a poem"})
	assert.Empty(t, rec.RecommendedWorkflow)
	assert.Empty(t, rec.RecommendedAgents)
	assert.Equal(t, 0, rec.Confidence)
	assert.NotNil(t, rec.Alternatives)

	rec = newTestRouter(t, standardRules, "analyst").Recommend(domain.RoutingRequest{Task: "write a poem"})
	assert.Equal(t, "analyst", rec.RecommendedWorkflow)
	assert.Equal(t, []string{"analyst"}, rec.RecommendedAgents)
	assert.Equal(t, 0, rec.Confidence)
	assert.Contains(t, rec.Reasoning, "default route")
}

func TestRecommend_FollowsCatalogSwap(t *testing.T) {
	holder := catalog.NewHolder(testCatalog(t, standardRules, ""))
	r := NewRouter(holder, 3, testLogger())
	assert.Equal(t, "debug", r.Recommend(domain.RoutingRequest{Task: "crash on start"}).RecommendedWorkflow)

	holder.Swap(testCatalog(t, []domain.RoutingRule{
		{Pattern: "crash", Match: domain.MatchLiteral, Primary: "analyst", Confidence: 0.4},
	}, ""))
	assert.Equal(t, "analyst", r.Recommend(domain.RoutingRequest{Task: "crash on start"}).RecommendedWorkflow)
}

func TestRecommend_PropertyDeterministicAndBounded(t *testing.T) {
	words := []string{"implement", "bug", "security", "design", "crash", "build", "review", "poem"}
	constraints := []string{"code", "research", "threat-model", "diff", "unknown"}
	r := newTestRouter(t, standardRules, "")

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 5).Draw(rt, "words")
		task := ""
		for i := 0; i < n; i++ {
			task += rapid.SampledFrom(words).Draw(rt, "word") + " "
		}
		var cons []string
		for i := rapid.IntRange(0, 3).Draw(rt, "constraints"); i > 0; i-- {
			cons = append(cons, rapid.SampledFrom(constraints).Draw(rt, "constraint"))
		}
		req := domain.RoutingRequest{Task: task, Constraints: cons}

		first := r.Recommend(req)
		second := r.Recommend(req)
		require.Equal(rt, first, second)

		assert.GreaterOrEqual(rt, first.Confidence, 0)
		assert.LessOrEqual(rt, first.Confidence, 100)
		seen := map[string]bool{first.RecommendedWorkflow: true}
		for _, alt := range first.Alternatives {
			assert.NotEqual(rt, first.RecommendedWorkflow, alt.Workflow)
			assert.False(rt, seen[alt.Workflow], "alternatives are distinct")
			seen[alt.Workflow] = true
			assert.LessOrEqual(rt, alt.Confidence, first.Confidence)
			assert.NotEmpty(rt, alt.WhyNotChosen)
		}
	})
}

func TestWhyNotChosen_CloseScores(t *testing.T) {
	top := candidate{score: 50.4, specificity: 5}
	alt := candidate{score: 49.6, specificity: 5}
	assert.Equal(t, "lower confidence (49.60 < 50.40)", whyNotChosen(alt, top))

	alt.unmet = []string{"tests"}
	assert.Equal(t, `unmet constraint "tests"; lower confidence (49.60 < 50.40)`, whyNotChosen(alt, top))

	alt = candidate{score: 40, specificity: 5}
	assert.Equal(t, "lower confidence (40 < 50)", whyNotChosen(alt, top))
}

func TestTruncate_RuneBoundary(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "héllo", truncate("héllo", 5))
	assert.Equal(t, "日本...", truncate("日本語のタスク", 2))

	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.String().Draw(rt, "s")
		n := rapid.IntRange(0, 20).Draw(rt, "n")
		assert.True(rt, utf8.ValidString(truncate(s, n)))
	})
}
