package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/soyeahso/conductor/internal/domain"
)

// Matcher evaluates a task description. Specificity is the length of the
// matched text: a longer match is a more exact one.
type Matcher interface {
	Match(task string) (matched bool, specificity int)
}

// LiteralMatcher matches a case-insensitive substring.
type LiteralMatcher struct {
	text string
}

// NewLiteralMatcher creates a matcher for text.
func NewLiteralMatcher(text string) *LiteralMatcher {
	return &LiteralMatcher{text: strings.ToLower(text)}
}

func (m *LiteralMatcher) Match(task string) (bool, int) {
	if m.text == "" || !strings.Contains(strings.ToLower(task), m.text) {
		return false, 0
	}
	return true, len(m.text)
}

// RegexMatcher matches a regular expression. Specificity is the length of
// the leftmost match.
type RegexMatcher struct {
	re *regexp.Regexp
}

// NewRegexMatcher compiles pattern.
func NewRegexMatcher(pattern string) (*RegexMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexMatcher{re: re}, nil
}

func (m *RegexMatcher) Match(task string) (bool, int) {
	loc := m.re.FindStringIndex(task)
	if loc == nil {
		return false, 0
	}
	return true, loc[1] - loc[0]
}

// NewMatcher builds the matcher a rule declares.
func NewMatcher(rule domain.RoutingRule) (Matcher, error) {
	switch rule.Match {
	case "", domain.MatchRegex:
		return NewRegexMatcher(rule.Pattern)
	case domain.MatchLiteral:
		return NewLiteralMatcher(rule.Pattern), nil
	default:
		return nil, fmt.Errorf("unknown match kind %q", rule.Match)
	}
}
