package parallel

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/conductor/internal/domain"
)

// group is a set of completed slots whose outputs are equivalent.
type group struct {
	agents    []string
	output    string // first member's output, as written
	artifacts []string
}

// groupOutputs groups completed slots by canonical output, in declaration
// order of each group's first member.
func groupOutputs(slots []domain.ParallelResult, eq Equivalence) []group {
	var groups []group
	index := make(map[string]int)
	for _, s := range slots {
		if s.Status != domain.SlotCompleted {
			continue
		}
		key := eq.Canonical(s.Output)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, group{output: s.Output})
		}
		g := &groups[i]
		g.agents = append(g.agents, s.Agent)
		for _, a := range s.Artifacts {
			if !slices.Contains(g.artifacts, a) {
				g.artifacts = append(g.artifacts, a)
			}
		}
	}
	return groups
}

func positions(groups []group) ([]domain.Position, []string) {
	pos := make([]domain.Position, len(groups))
	var agents []string
	for i, g := range groups {
		pos[i] = domain.Position{
			Agents:   append([]string(nil), g.agents...),
			Position: g.output,
			Evidence: append([]string(nil), g.artifacts...),
		}
		agents = append(agents, g.agents...)
	}
	return pos, agents
}

func allTerminal(slots []domain.ParallelResult) bool {
	for _, s := range slots {
		if s.Status == domain.SlotPending {
			return false
		}
	}
	return true
}

func allCompleted(slots []domain.ParallelResult) bool {
	for _, s := range slots {
		if s.Status != domain.SlotCompleted {
			return false
		}
	}
	return true
}

func unresolved(conflicts []domain.ConflictRecord) int {
	n := 0
	for _, c := range conflicts {
		if !c.Resolved {
			n++
		}
	}
	return n
}

// detectConflicts applies the strategy's conflict rule to rec in place and
// returns a conflict newly raised by this call, if any. At most one conflict
// is raised per execution.
func detectConflicts(rec *domain.ParallelExecutionRecord, eq Equivalence) *domain.ConflictRecord {
	switch rec.AggregationStrategy {
	case domain.StrategyVote:
		if len(rec.Conflicts) > 0 || !allTerminal(rec.Slots) {
			return nil
		}
		groups := groupOutputs(rec.Slots, eq)
		if len(groups) < 2 {
			return nil
		}
		pos, agents := positions(groups)
		rec.Conflicts = append(rec.Conflicts, domain.ConflictRecord{
			ConflictID: uuid.NewString(),
			Agents:     agents,
			Issue:      fmt.Sprintf("agents produced %d distinct outputs", len(groups)),
			Positions:  pos,
		})

	case domain.StrategyEscalate:
		groups := groupOutputs(rec.Slots, eq)
		if len(groups) < 2 {
			return nil
		}
		pos, agents := positions(groups)
		if len(rec.Conflicts) > 0 {
			c := &rec.Conflicts[0]
			if !c.Resolved {
				c.Agents = agents
				c.Positions = pos
			}
			return nil
		}
		rec.Conflicts = append(rec.Conflicts, domain.ConflictRecord{
			ConflictID: uuid.NewString(),
			Agents:     agents,
			Issue:      fmt.Sprintf("outputs of %s and %s differ", groups[0].agents[0], groups[1].agents[0]),
			Positions:  pos,
		})

	default:
		return nil
	}

	c := rec.Conflicts[len(rec.Conflicts)-1].Clone()
	return &c
}

// deriveStatus computes the execution status from slots and conflicts.
func deriveStatus(rec domain.ParallelExecutionRecord) domain.ExecutionStatus {
	switch {
	case unresolved(rec.Conflicts) > 0:
		return domain.ExecutionConflict
	case allTerminal(rec.Slots):
		return domain.ExecutionCompleted
	default:
		return domain.ExecutionRunning
	}
}

// aggregate builds the aggregation view of a record snapshot.
func aggregate(rec domain.ParallelExecutionRecord, eq Equivalence) domain.AggregateResult {
	res := domain.AggregateResult{
		ParallelID: rec.ParallelID,
		Results:    rec.Slots,
		Conflicts:  rec.Conflicts,
	}

	open := unresolved(rec.Conflicts)
	res.ResolutionNeeded = open > 0
	switch {
	case open > 0:
		res.Status = domain.AggregateConflict
	case allCompleted(rec.Slots):
		res.Status = domain.AggregateComplete
	default:
		res.Status = domain.AggregatePartial
	}
	if open > 0 {
		return res
	}

	if resolution, ok := latestResolution(rec.Conflicts); ok {
		res.AggregatedOutput = resolution
		return res
	}

	switch rec.AggregationStrategy {
	case domain.StrategyMerge:
		res.AggregatedOutput = mergeOutputs(rec.Slots)
	case domain.StrategyVote, domain.StrategyEscalate:
		if rec.AggregationStrategy == domain.StrategyVote && !allTerminal(rec.Slots) {
			break
		}
		if groups := groupOutputs(rec.Slots, eq); len(groups) == 1 {
			res.AggregatedOutput = groups[0].output
		}
	}
	return res
}

func latestResolution(conflicts []domain.ConflictRecord) (string, bool) {
	var resolved []domain.ConflictRecord
	for _, c := range conflicts {
		if c.Resolved {
			resolved = append(resolved, c)
		}
	}
	if len(resolved) == 0 {
		return "", false
	}
	sort.SliceStable(resolved, func(i, j int) bool {
		return resolved[i].ResolvedAt.Before(*resolved[j].ResolvedAt)
	})
	return resolved[len(resolved)-1].Resolution, true
}

// mergeOutputs concatenates completed outputs in declaration order, each
// under a heading naming its agent.
func mergeOutputs(slots []domain.ParallelResult) string {
	var parts []string
	for _, s := range slots {
		if s.Status != domain.SlotCompleted {
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", s.Agent, strings.TrimSpace(s.Output)))
	}
	return strings.Join(parts, "\n\n")
}

// tallyVotes returns the winning position index under a weighted plurality,
// or -1 on a tie. Agents missing from weights count 1.0.
func tallyVotes(pos []domain.Position, weights map[string]float64) (winner int, score, total float64) {
	winner = -1
	tie := false
	for i, p := range pos {
		var w float64
		for _, a := range p.Agents {
			if v, ok := weights[a]; ok {
				w += v
			} else {
				w++
			}
		}
		total += w
		switch {
		case winner < 0 || w > score:
			winner, score, tie = i, w, false
		case w == score:
			tie = true
		}
	}
	if tie {
		return -1, score, total
	}
	return winner, score, total
}

func timestamp(now time.Time) *time.Time {
	t := now.UTC()
	return &t
}
