package services

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/sophialabs/meetpoint/internal/domain/meeting"
	"github.com/sophialabs/meetpoint/internal/infrastructure/ports"
)

var _ ports.Ranker = (*ExprRanker)(nil)

// DefaultRankExpression charges five minutes per average transfer.
const DefaultRankExpression = "AverageTravelTime + 300 * AverageTransferCount"

// rankEnv is the environment a cost expression is evaluated against. Missing
// averages are zero.
type rankEnv struct {
	AverageTravelTime    int    `expr:"AverageTravelTime"`
	AverageTransferCount int    `expr:"AverageTransferCount"`
	MaxTravelTime        int    `expr:"MaxTravelTime"`
	SuccessCount         int    `expr:"SuccessCount"`
	TotalCount           int    `expr:"TotalCount"`
	Unreachable          int    `expr:"Unreachable"`
	Rating               string `expr:"Rating"`
}

// ExprRanker orders candidates by a cost expression, lowest cost first.
// Candidates without any successful route always rank last.
type ExprRanker struct {
	source  string
	program *vm.Program
}

// NewExprRanker compiles source. An empty source selects DefaultRankExpression.
func NewExprRanker(source string) (*ExprRanker, error) {
	if source == "" {
		source = DefaultRankExpression
	}
	program, err := expr.Compile(source, expr.Env(rankEnv{}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile rank expression %q: %w", source, err)
	}
	return &ExprRanker{source: source, program: program}, nil
}

// Source returns the expression being evaluated.
func (r *ExprRanker) Source() string { return r.source }

// Rank returns indexes into summaries, best first. Ties keep input order.
func (r *ExprRanker) Rank(summaries []meeting.CandidateSummary) ([]int, error) {
	costs := make([]float64, len(summaries))
	for i, s := range summaries {
		if s.AverageTravelTime == nil {
			continue
		}
		out, err := expr.Run(r.program, newRankEnv(s))
		if err != nil {
			return nil, fmt.Errorf("rank expression failed for %q: %w", s.Candidate.Name, err)
		}
		cost, err := toFloat(out)
		if err != nil {
			return nil, fmt.Errorf("rank expression for %q: %w", s.Candidate.Name, err)
		}
		costs[i] = cost
	}

	order := make([]int, len(summaries))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		ua, ub := summaries[a].AverageTravelTime == nil, summaries[b].AverageTravelTime == nil
		switch {
		case ua && ub:
			return 0
		case ua:
			return 1
		case ub:
			return -1
		}
		return cmp.Compare(costs[a], costs[b])
	})
	return order, nil
}

func newRankEnv(s meeting.CandidateSummary) rankEnv {
	env := rankEnv{
		SuccessCount: s.SuccessCount,
		TotalCount:   s.TotalCount,
		Unreachable:  s.TotalCount - s.SuccessCount,
		Rating:       s.Rating.String(),
	}
	if s.AverageTravelTime != nil {
		env.AverageTravelTime = *s.AverageTravelTime
	}
	if s.AverageTransferCount != nil {
		env.AverageTransferCount = *s.AverageTransferCount
	}
	for _, o := range s.Outcomes {
		if o.OK {
			env.MaxTravelTime = max(env.MaxTravelTime, o.TravelTimeSeconds)
		}
	}
	return env
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
