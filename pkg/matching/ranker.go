package matching

import (
	"context"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/tulip/pkg/metrics"
	"github.com/Ramsey-B/tulip/pkg/models"
	"github.com/Ramsey-B/tulip/pkg/tracing"
)

// DuplicateThreshold is the lowest top confidence that classifies an input as a duplicate.
const DuplicateThreshold = 70

// MatchFinder produces unranked matches for an input. *Engine is the production implementation.
type MatchFinder interface {
	FindMatches(ctx context.Context, input models.CandidateInput) ([]models.MatchCandidate, error)
}

// Ranker turns matches into a duplicate decision.
type Ranker struct {
	logger ectologger.Logger
	finder MatchFinder
}

func NewRanker(logger ectologger.Logger, finder MatchFinder) *Ranker {
	return &Ranker{
		logger: logger,
		finder: finder,
	}
}

// Check ranks the input's matches by confidence (ties keep strategy order) and decides
// whether the input duplicates an existing candidate.
func (r *Ranker) Check(ctx context.Context, input models.CandidateInput) (*models.DuplicateCheckResult, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Ranker.Check")
	defer span.End()

	matches, err := r.finder.FindMatches(ctx, input)
	if err != nil {
		tracing.RecordError(span, err)
		metrics.RecordCheck("error")
		return nil, err
	}

	result := Rank(matches)

	metrics.RecordCheck(outcome(result))
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"is_duplicate":       result.IsDuplicate,
		"highest_confidence": result.HighestConfidence,
		"match_count":        len(result.Matches),
	}).Debug("Duplicate check complete")

	return result, nil
}

// Rank sorts matches and applies DuplicateThreshold. The input slice is not modified.
func Rank(matches []models.MatchCandidate) *models.DuplicateCheckResult {
	ranked := make([]models.MatchCandidate, len(matches))
	copy(ranked, matches)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return ranked[i].Strategy.Priority() < ranked[j].Strategy.Priority()
	})

	highest := 0
	if len(ranked) > 0 {
		highest = ranked[0].Confidence
	}

	return &models.DuplicateCheckResult{
		IsDuplicate:       highest >= DuplicateThreshold,
		Matches:           ranked,
		HighestConfidence: highest,
	}
}

func outcome(result *models.DuplicateCheckResult) string {
	if result.IsDuplicate {
		return "duplicate"
	}
	return "unique"
}
