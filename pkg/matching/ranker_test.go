package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/tulip/pkg/models"
)

type staticFinder struct {
	matches []models.MatchCandidate
	err     error
}

func (f staticFinder) FindMatches(context.Context, models.CandidateInput) ([]models.MatchCandidate, error) {
	return f.matches, f.err
}

func match(id int64, strategy models.MatchStrategy, confidence int) models.MatchCandidate {
	return models.MatchCandidate{
		Record:     models.Candidate{ID: id},
		Strategy:   strategy,
		Confidence: confidence,
	}
}

func TestRanker_ThresholdBoundary(t *testing.T) {
	tests := []struct {
		name       string
		confidence int
		duplicate  bool
	}{
		{"exactly threshold", 70, true},
		{"just below threshold", 69, false},
		{"weak phone", 50, false},
		{"identity", 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranker := NewRanker(testLogger(), staticFinder{matches: []models.MatchCandidate{
				match(1, models.MatchStrategyPhone, tt.confidence),
			}})

			result, err := ranker.Check(context.Background(), models.CandidateInput{Name: "x"})
			require.NoError(t, err)
			assert.Equal(t, tt.duplicate, result.IsDuplicate)
			assert.Equal(t, tt.confidence, result.HighestConfidence)
		})
	}
}

func TestRanker_NoMatches(t *testing.T) {
	ranker := NewRanker(testLogger(), staticFinder{})

	result, err := ranker.Check(context.Background(), models.CandidateInput{})
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
	assert.Equal(t, 0, result.HighestConfidence)
	assert.Empty(t, result.Matches)
}

func TestRanker_StrategyPriority(t *testing.T) {
	ranker := NewRanker(testLogger(), staticFinder{matches: []models.MatchCandidate{
		match(2, models.MatchStrategyNameDOB, 60),
		match(1, models.MatchStrategyIdentityNumber, 100),
	}})

	result, err := ranker.Check(context.Background(), models.CandidateInput{})
	require.NoError(t, err)
	require.Len(t, result.Matches, 2)
	assert.Equal(t, int64(1), result.Matches[0].Record.ID)
	assert.Equal(t, 100, result.Matches[0].Confidence)
	assert.True(t, result.IsDuplicate)
}

func TestRanker_TiesKeepStrategyOrder(t *testing.T) {
	matches := []models.MatchCandidate{
		match(3, models.MatchStrategyPhone, 70),
		match(2, models.MatchStrategyExternalID, 100),
		match(1, models.MatchStrategyIdentityNumber, 100),
		match(4, models.MatchStrategyPhone, 70),
	}

	result := Rank(matches)
	ids := []int64{}
	for _, m := range result.Matches {
		ids = append(ids, m.Record.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)
	assert.Equal(t, int64(3), matches[0].Record.ID, "input slice left untouched")
}

func TestRanker_FinderError(t *testing.T) {
	ranker := NewRanker(testLogger(), staticFinder{err: errors.New("store down")})

	_, err := ranker.Check(context.Background(), models.CandidateInput{})
	assert.Error(t, err)
}

func TestRanker_WithEngine(t *testing.T) {
	store := &sliceStore{records: []models.Candidate{
		{ID: 7, NationalID: "3520112345671", FullName: "Ali Hassan Shah"},
	}}
	ranker := NewRanker(testLogger(), NewEngine(testLogger(), store))

	result, err := ranker.Check(context.Background(), models.CandidateInput{
		NationalID: "3520112345671",
		Name:       "Ali Hassan",
		Phone:      "03001234567",
	})
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.Equal(t, 100, result.HighestConfidence)
	require.NotEmpty(t, result.Matches)
	assert.Equal(t, int64(7), result.Matches[0].Record.ID)
	assert.Equal(t, models.MatchStrategyIdentityNumber, result.Matches[0].Strategy)
}
