// Package matching finds stored candidates that may be the same person as an input and ranks them.
package matching

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/tulip/pkg/metrics"
	"github.com/Ramsey-B/tulip/pkg/models"
	"github.com/Ramsey-B/tulip/pkg/normalizers"
	"github.com/Ramsey-B/tulip/pkg/tracing"
)

const (
	ConfidenceIdentityNumber = 100
	ConfidenceExternalID     = 100
	ConfidenceNameDOB        = 85
	ConfidencePhoneNamed     = 70
	ConfidencePhone          = 50

	// NameDOBMinSimilarity is the lowest name similarity accepted alongside an exact date of birth.
	NameDOBMinSimilarity = 0.7
	// PhoneNameSimilarity must be exceeded for a phone hit to use ConfidencePhoneNamed.
	PhoneNameSimilarity = 0.7
)

// RecordStore is the indexed lookup surface the strategies query. Retired candidates are never returned.
type RecordStore interface {
	FindByNationalID(ctx context.Context, ids ...string) ([]models.Candidate, error)
	FindByExternalID(ctx context.Context, externalID string) ([]models.Candidate, error)
	FindByDateOfBirth(ctx context.Context, dob time.Time) ([]models.Candidate, error)
	// FindByPhone returns candidates whose phone equals raw, equals digits, or ends with digits.
	FindByPhone(ctx context.Context, raw, digits string) ([]models.Candidate, error)
}

// Engine runs the identity-number, external-id, name+DOB and phone strategies in that order.
type Engine struct {
	logger ectologger.Logger
	store  RecordStore
	scorer *Scorer
}

// NewEngine creates a new match engine
func NewEngine(logger ectologger.Logger, store RecordStore) *Engine {
	return &Engine{
		logger: logger,
		store:  store,
		scorer: NewScorer(),
	}
}

type strategyFunc func(ctx context.Context, input models.CandidateInput) ([]models.MatchCandidate, error)

// FindMatches returns every stored candidate matched by at least one strategy.
// A record found by several strategies is reported once, under the first strategy that found it.
// Store failures are returned as errors rather than treated as "no match".
func (e *Engine) FindMatches(ctx context.Context, input models.CandidateInput) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.FindMatches")
	defer span.End()

	log := e.logger.WithContext(ctx)

	strategies := []struct {
		name models.MatchStrategy
		run  strategyFunc
	}{
		{models.MatchStrategyIdentityNumber, e.identityNumberMatches},
		{models.MatchStrategyExternalID, e.externalIDMatches},
		{models.MatchStrategyNameDOB, e.nameDOBMatches},
		{models.MatchStrategyPhone, e.phoneMatches},
	}

	seen := make(map[int64]bool)
	matches := make([]models.MatchCandidate, 0)

	for _, strategy := range strategies {
		found, err := strategy.run(ctx, input)
		if err != nil {
			tracing.RecordError(span, err)
			log.WithError(err).WithField("strategy", string(strategy.name)).Error("Match strategy lookup failed")
			return nil, err
		}

		for _, match := range found {
			if seen[match.Record.ID] {
				continue
			}
			seen[match.Record.ID] = true
			matches = append(matches, match)
			metrics.RecordMatch(string(match.Strategy))
		}
	}

	log.WithFields(map[string]any{
		"match_count": len(matches),
		"candidate_ids": ectolinq.Map(matches, func(m models.MatchCandidate) int64 {
			return m.Record.ID
		}),
	}).Debug("Found matches")

	return matches, nil
}

func (e *Engine) identityNumberMatches(ctx context.Context, input models.CandidateInput) ([]models.MatchCandidate, error) {
	raw := strings.TrimSpace(input.NationalID)
	if raw == "" {
		return nil, nil
	}

	ids := []string{raw}
	if digits := normalizers.NormalizeIdentity(raw); digits != "" && digits != raw {
		ids = append(ids, digits)
	}

	records, err := e.store.FindByNationalID(ctx, ids...)
	if err != nil {
		return nil, err
	}

	return ectolinq.Map(records, func(record models.Candidate) models.MatchCandidate {
		return models.MatchCandidate{
			Record:     record,
			Strategy:   models.MatchStrategyIdentityNumber,
			Confidence: ConfidenceIdentityNumber,
			Reason:     "Exact identity match",
		}
	}), nil
}

func (e *Engine) externalIDMatches(ctx context.Context, input models.CandidateInput) ([]models.MatchCandidate, error) {
	externalID := strings.TrimSpace(input.ExternalID)
	if externalID == "" {
		return nil, nil
	}

	records, err := e.store.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	return ectolinq.Map(records, func(record models.Candidate) models.MatchCandidate {
		return models.MatchCandidate{
			Record:     record,
			Strategy:   models.MatchStrategyExternalID,
			Confidence: ConfidenceExternalID,
			Reason:     "Exact external-id match",
		}
	}), nil
}

func (e *Engine) nameDOBMatches(ctx context.Context, input models.CandidateInput) ([]models.MatchCandidate, error) {
	if normalizers.NormalizeName(input.Name) == "" || strings.TrimSpace(input.DateOfBirth) == "" {
		return nil, nil
	}

	dob, err := input.DOB()
	if err != nil {
		// a malformed date cannot match anything; import validation reports it
		e.logger.WithContext(ctx).WithField("date_of_birth", input.DateOfBirth).Debug("Skipping name+DOB strategy for unparseable date")
		return nil, nil
	}

	records, err := e.store.FindByDateOfBirth(ctx, *dob)
	if err != nil {
		return nil, err
	}

	matches := make([]models.MatchCandidate, 0, len(records))
	for _, record := range records {
		if e.scorer.Similarity(input.Name, record.FullName) < NameDOBMinSimilarity {
			continue
		}
		matches = append(matches, models.MatchCandidate{
			Record:     record,
			Strategy:   models.MatchStrategyNameDOB,
			Confidence: ConfidenceNameDOB,
			Reason:     "Name and date-of-birth match",
		})
	}
	return matches, nil
}

func (e *Engine) phoneMatches(ctx context.Context, input models.CandidateInput) ([]models.MatchCandidate, error) {
	raw := strings.TrimSpace(input.Phone)
	digits := normalizers.NormalizePhone(raw)
	if digits == "" {
		// a digit-free phone would suffix-match every stored phone
		return nil, nil
	}

	records, err := e.store.FindByPhone(ctx, raw, digits)
	if err != nil {
		return nil, err
	}

	matches := make([]models.MatchCandidate, 0, len(records))
	for _, record := range records {
		similarity := 0.0
		if strings.TrimSpace(input.Name) != "" {
			similarity = e.scorer.Similarity(input.Name, record.FullName)
		}

		confidence := ectolinq.Ternary(similarity > PhoneNameSimilarity, ConfidencePhoneNamed, ConfidencePhone)
		matches = append(matches, models.MatchCandidate{
			Record:     record,
			Strategy:   models.MatchStrategyPhone,
			Confidence: confidence,
			Reason:     fmt.Sprintf("Phone match (name similarity: %d%%)", int(math.Round(similarity*100))),
		})
	}
	return matches, nil
}
