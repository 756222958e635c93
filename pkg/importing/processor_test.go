package importing

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/tulip/internal/repositories/memory"
	"github.com/Ramsey-B/tulip/pkg/audit"
	"github.com/Ramsey-B/tulip/pkg/matching"
	"github.com/Ramsey-B/tulip/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type recordingSink struct {
	events []audit.Event
}

func (s *recordingSink) Record(_ context.Context, event audit.Event) error {
	s.events = append(s.events, event)
	return nil
}

func newTestProcessor(t *testing.T) (*Processor, *memory.Store, *recordingSink) {
	t.Helper()
	logger := testLogger()
	store := memory.NewStore(logger)
	ranker := matching.NewRanker(logger, matching.NewEngine(logger, store))
	sink := &recordingSink{}
	return NewProcessor(logger, ranker, store, sink), store, sink
}

func TestImportBatch_InvalidRowDoesNotAbort(t *testing.T) {
	p, store, sink := newTestProcessor(t)

	rows := []models.CandidateInput{
		{Name: "Ali Hassan", NationalID: "35202-1111111-1"},
		{Name: "Sana Iqbal", NationalID: "35202-2222222-2"},
		{Name: "", NationalID: "35202-3333333-3"},
		{Name: "Bilal Ahmed", NationalID: "35202-4444444-4"},
		{Name: "Zainab Qureshi", NationalID: "35202-5555555-5"},
	}

	result, err := p.ImportBatch(context.Background(), rows, true, "op-1")
	require.NoError(t, err)

	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 4, result.Imported)
	assert.Empty(t, result.Duplicates)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 3, result.Errors[0].Row)

	found, err := store.FindByNationalID(context.Background(), "35202-4444444-4")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "op-1", found[0].CreatedBy)

	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.ActionBatchImported, sink.events[0].Action)
	assert.Equal(t, 4, sink.events[0].Properties["imported"])
}

func TestImportBatch_Duplicates(t *testing.T) {
	tests := []struct {
		name           string
		skipDuplicates bool
		wantErrors     int
	}{
		{name: "skip duplicates", skipDuplicates: true, wantErrors: 0},
		{name: "report duplicates as errors", skipDuplicates: false, wantErrors: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, store, _ := newTestProcessor(t)
			existing, err := store.Create(context.Background(), &models.Candidate{
				ApplicationID: "APP-2026-EXISTING",
				FullName:      "Ali Hassan",
				NationalID:    "3520211111111",
				Status:        DefaultStatus,
			})
			require.NoError(t, err)

			rows := []models.CandidateInput{
				{Name: "Ali Hassan", NationalID: "35202-1111111-1"},
				{Name: "Sana Iqbal", NationalID: "35202-2222222-2"},
			}
			result, err := p.ImportBatch(context.Background(), rows, tt.skipDuplicates, "op-1")
			require.NoError(t, err)

			assert.Equal(t, 1, result.Imported)
			require.Len(t, result.Duplicates, 1)
			report := result.Duplicates[0]
			assert.Equal(t, 1, report.Row)
			require.Len(t, report.Matches, 1)
			assert.Equal(t, existing.ID, report.Matches[0].CandidateID)
			assert.Equal(t, models.MatchStrategyIdentityNumber, report.Matches[0].Strategy)
			assert.Equal(t, 100, report.Matches[0].Confidence)

			require.Len(t, result.Errors, tt.wantErrors)
			if tt.wantErrors > 0 {
				assert.Equal(t, 1, result.Errors[0].Row)
				assert.Equal(t, "Duplicate detected (confidence: 100%)", result.Errors[0].Message)
			}
		})
	}
}

func TestImportBatch_DuplicateWithinBatch(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	rows := []models.CandidateInput{
		{Name: "Ali Hassan", ExternalID: "ENR-9"},
		{Name: "Ali Hasan", ExternalID: "ENR-9"},
	}
	result, err := p.ImportBatch(context.Background(), rows, true, "op-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Imported)
	require.Len(t, result.Duplicates, 1)
	assert.Equal(t, 2, result.Duplicates[0].Row)
	assert.Equal(t, models.MatchStrategyExternalID, result.Duplicates[0].Matches[0].Strategy)
}

func TestImportBatch_Defaults(t *testing.T) {
	p, store, _ := newTestProcessor(t)
	p.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }

	result, err := p.ImportBatch(context.Background(), []models.CandidateInput{
		{Name: "  Sana Iqbal ", NationalID: "42101-1", DateOfBirth: "1995-04-12"},
	}, true, "op-1")
	require.NoError(t, err)
	require.Equal(t, 1, result.Imported)

	found, err := store.FindByNationalID(context.Background(), "42101-1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	c := found[0]

	assert.Equal(t, "Sana Iqbal", c.FullName)
	assert.Equal(t, DefaultStatus, c.Status)
	assert.Equal(t, DefaultGuardianName, c.GuardianName)
	assert.Equal(t, DefaultAddress, c.Address)
	assert.Equal(t, DefaultDistrict, c.District)
	assert.Regexp(t, regexp.MustCompile(`^APP-2026-[0-9A-F]{8}$`), c.ApplicationID)
	assert.Equal(t, strings.ToLower(c.ApplicationID)+"@"+PlaceholderDomain, c.Email)
	require.NotNil(t, c.DateOfBirth)
	assert.Equal(t, "1995-04-12", c.DateOfBirth.Format(models.DateLayout))
}

func TestImportBatch_InvalidDate(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	result, err := p.ImportBatch(context.Background(), []models.CandidateInput{
		{Name: "Sana Iqbal", DateOfBirth: "12/04/1995"},
	}, true, "op-1")
	require.NoError(t, err)

	assert.Zero(t, result.Imported)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "date_of_birth")
}

func TestImportBatch_Cancelled(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ImportBatch(ctx, []models.CandidateInput{{Name: "Ali"}}, true, "op-1")
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeChecker struct {
	err error
}

func (f fakeChecker) Check(context.Context, models.CandidateInput) (*models.DuplicateCheckResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.DuplicateCheckResult{}, nil
}

type collidingCreator struct {
	conflicts int
	ids       []string
}

func (c *collidingCreator) Create(_ context.Context, candidate *models.Candidate) (*models.Candidate, error) {
	c.ids = append(c.ids, candidate.ApplicationID)
	if len(c.ids) <= c.conflicts {
		return nil, httperror.NewHTTPError(http.StatusConflict, "application id exists")
	}
	return candidate, nil
}

func TestImportBatch_RegeneratesCollidingApplicationID(t *testing.T) {
	creator := &collidingCreator{conflicts: 1}
	p := NewProcessor(testLogger(), fakeChecker{}, creator, nil)

	result, err := p.ImportBatch(context.Background(), []models.CandidateInput{{Name: "Ali"}}, true, "op-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	require.Len(t, creator.ids, 2)
	assert.NotEqual(t, creator.ids[0], creator.ids[1])
}

func TestImportBatch_SuppliedApplicationIDConflictIsRowError(t *testing.T) {
	creator := &collidingCreator{conflicts: 5}
	p := NewProcessor(testLogger(), fakeChecker{}, creator, nil)

	result, err := p.ImportBatch(context.Background(), []models.CandidateInput{{Name: "Ali", ApplicationID: "APP-1"}}, true, "op-1")
	require.NoError(t, err)
	assert.Zero(t, result.Imported)
	assert.Len(t, creator.ids, 1)
	require.Len(t, result.Errors, 1)
}

func TestImportBatch_CheckFailureIsRowError(t *testing.T) {
	p := NewProcessor(testLogger(), fakeChecker{err: errors.New("db down")}, &collidingCreator{}, nil)

	result, err := p.ImportBatch(context.Background(), []models.CandidateInput{{Name: "Ali"}, {Name: "Sana"}}, true, "op-1")
	require.NoError(t, err)
	assert.Zero(t, result.Imported)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, 2, result.Errors[1].Row)
	assert.Equal(t, "db down", result.Errors[0].Message)
}
