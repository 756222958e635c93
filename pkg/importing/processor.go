// Package importing runs a batch of candidate rows through duplicate detection and creation.
package importing

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/tulip/pkg/audit"
	"github.com/Ramsey-B/tulip/pkg/metrics"
	"github.com/Ramsey-B/tulip/pkg/models"
	"github.com/Ramsey-B/tulip/pkg/normalizers"
	"github.com/Ramsey-B/tulip/pkg/tracing"
)

// Defaults for intake fields a row may leave blank.
const (
	DefaultStatus       = "screening"
	DefaultGuardianName = "Not Provided"
	DefaultAddress      = "Not Provided"
	DefaultDistrict     = "Unknown"
	PlaceholderDomain   = "placeholder.invalid"

	applicationIDAttempts = 3
)

// Checker decides whether an input duplicates a stored candidate. *matching.Ranker implements it.
type Checker interface {
	Check(ctx context.Context, input models.CandidateInput) (*models.DuplicateCheckResult, error)
}

// Creator persists a new candidate.
type Creator interface {
	Create(ctx context.Context, c *models.Candidate) (*models.Candidate, error)
}

// Processor imports rows independently; one bad row never aborts the batch.
type Processor struct {
	logger  ectologger.Logger
	checker Checker
	creator Creator
	sink    audit.Sink
	now     func() time.Time
}

func NewProcessor(logger ectologger.Logger, checker Checker, creator Creator, sink audit.Sink) *Processor {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Processor{
		logger:  logger,
		checker: checker,
		creator: creator,
		sink:    sink,
		now:     time.Now,
	}
}

// ImportBatch checks and creates each row in order. Duplicates are always reported and never
// imported; with skipDuplicates false they are also listed as row errors. The error return is
// reserved for a cancelled context.
func (p *Processor) ImportBatch(ctx context.Context, rows []models.CandidateInput, skipDuplicates bool, actorID string) (*models.ImportResult, error) {
	ctx, span := tracing.StartSpan(ctx, "importing.Processor.ImportBatch")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"rows":            len(rows),
		"skip_duplicates": skipDuplicates,
		"actor_id":        actorID,
	})

	result := &models.ImportResult{
		Duplicates: []models.DuplicateReport{},
		Errors:     []models.RowError{},
		Total:      len(rows),
	}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Warnf("Import cancelled after %d of %d rows", i, len(rows))
			return nil, err
		}
		p.importRow(ctx, i+1, row, skipDuplicates, actorID, result)
	}

	log.WithFields(map[string]any{
		"imported":   result.Imported,
		"duplicates": len(result.Duplicates),
		"errors":     len(result.Errors),
	}).Info("Batch import complete")

	p.audit(ctx, actorID, result)
	return result, nil
}

func (p *Processor) importRow(ctx context.Context, rowNum int, row models.CandidateInput, skipDuplicates bool, actorID string, result *models.ImportResult) {
	log := p.logger.WithContext(ctx).WithField("row", rowNum)

	check, err := p.checker.Check(ctx, row)
	if err != nil {
		log.WithError(err).Warn("Duplicate check failed for import row")
		p.rowError(result, rowNum, row, err.Error())
		return
	}

	if check.IsDuplicate {
		metrics.RecordImportRow("duplicate")
		result.Duplicates = append(result.Duplicates, duplicateReport(rowNum, row, check))
		if !skipDuplicates {
			result.Errors = append(result.Errors, models.RowError{
				Row:     rowNum,
				Name:    row.Name,
				Message: fmt.Sprintf("Duplicate detected (confidence: %d%%)", check.HighestConfidence),
			})
		}
		log.WithField("confidence", check.HighestConfidence).Debug("Import row is a duplicate")
		return
	}

	candidate, err := p.candidateFromRow(row, actorID)
	if err != nil {
		p.rowError(result, rowNum, row, err.Error())
		return
	}

	if _, err := p.create(ctx, candidate, row.ApplicationID == ""); err != nil {
		log.WithError(err).Debug("Failed to create import row")
		p.rowError(result, rowNum, row, err.Error())
		return
	}

	metrics.RecordImportRow("imported")
	result.Imported++
}

// create retries on an application id collision when the id was generated here.
func (p *Processor) create(ctx context.Context, candidate *models.Candidate, generatedID bool) (*models.Candidate, error) {
	for attempt := 1; ; attempt++ {
		created, err := p.creator.Create(ctx, candidate)
		if err == nil || !generatedID || !models.IsConflict(err) || attempt == applicationIDAttempts {
			return created, err
		}
		candidate.ApplicationID = p.applicationID()
		candidate.Email = placeholderEmail(candidate.ApplicationID)
	}
}

func (p *Processor) rowError(result *models.ImportResult, rowNum int, row models.CandidateInput, message string) {
	metrics.RecordImportRow("error")
	result.Errors = append(result.Errors, models.RowError{
		Row:     rowNum,
		Name:    row.Name,
		Message: message,
	})
}

// candidateFromRow fills the intake defaults a row leaves blank.
func (p *Processor) candidateFromRow(row models.CandidateInput, actorID string) (*models.Candidate, error) {
	dob, err := row.DOB()
	if err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid date_of_birth %q: expected YYYY-MM-DD", row.DateOfBirth)
	}

	applicationID := strings.TrimSpace(row.ApplicationID)
	if applicationID == "" {
		applicationID = p.applicationID()
	}

	email := normalizers.NormalizeEmail(row.Email)
	if email == "" {
		email = placeholderEmail(applicationID)
	}

	return &models.Candidate{
		ApplicationID: applicationID,
		FullName:      strings.TrimSpace(row.Name),
		NationalID:    strings.TrimSpace(row.NationalID),
		Phone:         strings.TrimSpace(row.Phone),
		DateOfBirth:   dob,
		ExternalID:    strings.TrimSpace(row.ExternalID),
		Status:        orDefault(row.Status, DefaultStatus),
		GuardianName:  orDefault(row.GuardianName, DefaultGuardianName),
		Address:       orDefault(row.Address, DefaultAddress),
		Email:         email,
		District:      orDefault(row.District, DefaultDistrict),
		CreatedBy:     actorID,
	}, nil
}

// applicationID returns APP-<year>-<8 uppercase hex chars>.
func (p *Processor) applicationID() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("APP-%d-%s", p.now().UTC().Year(), suffix)
}

func placeholderEmail(applicationID string) string {
	return strings.ToLower(applicationID) + "@" + PlaceholderDomain
}

func orDefault(value, fallback string) string {
	return ectolinq.Ternary(strings.TrimSpace(value) == "", fallback, strings.TrimSpace(value))
}

func duplicateReport(rowNum int, row models.CandidateInput, check *models.DuplicateCheckResult) models.DuplicateReport {
	return models.DuplicateReport{
		Row:        rowNum,
		Name:       row.Name,
		NationalID: row.NationalID,
		Phone:      row.Phone,
		Matches: ectolinq.Map(check.Matches, func(m models.MatchCandidate) models.DuplicateMatch {
			return models.DuplicateMatch{
				CandidateID:   m.Record.ID,
				ApplicationID: m.Record.ApplicationID,
				Name:          m.Record.FullName,
				NationalID:    m.Record.NationalID,
				Phone:         m.Record.Phone,
				Strategy:      m.Strategy,
				Confidence:    m.Confidence,
				Reason:        m.Reason,
			}
		}),
	}
}

func (p *Processor) audit(ctx context.Context, actorID string, result *models.ImportResult) {
	err := p.sink.Record(ctx, audit.Event{
		Action:  audit.ActionBatchImported,
		ActorID: actorID,
		Properties: map[string]any{
			"total":      result.Total,
			"imported":   result.Imported,
			"duplicates": len(result.Duplicates),
			"errors":     len(result.Errors),
		},
		OccurredAt: p.now().UTC(),
	})
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to record import audit event")
	}
}
