package candidate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/tulip/pkg/database"
	"github.com/Ramsey-B/tulip/pkg/models"
	"github.com/Ramsey-B/tulip/pkg/tracing"
)

const (
	tableName      = "candidates"
	mergeTableName = "candidate_merges"
)

var columns = []string{
	"id", "application_id", "full_name", "national_id", "phone", "date_of_birth", "external_id",
	"status", "guardian_name", "address", "email", "district", "created_by",
	"version", "created_at", "updated_at", "retired_at", "retired_by", "merged_into_id",
}

var validate = validator.New()

// Repository is the PostgreSQL candidate store. It serves the matching lookups,
// import creation and the transactional merge steps.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new candidate repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) selectActive() *sqlbuilder.SelectBuilder {
	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.IsNull("retired_at"))
	sb.OrderBy("id").Asc()
	return sb
}

func (r *Repository) list(ctx context.Context, sb *sqlbuilder.SelectBuilder, operation string) ([]models.Candidate, error) {
	query, args := sb.Build()

	var candidates []models.Candidate
	if err := r.db.Executor(ctx).SelectContext(ctx, &candidates, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("operation", operation).Error("failed to list candidates")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to %s", operation)
	}
	return candidates, nil
}

// Create validates and inserts a candidate, returning it with its assigned id.
func (r *Repository) Create(ctx context.Context, c *models.Candidate) (*models.Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "CandidateRepository.Create")
	defer span.End()

	if err := validate.Struct(c); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	now := time.Now().UTC()
	created := *c
	created.Version = 1
	created.CreatedAt = now
	created.UpdatedAt = now
	created.RetiredAt = nil
	created.MergedIntoID = nil
	created.RetiredBy = ""

	ib := r.db.Flavor().NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols("application_id", "full_name", "national_id", "phone", "date_of_birth", "external_id",
		"status", "guardian_name", "address", "email", "district", "created_by", "version", "created_at", "updated_at")
	ib.Values(created.ApplicationID, created.FullName, created.NationalID, created.Phone, created.DateOfBirth, created.ExternalID,
		created.Status, created.GuardianName, created.Address, created.Email, created.District, created.CreatedBy,
		created.Version, created.CreatedAt, created.UpdatedAt)

	query, args := ib.Build()
	query += " RETURNING id"

	if err := r.db.Executor(ctx).QueryRowxContext(ctx, query, args...).Scan(&created.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, httperror.NewHTTPErrorf(http.StatusConflict, "application id %s already exists", created.ApplicationID)
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to create candidate")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create candidate")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"candidate_id":   created.ID,
		"application_id": created.ApplicationID,
	}).Debug("created candidate")

	return &created, nil
}

// GetByID resolves a candidate. Retired candidates are NotFound unless includeRetired is set.
func (r *Repository) GetByID(ctx context.Context, id int64, includeRetired bool) (*models.Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "CandidateRepository.GetByID")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("id", id))
	if !includeRetired {
		sb.Where(sb.IsNull("retired_at"))
	}

	query, args := sb.Build()

	var c models.Candidate
	if err := r.db.Executor(ctx).GetContext(ctx, &c, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFoundError(id)
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get candidate by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get candidate")
	}

	return &c, nil
}

// FindByNationalID returns active candidates whose identity number equals any of ids.
func (r *Repository) FindByNationalID(ctx context.Context, ids ...string) ([]models.Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "CandidateRepository.FindByNationalID")
	defer span.End()

	ids = ectolinq.Filter(ids, func(id string) bool { return id != "" })
	if len(ids) == 0 {
		return nil, nil
	}

	sb := r.selectActive()
	sb.Where(sb.In("national_id", sqlbuilder.Flatten(ids)...))
	return r.list(ctx, sb, "find candidates by national id")
}

func (r *Repository) FindByExternalID(ctx context.Context, externalID string) ([]models.Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "CandidateRepository.FindByExternalID")
	defer span.End()

	if externalID == "" {
		return nil, nil
	}

	sb := r.selectActive()
	sb.Where(sb.Equal("external_id", externalID))
	return r.list(ctx, sb, "find candidates by external id")
}

func (r *Repository) FindByDateOfBirth(ctx context.Context, dob time.Time) ([]models.Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "CandidateRepository.FindByDateOfBirth")
	defer span.End()

	y, m, d := dob.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	sb := r.selectActive()
	sb.Where(sb.Equal("date_of_birth", day))
	return r.list(ctx, sb, "find candidates by date of birth")
}

// FindByPhone matches the stored phone against the raw input, its digits, or a digits suffix
// so numbers stored with a country code still match a local number.
func (r *Repository) FindByPhone(ctx context.Context, raw, digits string) ([]models.Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "CandidateRepository.FindByPhone")
	defer span.End()

	if digits == "" {
		return nil, nil
	}

	sb := r.selectActive()
	sb.Where(
		sb.NotEqual("phone", ""),
		sb.Or(
			sb.Equal("phone", raw),
			sb.Equal("phone", digits),
			sb.Like("phone", "%"+digits),
		),
	)
	return r.list(ctx, sb, "find candidates by phone")
}

// RunInTx runs fn in a transaction carried on the context handed to fn.
func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.RunInTx(ctx, r.db, nil, fn)
}

// LockCandidates loads the active candidates among ids, locking their rows in ascending id order.
func (r *Repository) LockCandidates(ctx context.Context, ids ...int64) ([]models.Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "CandidateRepository.LockCandidates")
	defer span.End()

	sb := r.selectActive()
	sb.Where(sb.In("id", sqlbuilder.Flatten(ids)...))
	database.ForUpdate(sb, r.db.Flavor())
	return r.list(ctx, sb, "lock candidates")
}

// Repoint moves every row of kind that references fromID to toID and returns how many moved.
func (r *Repository) Repoint(ctx context.Context, kind models.DependentKind, fromID, toID int64) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "CandidateRepository.Repoint")
	defer span.End()

	if !database.IsIdentifier(kind.Table) || !database.IsIdentifier(kind.ForeignKey) {
		return 0, httperror.NewHTTPErrorf(http.StatusInternalServerError, "invalid dependent kind %s", kind.Name)
	}

	ub := r.db.Flavor().NewUpdateBuilder()
	ub.Update(kind.Table)
	ub.Set(ub.Assign(kind.ForeignKey, toID))
	ub.Where(ub.Equal(kind.ForeignKey, fromID))

	query, args := ub.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("kind", kind.Name).Error("failed to repoint dependent records")
		return 0, fmt.Errorf("failed to repoint %s: %w", kind.Name, err)
	}

	return result.RowsAffected()
}

// Retire soft-retires a candidate into mergedInto. It fails with 409 when the row
// changed since it was read at expectedVersion or is already retired.
func (r *Repository) Retire(ctx context.Context, id, mergedInto int64, expectedVersion int, actorID string) error {
	ctx, span := tracing.StartSpan(ctx, "CandidateRepository.Retire")
	defer span.End()

	now := time.Now().UTC()

	ub := r.db.Flavor().NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("retired_at", now),
		ub.Assign("retired_by", actorID),
		ub.Assign("merged_into_id", mergedInto),
		ub.Assign("updated_at", now),
		ub.Incr("version"),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.IsNull("retired_at"),
		ub.Equal("version", expectedVersion),
	)

	query, args := ub.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to retire candidate")
		return fmt.Errorf("failed to retire candidate %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return httperror.NewHTTPErrorf(http.StatusConflict, "candidate %d was modified concurrently", id)
	}
	return nil
}

// RecordMerge appends the merge to the candidate_merges log.
func (r *Repository) RecordMerge(ctx context.Context, record *models.MergeRecord) error {
	ctx, span := tracing.StartSpan(ctx, "CandidateRepository.RecordMerge")
	defer span.End()

	ib := r.db.Flavor().NewInsertBuilder()
	ib.InsertInto(mergeTableName)
	ib.Cols("primary_id", "duplicate_id", "actor_id", "records_updated", "updated_by_kind", "merged_at")
	ib.Values(record.PrimaryID, record.DuplicateID, record.ActorID, record.RecordsUpdated,
		database.NewJSONB(record.UpdatedByKind), record.MergedAt)

	query, args := ib.Build()
	query += " RETURNING id"

	if err := r.db.Executor(ctx).QueryRowxContext(ctx, query, args...).Scan(&record.ID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to record merge")
		return fmt.Errorf("failed to record merge: %w", err)
	}
	return nil
}

// ListMerges returns the merges whose primary is candidateID, newest first.
func (r *Repository) ListMerges(ctx context.Context, candidateID int64) ([]models.MergeRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "CandidateRepository.ListMerges")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select("id", "primary_id", "duplicate_id", "actor_id", "records_updated", "updated_by_kind", "merged_at")
	sb.From(mergeTableName)
	sb.Where(sb.Equal("primary_id", candidateID))
	sb.OrderBy("id").Desc()

	query, args := sb.Build()

	var rows []mergeRow
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list merges")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merges")
	}

	return ectolinq.Map(rows, func(row mergeRow) models.MergeRecord {
		record := row.MergeRecord
		record.UpdatedByKind = row.UpdatedByKind.Data
		return record
	}), nil
}

type mergeRow struct {
	models.MergeRecord
	UpdatedByKind database.JSONB[map[string]int64] `db:"updated_by_kind"`
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
