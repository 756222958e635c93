// Package merging folds a duplicate candidate into a primary one: every dependent record is
// repointed and the duplicate is soft-retired, all in one transaction.
package merging

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/tulip/pkg/audit"
	"github.com/Ramsey-B/tulip/pkg/metrics"
	"github.com/Ramsey-B/tulip/pkg/models"
	"github.com/Ramsey-B/tulip/pkg/tracing"
)

const auditTimeout = 10 * time.Second

// Store is the transactional persistence a merge runs against. Calls made with the context
// handed to RunInTx's fn join that transaction.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockCandidates(ctx context.Context, ids ...int64) ([]models.Candidate, error)
	Repoint(ctx context.Context, kind models.DependentKind, fromID, toID int64) (int64, error)
	Retire(ctx context.Context, id, mergedInto int64, expectedVersion int, actorID string) error
	RecordMerge(ctx context.Context, record *models.MergeRecord) error
}

// Locker serializes merges that share a candidate across processes. The returned func releases.
type Locker interface {
	LockCandidates(ctx context.Context, ids ...int64) (func(), error)
}

// Engine handles candidate merging
type Engine struct {
	logger  ectologger.Logger
	store   Store
	kinds   []models.DependentKind
	locker  Locker
	sink    audit.Sink
	pending sync.WaitGroup
}

// NewEngine creates a merge engine over kinds. locker and sink may be nil.
func NewEngine(logger ectologger.Logger, store Store, kinds []models.DependentKind, locker Locker, sink audit.Sink) (*Engine, error) {
	if err := validateKinds(kinds); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Engine{
		logger: logger,
		store:  store,
		kinds:  append([]models.DependentKind(nil), kinds...),
		locker: locker,
		sink:   sink,
	}, nil
}

// Merge repoints every dependent record of duplicateID to primaryID and retires duplicateID.
// Either candidate missing or already retired is a 404; a concurrent change is a 409; any other
// failure rolls the whole merge back and is reported as a 500.
func (e *Engine) Merge(ctx context.Context, primaryID, duplicateID int64, actorID string) (*models.MergeOutcome, error) {
	if primaryID == duplicateID {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "cannot merge a candidate into itself")
	}
	if primaryID <= 0 || duplicateID <= 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "candidate ids must be positive")
	}

	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Merge",
		attribute.Int64("primary_id", primaryID),
		attribute.Int64("duplicate_id", duplicateID),
	)
	defer span.End()

	start := time.Now()
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"primary_id":   primaryID,
		"duplicate_id": duplicateID,
		"actor_id":     actorID,
	})

	if e.locker != nil {
		unlock, err := e.locker.LockCandidates(ctx, primaryID, duplicateID)
		if err != nil {
			tracing.RecordError(span, err)
			metrics.RecordMerge(mergeResult(err), time.Since(start).Seconds(), nil)
			log.WithError(err).Warn("Failed to acquire merge lock")
			return nil, err
		}
		defer unlock()
	}

	outcome := &models.MergeOutcome{
		PrimaryID:     primaryID,
		DuplicateID:   duplicateID,
		UpdatedByKind: make(map[string]int64, len(e.kinds)),
	}

	err := e.store.RunInTx(ctx, func(ctx context.Context) error {
		return e.mergeInTx(ctx, outcome, actorID)
	})
	if err != nil {
		err = classify(err)
		tracing.RecordError(span, err)
		metrics.RecordMerge(mergeResult(err), time.Since(start).Seconds(), nil)
		log.WithError(err).Error("Merge failed")
		return nil, err
	}

	outcome.Success = true
	outcome.Message = fmt.Sprintf("Merged candidate %d into %d; %d records updated", duplicateID, primaryID, outcome.RecordsUpdated)

	metrics.RecordMerge("success", time.Since(start).Seconds(), outcome.UpdatedByKind)
	log.WithFields(map[string]any{
		"records_updated": outcome.RecordsUpdated,
		"updated_by_kind": outcome.UpdatedByKind,
	}).Info("Merged candidates")

	e.notify(ctx, outcome, actorID)
	return outcome, nil
}

func (e *Engine) mergeInTx(ctx context.Context, outcome *models.MergeOutcome, actorID string) error {
	locked, err := e.store.LockCandidates(ctx, outcome.PrimaryID, outcome.DuplicateID)
	if err != nil {
		return err
	}

	primary := ectolinq.Find(locked, func(c models.Candidate) bool { return c.ID == outcome.PrimaryID })
	if primary.ID == 0 {
		return models.NewNotFoundError(outcome.PrimaryID)
	}
	duplicate := ectolinq.Find(locked, func(c models.Candidate) bool { return c.ID == outcome.DuplicateID })
	if duplicate.ID == 0 {
		return models.NewNotFoundError(outcome.DuplicateID)
	}

	for _, kind := range e.kinds {
		moved, err := e.store.Repoint(ctx, kind, outcome.DuplicateID, outcome.PrimaryID)
		if err != nil {
			return err
		}
		outcome.UpdatedByKind[kind.Name] = moved
		outcome.RecordsUpdated += moved
	}

	if err := e.store.Retire(ctx, outcome.DuplicateID, outcome.PrimaryID, duplicate.Version, actorID); err != nil {
		return err
	}

	return e.store.RecordMerge(ctx, &models.MergeRecord{
		PrimaryID:      outcome.PrimaryID,
		DuplicateID:    outcome.DuplicateID,
		ActorID:        actorID,
		RecordsUpdated: outcome.RecordsUpdated,
		UpdatedByKind:  outcome.UpdatedByKind,
		MergedAt:       time.Now().UTC(),
	})
}

// notify hands the committed merge to the audit sink without blocking the caller.
func (e *Engine) notify(ctx context.Context, outcome *models.MergeOutcome, actorID string) {
	event := audit.Event{
		Action:    audit.ActionCandidateMerged,
		ActorID:   actorID,
		SubjectID: outcome.PrimaryID,
		Properties: map[string]any{
			"duplicate_id":    outcome.DuplicateID,
			"records_updated": outcome.RecordsUpdated,
			"updated_by_kind": outcome.UpdatedByKind,
		},
		OccurredAt: time.Now().UTC(),
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		defer cancel()
		if err := e.sink.Record(auditCtx, event); err != nil {
			e.logger.WithContext(auditCtx).WithError(err).WithField("primary_id", outcome.PrimaryID).Warn("Failed to record merge audit event")
		}
	}()
}

// Wait blocks until every pending audit notification has finished.
func (e *Engine) Wait() {
	e.pending.Wait()
}

// classify keeps not-found and conflict errors and reports everything else as a rolled back merge.
func classify(err error) error {
	if models.IsNotFound(err) || models.IsConflict(err) {
		return err
	}
	return httperror.NewHTTPErrorf(http.StatusInternalServerError, "merge rolled back: %v", err)
}

func mergeResult(err error) string {
	switch {
	case models.IsNotFound(err):
		return "not_found"
	case models.IsConflict(err):
		return "conflict"
	default:
		return "rolled_back"
	}
}
