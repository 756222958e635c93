// Package memory is an in-process candidate store with the same contract as the SQL repository.
// It backs local development (DB_DRIVER=memory) and the service-level tests.
package memory

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/tulip/pkg/models"
)

var validate = validator.New()

type state struct {
	candidates      map[int64]models.Candidate
	nextID          int64
	dependents      map[string]map[int64]int64 // table -> row id -> candidate id
	nextDependentID int64
	merges          []models.MergeRecord
}

func (s *state) clone() *state {
	c := &state{
		candidates:      make(map[int64]models.Candidate, len(s.candidates)),
		nextID:          s.nextID,
		dependents:      make(map[string]map[int64]int64, len(s.dependents)),
		nextDependentID: s.nextDependentID,
		merges:          append([]models.MergeRecord(nil), s.merges...),
	}
	for id, candidate := range s.candidates {
		c.candidates[id] = candidate
	}
	for table, rows := range s.dependents {
		copied := make(map[int64]int64, len(rows))
		for id, candidateID := range rows {
			copied[id] = candidateID
		}
		c.dependents[table] = copied
	}
	return c
}

type txKey struct{}

// Store keeps candidates in memory. A transaction works on a copy of the state
// that replaces the live state on commit; transactions and writes are serialized.
type Store struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	live    *state
	logger  ectologger.Logger
}

// NewStore creates an empty store whose dependent tables are tables.
func NewStore(logger ectologger.Logger, tables ...string) *Store {
	st := &state{
		candidates: make(map[int64]models.Candidate),
		dependents: make(map[string]map[int64]int64, len(tables)),
	}
	for _, table := range tables {
		st.dependents[table] = make(map[int64]int64)
	}
	return &Store{live: st, logger: logger}
}

func txState(ctx context.Context) *state {
	st, _ := ctx.Value(txKey{}).(*state)
	return st
}

// read runs fn against the transaction state on ctx or a read-locked live state.
func (s *Store) read(ctx context.Context, fn func(st *state)) {
	if st := txState(ctx); st != nil {
		fn(st)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.live)
}

// write runs fn against the transaction state on ctx, or applies it to the live state
// as its own single-statement transaction.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if st := txState(ctx); st != nil {
		return fn(st)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.live)
}

// RunInTx runs fn against a private copy of the state and publishes it only when fn succeeds.
// A nested call joins the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txState(ctx) != nil {
		return fn(ctx)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	working := s.live.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, working)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.live = working
	s.mu.Unlock()
	return nil
}

func (s *Store) Create(ctx context.Context, c *models.Candidate) (*models.Candidate, error) {
	if err := validate.Struct(c); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var created models.Candidate
	err := s.write(ctx, func(st *state) error {
		for _, existing := range st.candidates {
			if existing.ApplicationID == c.ApplicationID {
				return httperror.NewHTTPErrorf(http.StatusConflict, "application id %s already exists", c.ApplicationID)
			}
		}

		now := time.Now().UTC()
		st.nextID++
		created = *c
		created.ID = st.nextID
		created.Version = 1
		created.CreatedAt = now
		created.UpdatedAt = now
		created.RetiredAt = nil
		created.RetiredBy = ""
		created.MergedIntoID = nil
		st.candidates[created.ID] = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) GetByID(ctx context.Context, id int64, includeRetired bool) (*models.Candidate, error) {
	var (
		found models.Candidate
		ok    bool
	)
	s.read(ctx, func(st *state) {
		found, ok = st.candidates[id]
	})
	if !ok || (found.IsRetired() && !includeRetired) {
		return nil, models.NewNotFoundError(id)
	}
	return &found, nil
}

// active returns the live candidates accepted by keep, in id order.
func (s *Store) active(ctx context.Context, keep func(models.Candidate) bool) []models.Candidate {
	var out []models.Candidate
	s.read(ctx, func(st *state) {
		for _, c := range st.candidates {
			if !c.IsRetired() && keep(c) {
				out = append(out, c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) FindByNationalID(ctx context.Context, ids ...string) ([]models.Candidate, error) {
	return s.active(ctx, func(c models.Candidate) bool {
		if c.NationalID == "" {
			return false
		}
		for _, id := range ids {
			if c.NationalID == id {
				return true
			}
		}
		return false
	}), nil
}

func (s *Store) FindByExternalID(ctx context.Context, externalID string) ([]models.Candidate, error) {
	if externalID == "" {
		return nil, nil
	}
	return s.active(ctx, func(c models.Candidate) bool {
		return c.ExternalID == externalID
	}), nil
}

func (s *Store) FindByDateOfBirth(ctx context.Context, dob time.Time) ([]models.Candidate, error) {
	return s.active(ctx, func(c models.Candidate) bool {
		return models.SameDate(c.DateOfBirth, &dob)
	}), nil
}

func (s *Store) FindByPhone(ctx context.Context, raw, digits string) ([]models.Candidate, error) {
	if digits == "" {
		return nil, nil
	}
	return s.active(ctx, func(c models.Candidate) bool {
		return c.Phone != "" && (c.Phone == raw || c.Phone == digits || strings.HasSuffix(c.Phone, digits))
	}), nil
}

// LockCandidates returns the active candidates among ids. Isolation comes from RunInTx.
func (s *Store) LockCandidates(ctx context.Context, ids ...int64) ([]models.Candidate, error) {
	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	return s.active(ctx, func(c models.Candidate) bool {
		return wanted[c.ID]
	}), nil
}

func (s *Store) Repoint(ctx context.Context, kind models.DependentKind, fromID, toID int64) (int64, error) {
	var moved int64
	err := s.write(ctx, func(st *state) error {
		rows, ok := st.dependents[kind.Table]
		if !ok {
			return fmt.Errorf("failed to repoint %s: unknown table %s", kind.Name, kind.Table)
		}
		for id, candidateID := range rows {
			if candidateID == fromID {
				rows[id] = toID
				moved++
			}
		}
		return nil
	})
	return moved, err
}

func (s *Store) Retire(ctx context.Context, id, mergedInto int64, expectedVersion int, actorID string) error {
	return s.write(ctx, func(st *state) error {
		c, ok := st.candidates[id]
		if !ok || c.IsRetired() || c.Version != expectedVersion {
			return httperror.NewHTTPErrorf(http.StatusConflict, "candidate %d was modified concurrently", id)
		}
		now := time.Now().UTC()
		into := mergedInto
		c.RetiredAt = &now
		c.RetiredBy = actorID
		c.MergedIntoID = &into
		c.UpdatedAt = now
		c.Version++
		st.candidates[id] = c
		return nil
	})
}

func (s *Store) RecordMerge(ctx context.Context, record *models.MergeRecord) error {
	return s.write(ctx, func(st *state) error {
		record.ID = int64(len(st.merges) + 1)
		st.merges = append(st.merges, *record)
		return nil
	})
}

func (s *Store) ListMerges(ctx context.Context, candidateID int64) ([]models.MergeRecord, error) {
	var out []models.MergeRecord
	s.read(ctx, func(st *state) {
		for i := len(st.merges) - 1; i >= 0; i-- {
			if st.merges[i].PrimaryID == candidateID {
				out = append(out, st.merges[i])
			}
		}
	})
	return out, nil
}

// AddDependent inserts a dependent row referencing candidateID and returns its id.
func (s *Store) AddDependent(table string, candidateID int64) int64 {
	var id int64
	_ = s.write(context.Background(), func(st *state) error {
		rows, ok := st.dependents[table]
		if !ok {
			rows = make(map[int64]int64)
			st.dependents[table] = rows
		}
		st.nextDependentID++
		id = st.nextDependentID
		rows[id] = candidateID
		return nil
	})
	return id
}

// Dependents returns the ids of rows in table that reference candidateID.
func (s *Store) Dependents(table string, candidateID int64) []int64 {
	var out []int64
	s.read(context.Background(), func(st *state) {
		for id, owner := range st.dependents[table] {
			if owner == candidateID {
				out = append(out, id)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
