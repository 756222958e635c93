package merging

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/tulip/internal/repositories/candidate"
	"github.com/Ramsey-B/tulip/internal/repositories/memory"
	"github.com/Ramsey-B/tulip/internal/testdb"
	"github.com/Ramsey-B/tulip/pkg/audit"
	"github.com/Ramsey-B/tulip/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (s *recordingSink) Record(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func createCandidate(t *testing.T, create func(context.Context, *models.Candidate) (*models.Candidate, error), appID, name string) *models.Candidate {
	t.Helper()
	c, err := create(context.Background(), &models.Candidate{ApplicationID: appID, FullName: name, Status: "screening"})
	require.NoError(t, err)
	return c
}

func newMemoryEngine(t *testing.T, sink audit.Sink) (*Engine, *memory.Store) {
	t.Helper()
	kinds := DefaultDependentKinds()
	store := memory.NewStore(testLogger(), TableNames(kinds)...)
	engine, err := NewEngine(testLogger(), store, kinds, nil, sink)
	require.NoError(t, err)
	return engine, store
}

func TestMerge_RepointsAndRetires(t *testing.T) {
	sink := &recordingSink{}
	engine, store := newMemoryEngine(t, sink)
	ctx := context.Background()

	primary := createCandidate(t, store.Create, "APP-P", "Ali Hassan")
	duplicate := createCandidate(t, store.Create, "APP-D", "Ali Hasan")
	store.AddDependent("screenings", duplicate.ID)
	store.AddDependent("screenings", duplicate.ID)
	store.AddDependent("remittances", duplicate.ID)
	store.AddDependent("screenings", primary.ID)

	outcome, err := engine.Merge(ctx, primary.ID, duplicate.ID, "op-1")
	require.NoError(t, err)
	engine.Wait()

	assert.True(t, outcome.Success)
	assert.Equal(t, int64(3), outcome.RecordsUpdated)
	assert.Equal(t, int64(2), outcome.UpdatedByKind["screening"])
	assert.Equal(t, int64(1), outcome.UpdatedByKind["remittance"])
	assert.Equal(t, int64(0), outcome.UpdatedByKind["next_of_kin"])
	assert.Len(t, outcome.UpdatedByKind, 14)

	assert.Len(t, store.Dependents("screenings", primary.ID), 3)
	assert.Empty(t, store.Dependents("screenings", duplicate.ID))
	assert.Len(t, store.Dependents("remittances", primary.ID), 1)

	_, err = store.GetByID(ctx, duplicate.ID, false)
	assert.True(t, models.IsNotFound(err))
	retired, err := store.GetByID(ctx, duplicate.ID, true)
	require.NoError(t, err)
	require.NotNil(t, retired.MergedIntoID)
	assert.Equal(t, primary.ID, *retired.MergedIntoID)
	assert.Equal(t, "op-1", retired.RetiredBy)

	merges, err := store.ListMerges(ctx, primary.ID)
	require.NoError(t, err)
	require.Len(t, merges, 1)
	assert.Equal(t, int64(3), merges[0].RecordsUpdated)

	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.ActionCandidateMerged, sink.events[0].Action)
	assert.Equal(t, primary.ID, sink.events[0].SubjectID)
	assert.Equal(t, duplicate.ID, sink.events[0].Properties["duplicate_id"])
}

func TestMerge_SecondMergeIsNotFound(t *testing.T) {
	engine, store := newMemoryEngine(t, nil)

	primary := createCandidate(t, store.Create, "APP-P", "Ali Hassan")
	duplicate := createCandidate(t, store.Create, "APP-D", "Ali Hasan")

	_, err := engine.Merge(context.Background(), primary.ID, duplicate.ID, "op-1")
	require.NoError(t, err)

	_, err = engine.Merge(context.Background(), primary.ID, duplicate.ID, "op-1")
	assert.True(t, models.IsNotFound(err))

	// a retired candidate cannot absorb others either
	other := createCandidate(t, store.Create, "APP-O", "Ali H")
	_, err = engine.Merge(context.Background(), duplicate.ID, other.ID, "op-1")
	assert.True(t, models.IsNotFound(err))
}

func TestMerge_MissingCandidate(t *testing.T) {
	engine, store := newMemoryEngine(t, nil)
	primary := createCandidate(t, store.Create, "APP-P", "Ali Hassan")

	_, err := engine.Merge(context.Background(), primary.ID, 999, "op-1")
	require.True(t, models.IsNotFound(err))
	assert.Contains(t, err.Error(), "999")
}

func TestMerge_InvalidIDs(t *testing.T) {
	engine, err := NewEngine(testLogger(), panicStore{}, DefaultDependentKinds(), nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name                   string
		primaryID, duplicateID int64
	}{
		{name: "same id", primaryID: 7, duplicateID: 7},
		{name: "zero id", primaryID: 0, duplicateID: 7},
		{name: "negative id", primaryID: 7, duplicateID: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Merge(context.Background(), tt.primaryID, tt.duplicateID, "op-1")
			assert.True(t, models.IsValidation(err))
		})
	}
}

func TestMerge_FailureRollsBack(t *testing.T) {
	kinds := []models.DependentKind{
		{Name: "screening", Table: "screenings", ForeignKey: CandidateForeignKey},
		{Name: "ghost", Table: "ghost_records", ForeignKey: CandidateForeignKey},
	}
	store := memory.NewStore(testLogger(), "screenings")
	engine, err := NewEngine(testLogger(), store, kinds, nil, nil)
	require.NoError(t, err)

	primary := createCandidate(t, store.Create, "APP-P", "Ali Hassan")
	duplicate := createCandidate(t, store.Create, "APP-D", "Ali Hasan")
	store.AddDependent("screenings", duplicate.ID)

	_, err = engine.Merge(context.Background(), primary.ID, duplicate.ID, "op-1")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, models.StatusCode(err))
	assert.Contains(t, err.Error(), "merge rolled back")

	assert.Len(t, store.Dependents("screenings", duplicate.ID), 1)
	got, err := store.GetByID(context.Background(), duplicate.ID, false)
	require.NoError(t, err)
	assert.Nil(t, got.RetiredAt)
}

func TestMerge_AuditFailureIsNotReturned(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	engine, store := newMemoryEngine(t, sink)

	primary := createCandidate(t, store.Create, "APP-P", "Ali Hassan")
	duplicate := createCandidate(t, store.Create, "APP-D", "Ali Hasan")

	outcome, err := engine.Merge(context.Background(), primary.ID, duplicate.ID, "op-1")
	require.NoError(t, err)
	engine.Wait()
	assert.True(t, outcome.Success)
	assert.Len(t, sink.events, 1)
}

type fakeLocker struct {
	ids      []int64
	released bool
	err      error
}

func (l *fakeLocker) LockCandidates(_ context.Context, ids ...int64) (func(), error) {
	l.ids = ids
	if l.err != nil {
		return nil, l.err
	}
	return func() { l.released = true }, nil
}

func TestMerge_Locker(t *testing.T) {
	kinds := DefaultDependentKinds()
	store := memory.NewStore(testLogger(), TableNames(kinds)...)
	primary := createCandidate(t, store.Create, "APP-P", "Ali Hassan")
	duplicate := createCandidate(t, store.Create, "APP-D", "Ali Hasan")

	locker := &fakeLocker{}
	engine, err := NewEngine(testLogger(), store, kinds, locker, nil)
	require.NoError(t, err)

	_, err = engine.Merge(context.Background(), primary.ID, duplicate.ID, "op-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{primary.ID, duplicate.ID}, locker.ids)
	assert.True(t, locker.released)

	busy := &fakeLocker{err: httperror.NewHTTPError(http.StatusConflict, "busy")}
	engine, err = NewEngine(testLogger(), store, kinds, busy, nil)
	require.NoError(t, err)

	other := createCandidate(t, store.Create, "APP-O", "Ali H")
	_, err = engine.Merge(context.Background(), primary.ID, other.ID, "op-1")
	assert.True(t, models.IsConflict(err))
	got, err := store.GetByID(context.Background(), other.ID, false)
	require.NoError(t, err)
	assert.Nil(t, got.RetiredAt)
}

func TestMerge_ConcurrentMergesOfSameDuplicate(t *testing.T) {
	engine, store := newMemoryEngine(t, nil)
	a := createCandidate(t, store.Create, "APP-A", "Ali Hassan")
	b := createCandidate(t, store.Create, "APP-B", "Ali Hasan")
	dup := createCandidate(t, store.Create, "APP-D", "Ali Hassan")
	store.AddDependent("screenings", dup.ID)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, primary := range []int64{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, primary int64) {
			defer wg.Done()
			_, errs[i] = engine.Merge(context.Background(), primary, dup.ID, "op-1")
		}(i, primary)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, models.IsNotFound(err))
	}
	assert.Equal(t, 1, succeeded)
	moved := len(store.Dependents("screenings", a.ID)) + len(store.Dependents("screenings", b.ID))
	assert.Equal(t, 1, moved)
	assert.Empty(t, store.Dependents("screenings", dup.ID))
}

func TestNewEngine_ValidatesKinds(t *testing.T) {
	tests := []struct {
		name  string
		kinds []models.DependentKind
	}{
		{name: "empty", kinds: nil},
		{name: "no name", kinds: []models.DependentKind{{Table: "screenings", ForeignKey: "candidate_id"}}},
		{name: "bad table", kinds: []models.DependentKind{{Name: "x", Table: "screenings; DROP TABLE candidates", ForeignKey: "candidate_id"}}},
		{name: "bad foreign key", kinds: []models.DependentKind{{Name: "x", Table: "screenings", ForeignKey: "candidate id"}}},
		{name: "duplicate table", kinds: []models.DependentKind{
			{Name: "a", Table: "screenings", ForeignKey: "candidate_id"},
			{Name: "b", Table: "screenings", ForeignKey: "candidate_id"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(testLogger(), panicStore{}, tt.kinds, nil, nil)
			assert.Error(t, err)
		})
	}
}

func TestDefaultDependentKinds(t *testing.T) {
	kinds := DefaultDependentKinds()
	require.Len(t, kinds, 14)
	require.NoError(t, validateKinds(kinds))
	assert.Contains(t, TableNames(kinds), "next_of_kin")
	assert.Contains(t, TableNames(kinds), "remittance_beneficiaries")
}

func TestMerge_SQL(t *testing.T) {
	db := testdb.New(t, testLogger())
	repo := candidate.NewRepository(db, testLogger())
	engine, err := NewEngine(testLogger(), repo, DefaultDependentKinds(), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	primary := createCandidate(t, repo.Create, "APP-P", "Ali Hassan")
	duplicate := createCandidate(t, repo.Create, "APP-D", "Ali Hasan")
	for _, table := range TableNames(DefaultDependentKinds()) {
		testdb.AddDependent(t, db, table, duplicate.ID)
	}

	outcome, err := engine.Merge(ctx, primary.ID, duplicate.ID, "op-1")
	require.NoError(t, err)
	assert.Equal(t, int64(14), outcome.RecordsUpdated)

	for _, table := range TableNames(DefaultDependentKinds()) {
		assert.Equal(t, 1, testdb.CountDependents(t, db, table, primary.ID), table)
		assert.Zero(t, testdb.CountDependents(t, db, table, duplicate.ID), table)
	}

	_, err = engine.Merge(ctx, primary.ID, duplicate.ID, "op-1")
	assert.True(t, models.IsNotFound(err))

	merges, err := repo.ListMerges(ctx, primary.ID)
	require.NoError(t, err)
	require.Len(t, merges, 1)
	assert.Equal(t, int64(1), merges[0].UpdatedByKind["next_of_kin"])
}

func TestMerge_SQLRollback(t *testing.T) {
	db := testdb.New(t, testLogger())
	repo := candidate.NewRepository(db, testLogger())
	kinds := append(DefaultDependentKinds(), models.DependentKind{Name: "ghost", Table: "ghost_records", ForeignKey: CandidateForeignKey})
	engine, err := NewEngine(testLogger(), repo, kinds, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	primary := createCandidate(t, repo.Create, "APP-P", "Ali Hassan")
	duplicate := createCandidate(t, repo.Create, "APP-D", "Ali Hasan")
	testdb.AddDependent(t, db, "screenings", duplicate.ID)

	_, err = engine.Merge(ctx, primary.ID, duplicate.ID, "op-1")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, models.StatusCode(err))

	assert.Equal(t, 1, testdb.CountDependents(t, db, "screenings", duplicate.ID))
	got, err := repo.GetByID(ctx, duplicate.ID, false)
	require.NoError(t, err)
	assert.Nil(t, got.RetiredAt)
}

// panicStore fails the test if a merge touches storage.
type panicStore struct{}

func (panicStore) RunInTx(context.Context, func(context.Context) error) error {
	panic("unexpected RunInTx")
}
func (panicStore) LockCandidates(context.Context, ...int64) ([]models.Candidate, error) {
	panic("unexpected LockCandidates")
}
func (panicStore) Repoint(context.Context, models.DependentKind, int64, int64) (int64, error) {
	panic("unexpected Repoint")
}
func (panicStore) Retire(context.Context, int64, int64, int, string) error {
	panic("unexpected Retire")
}
func (panicStore) RecordMerge(context.Context, *models.MergeRecord) error {
	panic("unexpected RecordMerge")
}
