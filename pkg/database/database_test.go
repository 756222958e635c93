package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/tulip/internal/testdb"
	"github.com/Ramsey-B/tulip/pkg/database"
)

func TestIsIdentifier(t *testing.T) {
	assert.True(t, database.IsIdentifier("next_of_kin"))
	assert.True(t, database.IsIdentifier("candidate_id"))
	assert.False(t, database.IsIdentifier(""))
	assert.False(t, database.IsIdentifier("1table"))
	assert.False(t, database.IsIdentifier("screenings; DROP TABLE candidates"))
	assert.False(t, database.IsIdentifier("Screenings"))
}

func TestForUpdate(t *testing.T) {
	pg := sqlbuilder.PostgreSQL.NewSelectBuilder().Select("id").From("candidates")
	sql, _ := database.ForUpdate(pg, sqlbuilder.PostgreSQL).Build()
	assert.Contains(t, sql, "FOR UPDATE")

	lite := sqlbuilder.SQLite.NewSelectBuilder().Select("id").From("candidates")
	sql, _ = database.ForUpdate(lite, sqlbuilder.SQLite).Build()
	assert.NotContains(t, sql, "FOR UPDATE")
}

func TestJSONB(t *testing.T) {
	value, err := database.NewJSONB(map[string]int64{"screening": 2}).Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"screening":2}`, value.(string))

	var scanned database.JSONB[map[string]int64]
	require.NoError(t, scanned.Scan([]byte(`{"remittance":1}`)))
	assert.Equal(t, int64(1), scanned.Data["remittance"])

	require.NoError(t, scanned.Scan(nil))
	assert.Nil(t, scanned.Data)

	assert.Error(t, scanned.Scan(42))
}

func TestRunInTx(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	db := testdb.New(t, logger)
	ctx := context.Background()

	insert := func(ctx context.Context, appID string) error {
		_, err := db.Executor(ctx).ExecContext(ctx,
			"INSERT INTO candidates (application_id, full_name, status, created_at, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)", appID, "Ali", "screening")
		return err
	}
	count := func() int {
		var n int
		require.NoError(t, db.SQL().QueryRow("SELECT COUNT(*) FROM candidates").Scan(&n))
		return n
	}

	boom := errors.New("boom")
	err := database.RunInTx(ctx, db, nil, func(ctx context.Context) error {
		require.NotNil(t, database.TxFromContext(ctx))
		require.NoError(t, insert(ctx, "APP-1"))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, count())

	err = database.RunInTx(ctx, db, nil, func(ctx context.Context) error {
		if err := insert(ctx, "APP-1"); err != nil {
			return err
		}
		// a nested call joins the outer transaction
		return database.RunInTx(ctx, db, nil, func(ctx context.Context) error {
			return insert(ctx, "APP-2")
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count())
}
