// Package testdb opens throwaway SQLite databases carrying the candidate schema.
package testdb

import (
	_ "embed"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Ramsey-B/tulip/pkg/database"
)

//go:embed schema.sql
var schema string

// New returns an in-memory database with the schema applied. It is closed when t finishes.
func New(t testing.TB, logger ectologger.Logger) database.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite3", "file::memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	return database.NewDatabaseInstance(db, sqlbuilder.SQLite, logger)
}

// AddDependent inserts a row into a dependent table and returns its id.
func AddDependent(t testing.TB, db database.DB, table string, candidateID int64) int64 {
	t.Helper()

	if !database.IsIdentifier(table) {
		t.Fatalf("invalid table %q", table)
	}
	result, err := db.SQL().Exec("INSERT INTO "+table+" (candidate_id) VALUES (?)", candidateID)
	if err != nil {
		t.Fatalf("insert into %s: %v", table, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("last insert id: %v", err)
	}
	return id
}

// CountDependents counts rows in table that reference candidateID.
func CountDependents(t testing.TB, db database.DB, table string, candidateID int64) int {
	t.Helper()

	if !database.IsIdentifier(table) {
		t.Fatalf("invalid table %q", table)
	}
	var n int
	if err := db.SQL().QueryRow("SELECT COUNT(*) FROM "+table+" WHERE candidate_id = ?", candidateID).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
