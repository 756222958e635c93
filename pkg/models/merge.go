package models

import "time"

// MergeOutcome reports a committed merge.
type MergeOutcome struct {
	PrimaryID      int64            `json:"primary_id"`
	DuplicateID    int64            `json:"duplicate_id"`
	RecordsUpdated int64            `json:"records_updated"`
	UpdatedByKind  map[string]int64 `json:"updated_by_kind"`
	Success        bool             `json:"success"`
	Message        string           `json:"message"`
}

// MergeRequest is the body of a merge call.
type MergeRequest struct {
	PrimaryID   int64 `json:"primary_id" validate:"required,gt=0"`
	DuplicateID int64 `json:"duplicate_id" validate:"required,gt=0,nefield=PrimaryID"`
}

// DependentKind describes a table whose rows reference a candidate through ForeignKey.
type DependentKind struct {
	Name       string `json:"name"`
	Table      string `json:"table"`
	ForeignKey string `json:"foreign_key"`
}

// MergeRecord is the persisted log entry written in the same transaction as a merge.
type MergeRecord struct {
	ID             int64            `json:"id" db:"id"`
	PrimaryID      int64            `json:"primary_id" db:"primary_id"`
	DuplicateID    int64            `json:"duplicate_id" db:"duplicate_id"`
	ActorID        string           `json:"actor_id" db:"actor_id"`
	RecordsUpdated int64            `json:"records_updated" db:"records_updated"`
	UpdatedByKind  map[string]int64 `json:"updated_by_kind" db:"-"`
	MergedAt       time.Time        `json:"merged_at" db:"merged_at"`
}

// Lineage lists the candidates merged into CandidateID directly or through earlier merges.
type Lineage struct {
	CandidateID int64   `json:"candidate_id"`
	MergedIDs   []int64 `json:"merged_ids"`
	Source      string  `json:"source"`
}
