package models

import (
	"strings"
	"time"
)

// DateLayout is the wire and storage format of a date of birth.
const DateLayout = "2006-01-02"

// Candidate is the persisted person record being deduplicated.
type Candidate struct {
	ID            int64      `json:"id" db:"id"`
	ApplicationID string     `json:"application_id" db:"application_id"`
	FullName      string     `json:"full_name" db:"full_name" validate:"required,max=255"`
	NationalID    string     `json:"national_id,omitempty" db:"national_id" validate:"max=32"`
	Phone         string     `json:"phone,omitempty" db:"phone" validate:"max=32"`
	DateOfBirth   *time.Time `json:"date_of_birth,omitempty" db:"date_of_birth"`
	ExternalID    string     `json:"external_id,omitempty" db:"external_id" validate:"max=64"`
	Status        string     `json:"status" db:"status" validate:"required"`
	GuardianName  string     `json:"guardian_name" db:"guardian_name"`
	Address       string     `json:"address" db:"address"`
	Email         string     `json:"email" db:"email" validate:"omitempty,email"`
	District      string     `json:"district" db:"district"`
	CreatedBy     string     `json:"created_by,omitempty" db:"created_by"`
	Version       int        `json:"version" db:"version"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	RetiredAt     *time.Time `json:"retired_at,omitempty" db:"retired_at"`
	RetiredBy     string     `json:"retired_by,omitempty" db:"retired_by"`
	MergedIntoID  *int64     `json:"merged_into_id,omitempty" db:"merged_into_id"`
}

// IsRetired reports whether the candidate has been soft-retired by a merge.
func (c *Candidate) IsRetired() bool {
	return c.RetiredAt != nil
}

// CandidateInput carries whichever candidate attributes the caller has.
// Absent matchable fields skip their strategy; the intake fields only matter on import.
type CandidateInput struct {
	Name        string `json:"name" validate:"max=255"`
	NationalID  string `json:"national_id" validate:"max=32"`
	Phone       string `json:"phone" validate:"max=32"`
	DateOfBirth string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	ExternalID  string `json:"external_id" validate:"max=64"`

	ApplicationID string `json:"application_id,omitempty"`
	Status        string `json:"status,omitempty"`
	GuardianName  string `json:"guardian_name,omitempty"`
	Address       string `json:"address,omitempty"`
	Email         string `json:"email,omitempty" validate:"omitempty,email"`
	District      string `json:"district,omitempty"`
}

// DOB parses DateOfBirth. It returns nil for an empty value.
func (in CandidateInput) DOB() (*time.Time, error) {
	return ParseDate(in.DateOfBirth)
}

// ParseDate parses a YYYY-MM-DD date at UTC midnight. Blank input yields nil.
func ParseDate(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SameDate compares the calendar dates of a and b. Nil never matches.
func SameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return false
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
