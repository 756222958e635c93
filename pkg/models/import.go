package models

// ImportResult summarizes a batch import. Errors and Duplicates are reported per 1-based row.
type ImportResult struct {
	Imported   int               `json:"imported"`
	Duplicates []DuplicateReport `json:"duplicates"`
	Errors     []RowError        `json:"errors"`
	Total      int               `json:"total"`
}

type DuplicateReport struct {
	Row        int              `json:"row"`
	Name       string           `json:"name"`
	NationalID string           `json:"national_id,omitempty"`
	Phone      string           `json:"phone,omitempty"`
	Matches    []DuplicateMatch `json:"matches"`
}

type DuplicateMatch struct {
	CandidateID   int64         `json:"candidate_id"`
	ApplicationID string        `json:"application_id,omitempty"`
	Name          string        `json:"name"`
	NationalID    string        `json:"national_id,omitempty"`
	Phone         string        `json:"phone,omitempty"`
	Strategy      MatchStrategy `json:"match_type"`
	Confidence    int           `json:"confidence"`
	Reason        string        `json:"reason"`
}

type RowError struct {
	Row     int    `json:"row"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
}

// ImportRequest is the body of a batch import. Rows are validated one by one during the import.
type ImportRequest struct {
	Rows           []CandidateInput `json:"rows" validate:"required,min=1"`
	SkipDuplicates bool             `json:"skip_duplicates"`
}
