package models

// MatchStrategy names the lookup that produced a match.
type MatchStrategy string

const (
	MatchStrategyIdentityNumber MatchStrategy = "identity-number"
	MatchStrategyExternalID     MatchStrategy = "external-id"
	MatchStrategyNameDOB        MatchStrategy = "name-dob"
	MatchStrategyPhone          MatchStrategy = "phone"
)

// Priority orders strategies for tie-breaking; lower runs first.
func (s MatchStrategy) Priority() int {
	switch s {
	case MatchStrategyIdentityNumber:
		return 0
	case MatchStrategyExternalID:
		return 1
	case MatchStrategyNameDOB:
		return 2
	case MatchStrategyPhone:
		return 3
	default:
		return 4
	}
}

// MatchCandidate is one stored record that may be the same person as the input.
type MatchCandidate struct {
	Record     Candidate     `json:"record"`
	Strategy   MatchStrategy `json:"match_type"`
	Confidence int           `json:"confidence"`
	Reason     string        `json:"reason"`
}

// DuplicateCheckResult is the ranked decision for one input.
type DuplicateCheckResult struct {
	IsDuplicate       bool             `json:"is_duplicate"`
	Matches           []MatchCandidate `json:"matches"`
	HighestConfidence int              `json:"highest_confidence"`
}
