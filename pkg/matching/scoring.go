package matching

import (
	"strings"

	"github.com/Ramsey-B/tulip/pkg/normalizers"
)

const (
	// ContainmentFloor is the minimum similarity of two names where one contains the other.
	ContainmentFloor = 0.85

	winklerPrefixLimit   = 4
	winklerScalingFactor = 0.1
)

// Scorer provides the name comparison algorithms used by the strategies
type Scorer struct{}

// NewScorer creates a new Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Similarity compares two free-text names and returns a score in [0, 1].
// Both names are normalized first; the score blends Levenshtein and Jaro-Winkler
// and is raised to ContainmentFloor when one name contains the other.
func (s *Scorer) Similarity(a, b string) float64 {
	a = normalizers.NormalizeName(a)
	b = normalizers.NormalizeName(b)

	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	// greedy Jaro matching depends on argument order, so score a canonical ordering
	if a > b {
		a, b = b, a
	}

	ra, rb := []rune(a), []rune(b)
	similarity := (levenshteinSimilarity(ra, rb) + jaroWinkler(ra, rb)) / 2

	if strings.Contains(a, b) || strings.Contains(b, a) {
		similarity = max(similarity, ContainmentFloor)
	}

	return clamp(similarity)
}

// JaroWinkler calculates the Jaro-Winkler similarity between two strings
// Returns a value between 0.0 (no similarity) and 1.0 (exact match)
func (s *Scorer) JaroWinkler(a, b string) float64 {
	return jaroWinkler([]rune(a), []rune(b))
}

// Jaro calculates the Jaro similarity between two strings
func (s *Scorer) Jaro(a, b string) float64 {
	return jaro([]rune(a), []rune(b))
}

// Levenshtein returns 1 - distance/maxLen, so 1.0 means identical
func (s *Scorer) Levenshtein(a, b string) float64 {
	return levenshteinSimilarity([]rune(a), []rune(b))
}

// LevenshteinDistance calculates the edit distance between two strings
func (s *Scorer) LevenshteinDistance(a, b string) int {
	return levenshteinDistance([]rune(a), []rune(b))
}

func jaroWinkler(a, b []rune) float64 {
	j := jaro(a, b)

	prefix := 0
	for i := 0; i < len(a) && i < len(b) && i < winklerPrefixLimit; i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}

	return j + float64(prefix)*winklerScalingFactor*(1.0-j)
}

func jaro(a, b []rune) float64 {
	if runesEqual(a, b) {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	// characters match when they sit within window positions of each other
	window := max(len(a), len(b))/2 - 1
	if window < 0 {
		window = 0
	}

	aMatched := make([]bool, len(a))
	bMatched := make([]bool, len(b))
	matches := 0

	for i := range a {
		start := max(0, i-window)
		end := min(len(b), i+window+1)
		for j := start; j < end; j++ {
			if bMatched[j] || a[i] != b[j] {
				continue
			}
			aMatched[i] = true
			bMatched[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := range a {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2

	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

func levenshteinSimilarity(a, b []rune) float64 {
	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshteinDistance(a, b))/float64(maxLen)
}

func levenshteinDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prevRow := make([]int, len(b)+1)
	row := make([]int, len(b)+1)
	for j := range prevRow {
		prevRow[j] = j
	}

	for i := 1; i <= len(a); i++ {
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			row[j] = min(row[j-1]+1, prevRow[j]+1, prevRow[j-1]+cost)
		}
		row, prevRow = prevRow, row
	}

	return prevRow[len(b)]
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
