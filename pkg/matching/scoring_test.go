package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScorer_Similarity_Identity(t *testing.T) {
	s := NewScorer()

	for _, name := range []string{"Ali Hassan", "", "   ", "Zoë", "Mr Ali", "x"} {
		assert.Equal(t, 1.0, s.Similarity(name, name), name)
	}
	assert.Equal(t, 1.0, s.Similarity("", "Mr."))
	assert.Equal(t, 1.0, s.Similarity("ALI  hassan", "ali hassan"))
}

func TestScorer_Similarity_HonorificsIgnored(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 1.0, s.Similarity("Mr Ali", "Ali"))
	assert.Equal(t, 1.0, s.Similarity("Muhammad Bilal", "Bilal"))
	assert.Equal(t, 1.0, s.Similarity("Dr. Ayesha Khan", "ayesha khan"))
}

func TestScorer_Similarity_HonorificInsideWordKept(t *testing.T) {
	s := NewScorer()

	assert.Less(t, s.Similarity("Drágo Khan", "Ágo Khan"), 1.0)
	assert.Less(t, s.Similarity("Msé Ali", "é Ali"), 1.0)
}

func TestScorer_Similarity_OneEmpty(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 0.0, s.Similarity("Ali", ""))
	assert.Equal(t, 0.0, s.Similarity("", "Ali"))
	assert.Equal(t, 0.0, s.Similarity("Mr", "Ali"))
}

func TestScorer_Similarity_Symmetric(t *testing.T) {
	s := NewScorer()
	pairs := [][2]string{
		{"Ali Hassan", "Ali Hasan"},
		{"Muhammad Bilal", "Bilal Ahmed"},
		{"martha", "marhta"},
		{"dixon", "dicksonx"},
		{"ab", "ba"},
		{"abcabc", "cbacba"},
		{"Fatima", "Fatimah Bibi"},
		{"a", "bcdef"},
	}

	for _, p := range pairs {
		assert.Equal(t, s.Similarity(p[0], p[1]), s.Similarity(p[1], p[0]), "%q vs %q", p[0], p[1])
	}
}

func TestScorer_Similarity_Bounds(t *testing.T) {
	s := NewScorer()
	names := []string{"", "a", "ab", "Ali", "Ali Hassan Shah", "zzzz", "Ayesha", "Ayesha Siddiqa", "ñ"}

	for _, a := range names {
		for _, b := range names {
			score := s.Similarity(a, b)
			assert.GreaterOrEqual(t, score, 0.0, "%q vs %q", a, b)
			assert.LessOrEqual(t, score, 1.0, "%q vs %q", a, b)
		}
	}
}

func TestScorer_Similarity_Containment(t *testing.T) {
	s := NewScorer()

	assert.GreaterOrEqual(t, s.Similarity("ali khan", "ali"), ContainmentFloor)
	assert.GreaterOrEqual(t, s.Similarity("Ali Hassan", "Ali Hassan Shah"), ContainmentFloor)
	assert.GreaterOrEqual(t, s.Similarity("Bilal", "Muhammad Bilal Akhtar"), ContainmentFloor)
}

func TestScorer_Similarity_Dissimilar(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 0.0, s.Similarity("abc", "xyz"))
	assert.Less(t, s.Similarity("Ali Hassan", "Zainab Qureshi"), 0.7)
}

func TestScorer_Similarity_Typo(t *testing.T) {
	s := NewScorer()

	score := s.Similarity("Ali Hassan", "Ali Hasan")
	assert.Greater(t, score, 0.9)
	assert.Less(t, score, 1.0)
}

func TestScorer_Jaro(t *testing.T) {
	s := NewScorer()

	assert.InDelta(t, 0.9444, s.Jaro("MARTHA", "MARHTA"), 0.0001)
	assert.InDelta(t, 0.7667, s.Jaro("DIXON", "DICKSONX"), 0.0001)
	assert.Equal(t, 0.0, s.Jaro("", "abc"))
	assert.Equal(t, 1.0, s.Jaro("abc", "abc"))
	assert.Equal(t, 0.0, s.Jaro("abc", "xyz"))
}

func TestScorer_JaroWinkler(t *testing.T) {
	s := NewScorer()

	assert.InDelta(t, 0.9611, s.JaroWinkler("MARTHA", "MARHTA"), 0.0001)
	assert.InDelta(t, 0.8133, s.JaroWinkler("DIXON", "DICKSONX"), 0.0001)
	assert.InDelta(t, 0.84, s.JaroWinkler("DWAYNE", "DUANE"), 0.0001)
}

func TestScorer_Levenshtein(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 3, s.LevenshteinDistance("kitten", "sitting"))
	assert.Equal(t, 0, s.LevenshteinDistance("", ""))
	assert.Equal(t, 3, s.LevenshteinDistance("", "abc"))
	assert.Equal(t, 1, s.LevenshteinDistance("zoë", "zoe"))
	assert.InDelta(t, 1.0-3.0/7.0, s.Levenshtein("kitten", "sitting"), 1e-9)
	assert.Equal(t, 1.0, s.Levenshtein("", ""))
}
