// Package vectorspace builds the shared TF-IDF term-weight model over the
// report corpus and projects query text into it.
package vectorspace

import (
	"errors"
	"math"
	"sort"
)

// Errors returned by projection operations.
var (
	// ErrNotBuilt is returned when a projection is attempted before any fit.
	ErrNotBuilt = errors.New("vectorspace: space not built")
	// ErrOutOfVocabulary is returned when no term of the text exists in the
	// current vocabulary. Callers treat this as "no match possible", not as
	// a failure.
	ErrOutOfVocabulary = errors.New("vectorspace: text has no known terms")
)

// State describes the lifecycle of the vector space.
type State int

const (
	// StateEmpty means no corpus has been fit; similarity is undefined.
	StateEmpty State = iota
	// StateBuilt means vocabulary and document rows cover some corpus.
	StateBuilt
)

// TermsFunc turns raw text into model terms.
type TermsFunc func(text string) []string

// Space is a TF-IDF vector space fit over the full report corpus.
//
// Every Fit replaces the vocabulary and all document rows and advances the
// version; there is no incremental update. Rows are L2-normalized, so the
// cosine similarity of two rows is their dot product.
type Space struct {
	terms       TermsFunc
	maxFeatures int

	state   State
	version int
	vocab   map[string]int
	idf     []float64
	rows    [][]float64
}

// New creates an empty Space. maxFeatures caps the vocabulary at the
// highest-frequency terms; zero or negative means unbounded.
func New(terms TermsFunc, maxFeatures int) *Space {
	return &Space{terms: terms, maxFeatures: maxFeatures}
}

// Fit replaces the model with one fit over corpus. An empty corpus resets
// the space to StateEmpty.
func (s *Space) Fit(corpus []string) {
	s.version++
	if len(corpus) == 0 {
		s.state = StateEmpty
		s.vocab = nil
		s.idf = nil
		s.rows = nil
		return
	}

	docTerms := make([][]string, len(corpus))
	counts := make(map[string]int)
	df := make(map[string]int)
	for i, text := range corpus {
		docTerms[i] = s.terms(text)
		seen := make(map[string]bool, len(docTerms[i]))
		for _, term := range docTerms[i] {
			counts[term]++
			if !seen[term] {
				seen[term] = true
				df[term]++
			}
		}
	}

	s.vocab = buildVocabulary(counts, s.maxFeatures)

	// Smoothed idf: ln((1+n)/(1+df)) + 1. Keeps terms present in every
	// document at a positive weight.
	n := float64(len(corpus))
	s.idf = make([]float64, len(s.vocab))
	for term, col := range s.vocab {
		s.idf[col] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}

	s.rows = make([][]float64, len(corpus))
	for i := range docTerms {
		s.rows[i], _ = s.project(docTerms[i])
	}
	s.state = StateBuilt
}

// buildVocabulary keeps the max highest-count terms (count descending,
// lexicographic tie break) and assigns columns in lexicographic order.
func buildVocabulary(counts map[string]int, max int) map[string]int {
	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if max > 0 && len(terms) > max {
		terms = terms[:max]
	}
	sort.Strings(terms)
	vocab := make(map[string]int, len(terms))
	for col, term := range terms {
		vocab[term] = col
	}
	return vocab
}

// project builds the L2-normalized tf-idf row for the given terms.
// ok is false when no term is in the vocabulary; the row is then all zeros.
func (s *Space) project(terms []string) ([]float64, bool) {
	row := make([]float64, len(s.vocab))
	known := false
	for _, term := range terms {
		if col, ok := s.vocab[term]; ok {
			row[col]++
			known = true
		}
	}
	if !known {
		return row, false
	}
	var norm float64
	for col := range row {
		row[col] *= s.idf[col]
		norm += row[col] * row[col]
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for col := range row {
			row[col] /= norm
		}
	}
	return row, true
}

// Transform projects text into the current vocabulary.
func (s *Space) Transform(text string) ([]float64, error) {
	if s.state != StateBuilt {
		return nil, ErrNotBuilt
	}
	row, ok := s.project(s.terms(text))
	if !ok {
		return nil, ErrOutOfVocabulary
	}
	return row, nil
}

// Row returns the fitted vector of document i.
func (s *Space) Row(i int) ([]float64, bool) {
	if s.state != StateBuilt || i < 0 || i >= len(s.rows) {
		return nil, false
	}
	return s.rows[i], true
}

// Len returns the number of fitted documents.
func (s *Space) Len() int {
	return len(s.rows)
}

// State returns the lifecycle state of the space.
func (s *Space) State() State {
	return s.state
}

// Version returns the model version; it advances on every Fit.
func (s *Space) Version() int {
	return s.version
}

// VocabularySize returns the number of terms in the current vocabulary.
func (s *Space) VocabularySize() int {
	return len(s.vocab)
}

// Cosine returns the cosine similarity of two L2-normalized rows,
// which is their dot product.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	return dot
}
