// Package tokenize provides language-aware term extraction for report text.
package tokenize

import (
	"fmt"
	"unicode"

	"github.com/go-ego/gse"
)

// Tokenizer segments report text into the terms fed to the vector space.
// Reports are free text in languages without whitespace token boundaries,
// so segmentation goes through a dictionary-based segmenter rather than
// strings.Fields.
type Tokenizer struct {
	seg gse.Segmenter
}

// New creates a Tokenizer backed by the segmenter's embedded dictionary.
func New() (*Tokenizer, error) {
	t := &Tokenizer{}
	if err := t.seg.LoadDict(); err != nil {
		return nil, fmt.Errorf("load segmenter dictionary: %w", err)
	}
	return t, nil
}

// Terms returns the model terms of text: the segmented words followed by
// every adjacent-word bigram. Bigrams let two short reports share features
// beyond single words. Whitespace-only and punctuation-only segments are
// dropped before pairing, so bigrams never straddle a comma as a token.
func (t *Tokenizer) Terms(text string) []string {
	words := t.Words(text)
	if len(words) == 0 {
		return nil
	}
	terms := make([]string, 0, 2*len(words)-1)
	terms = append(terms, words...)
	for i := 0; i+1 < len(words); i++ {
		terms = append(terms, words[i]+" "+words[i+1])
	}
	return terms
}

// Words returns the cleaned word segments of text, in order.
func (t *Tokenizer) Words(text string) []string {
	segments := t.seg.Cut(text, true)
	words := make([]string, 0, len(segments))
	for _, s := range segments {
		if isNoise(s) {
			continue
		}
		words = append(words, s)
	}
	return words
}

// isNoise reports whether a segment carries no term content.
func isNoise(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) && !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}
