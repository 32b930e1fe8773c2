// Package entropy builds symbol alphabets and computes Shannon entropy and
// surprise over them. It is shared by every run mode and by n-gram encoding.
package entropy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
)

// Alphabet counts symbol occurrences. Symbols keep first-seen order.
type Alphabet struct {
	order   []string
	letters map[string]*models.Letter
	rows    int64
}

func NewAlphabet() *Alphabet {
	return &Alphabet{letters: make(map[string]*models.Letter)}
}

// Add records one occurrence of symbol.
func (a *Alphabet) Add(symbol string) {
	l, ok := a.letters[symbol]
	if !ok {
		l = &models.Letter{}
		a.letters[symbol] = l
		a.order = append(a.order, symbol)
	}
	l.Count++
	a.rows++
}

// Size is the number of distinct symbols.
func (a *Alphabet) Size() int { return len(a.order) }

// Rows is the number of occurrences added.
func (a *Alphabet) Rows() int64 { return a.rows }

// Symbols returns the distinct symbols in first-seen order.
func (a *Alphabet) Symbols() []string {
	return append([]string(nil), a.order...)
}

// Letter returns the statistics of one symbol.
func (a *Alphabet) Letter(symbol string) (models.Letter, bool) {
	l, ok := a.letters[symbol]
	if !ok {
		return models.Letter{}, false
	}
	return *l, true
}

// Finalize computes probability and surprise of every symbol against
// denominator, which is normally Rows(). Replays over a filtered subset pass
// the unfiltered row count so surprise stays comparable.
func (a *Alphabet) Finalize(denominator int64) {
	for _, l := range a.letters {
		if denominator <= 0 {
			l.Probability, l.Surprise = 0, math.Inf(1)
			continue
		}
		l.Probability = float64(l.Count) / float64(denominator)
		l.Surprise = -math.Log2(l.Probability)
	}
}

func (a *Alphabet) probabilities() []float64 {
	p := make([]float64, len(a.order))
	for i, s := range a.order {
		p[i] = a.letters[s].Probability
	}
	return p
}

func (a *Alphabet) surprises() []float64 {
	s := make([]float64, len(a.order))
	for i, sym := range a.order {
		s[i] = a.letters[sym].Surprise
	}
	return s
}

// Entropy is H = -Σ p·log2(p) over the finalized letters.
func (a *Alphabet) Entropy() float64 {
	if len(a.order) == 0 {
		return 0
	}
	return stat.Entropy(a.probabilities()) / math.Ln2
}

// TotalSurprise sums surprise over distinct symbols, not rows.
func (a *Alphabet) TotalSurprise() float64 {
	if len(a.order) == 0 {
		return 0
	}
	return floats.Sum(a.surprises())
}

// Summarize fills the statistical fields of a summary. It fails with
// ErrDegenerateAlphabet when fewer than two symbols were seen, since
// uncertainty divides by log2 of the alphabet size.
func (a *Alphabet) Summarize(s *models.Summary) error {
	size := a.Size()
	s.AlphabetSize = size
	s.RecordLength = a.rows
	if size <= 1 {
		return fmt.Errorf("%w: %d symbol(s)", apperrors.ErrDegenerateAlphabet, size)
	}

	h := a.Entropy()
	s.Entropy = h
	s.SurpriseMean = a.TotalSurprise() / float64(size)
	s.Uncertainty = h / math.Log2(float64(size))
	// SurpriseStdDev stays 0; only the server routine reports one.
	return nil
}
