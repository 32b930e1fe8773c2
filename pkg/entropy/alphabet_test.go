package entropy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-entropy/pkg/models"
)

func build(symbols ...string) *Alphabet {
	a := NewAlphabet()
	for _, s := range symbols {
		a.Add(s)
	}
	a.Finalize(a.Rows())
	return a
}

func TestAlphabet_Counts(t *testing.T) {
	a := build("x", "y", "x", "z", "x")
	assert.Equal(t, 3, a.Size())
	assert.Equal(t, int64(5), a.Rows())
	assert.Equal(t, []string{"x", "y", "z"}, a.Symbols())

	l, ok := a.Letter("x")
	require.True(t, ok)
	assert.Equal(t, 3, l.Count)
	assert.InDelta(t, 0.6, l.Probability, 1e-12)
	assert.InDelta(t, -math.Log2(0.6), l.Surprise, 1e-12)

	_, ok = a.Letter("missing")
	assert.False(t, ok)
}

func TestAlphabet_ProbabilitiesSumToOne(t *testing.T) {
	a := build("a", "b", "b", "c", "c", "c", "d", "e", "e")
	var sum float64
	for _, s := range a.Symbols() {
		l, _ := a.Letter(s)
		sum += l.Probability
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestAlphabet_UniformEntropy(t *testing.T) {
	a := build("a", "b", "c", "d")
	var s models.Summary
	require.NoError(t, a.Summarize(&s))

	assert.InDelta(t, 2.0, s.Entropy, 1e-12)
	assert.InDelta(t, 1.0, s.Uncertainty, 1e-12)
	assert.InDelta(t, 2.0, s.SurpriseMean, 1e-12)
	assert.InDelta(t, 0.0, s.SurpriseStdDev, 1e-12)
	assert.Equal(t, 4, s.AlphabetSize)
	assert.Equal(t, int64(4), s.RecordLength)
}

func TestAlphabet_SkewedBounds(t *testing.T) {
	a := build("a", "a", "a", "a", "a", "a", "a", "b", "c")
	var s models.Summary
	require.NoError(t, a.Summarize(&s))

	assert.GreaterOrEqual(t, s.Entropy, 0.0)
	assert.LessOrEqual(t, s.Entropy, math.Log2(3))
	assert.GreaterOrEqual(t, s.Uncertainty, 0.0)
	assert.LessOrEqual(t, s.Uncertainty, 1.0)
	assert.Zero(t, s.SurpriseStdDev)
}

func TestAlphabet_SurpriseMeanOverDistinctSymbols(t *testing.T) {
	// p(a)=0.75, p(b)=0.25: mean over symbols is (0.415+2)/2, not the row-weighted 0.811.
	a := build("a", "a", "a", "b")
	var s models.Summary
	require.NoError(t, a.Summarize(&s))

	want := (-math.Log2(0.75) + 2) / 2
	assert.InDelta(t, want, s.SurpriseMean, 1e-12)
	assert.InDelta(t, 0.75*-math.Log2(0.75)+0.5, s.Entropy, 1e-12)
}

func TestAlphabet_Degenerate(t *testing.T) {
	for _, a := range []*Alphabet{build(), build("only", "only")} {
		var s models.Summary
		err := a.Summarize(&s)
		assert.ErrorIs(t, err, apperrors.ErrDegenerateAlphabet)
		assert.False(t, math.IsNaN(s.Uncertainty))
		assert.False(t, math.IsInf(s.Uncertainty, 0))
	}
}

func TestAlphabet_FinalizeWithLargerDenominator(t *testing.T) {
	a := NewAlphabet()
	a.Add("x")
	a.Add("y")
	a.Finalize(8)

	l, _ := a.Letter("x")
	assert.InDelta(t, 0.125, l.Probability, 1e-12)
	assert.InDelta(t, 3.0, l.Surprise, 1e-12)
}

func TestProfile(t *testing.T) {
	assert.Equal(t, models.SurprisalProfile{}, Profile(nil))

	p := Profile([]float64{1, 1, 1, 3})
	assert.InDelta(t, 1.5, p.Mean, 1e-12)
	assert.InDelta(t, 1.0, p.Median, 1e-12)
	assert.InDelta(t, 3.0, p.Max, 1e-12)
	assert.Greater(t, p.StdDev, 0.0)
}
