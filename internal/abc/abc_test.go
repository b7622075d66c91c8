package abc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyclecount/internal"
)

func line(article string, stock, cost float64) internal.StockLine {
	return internal.StockLine{Article: article, Location: "L", Stock: stock, Cost: cost}
}

func TestClassifyExactBoundaries(t *testing.T) {
	// shares land exactly on 0.80 and 0.95
	out, err := Classify([]internal.StockLine{
		line("c", 1, 5),
		line("a", 1, 80),
		line("b", 1, 15),
	})
	require.NoError(t, err)

	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].Article)
	assert.Equal(t, internal.TierA, out[0].Tier)
	assert.InDelta(t, 0.80, out[0].CumulativeShare, 1e-12)
	assert.Equal(t, internal.TierB, out[1].Tier)
	assert.Equal(t, internal.TierC, out[2].Tier)
	assert.InDelta(t, 1.0, out[2].CumulativeShare, 1e-12)
}

func TestClassifyStableTies(t *testing.T) {
	in := []internal.StockLine{line("x", 1, 10), line("y", 2, 5), line("z", 10, 1)}

	first, err := Classify(in)
	require.NoError(t, err)
	second, err := Classify(in)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"x", "y", "z"}, []string{first[0].Article, first[1].Article, first[2].Article})
}

func TestClassifyPartitionsEveryLine(t *testing.T) {
	var in []internal.StockLine
	for i := 1; i <= 50; i++ {
		in = append(in, line(string(rune('A'+i%26))+string(rune('a'+i/26)), float64(i), float64(100-i)))
	}
	out, err := Classify(in)
	require.NoError(t, err)

	assert.Len(t, out, len(in))
	counts := map[internal.Tier]int{}
	prev := out[0].TotalValue
	for _, l := range out {
		counts[l.Tier]++
		assert.LessOrEqual(t, l.TotalValue, prev)
		prev = l.TotalValue
	}
	assert.Equal(t, len(in), counts[internal.TierA]+counts[internal.TierB]+counts[internal.TierC])
	assert.Positive(t, counts[internal.TierA])
}

func TestClassifyZeroTotal(t *testing.T) {
	_, err := Classify([]internal.StockLine{line("a", 0, 100), line("b", 5, 0)})
	assert.True(t, errors.Is(err, ErrNoValue))

	_, err = Classify(nil)
	assert.ErrorIs(t, err, ErrNoValue)
}

func TestClassifyRejectsNegativeLines(t *testing.T) {
	_, err := Classify([]internal.StockLine{line("a", 5, 10), line("b", -10, 10)})
	assert.ErrorIs(t, err, ErrNegativeValue)

	_, err = Classify([]internal.StockLine{line("a", -5, 10), line("b", -1, 10)})
	assert.ErrorIs(t, err, ErrNegativeValue)

	_, err = Classify([]internal.StockLine{line("a", 5, -10)})
	assert.ErrorIs(t, err, ErrNegativeValue)
}

func TestClassifyRejectsDuplicateKeys(t *testing.T) {
	_, err := Classify([]internal.StockLine{line("a", 5, 10), line("b", 1, 10), line("a", 2, 10)})
	assert.ErrorIs(t, err, ErrDuplicateLine)
}

func TestTierFor(t *testing.T) {
	cases := map[float64]internal.Tier{
		0.10:   internal.TierA,
		0.80:   internal.TierA,
		0.8001: internal.TierB,
		0.95:   internal.TierB,
		0.9501: internal.TierC,
		1:      internal.TierC,
	}
	for share, want := range cases {
		assert.Equal(t, want, TierFor(share), "share %v", share)
	}
}
