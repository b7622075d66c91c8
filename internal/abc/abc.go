// Package abc ranks stock lines by their share of total inventory value.
package abc

import (
	"errors"
	"fmt"
	"sort"

	"cyclecount/internal"
)

// Cumulative-share cut-offs, both inclusive.
const (
	ThresholdA = 0.80
	ThresholdB = 0.95
)

var (
	// ErrNoValue is returned when there is nothing to classify or the grand
	// total is not positive, since shares are undefined.
	ErrNoValue = errors.New("abc: inventory has no value to classify")
	// ErrNegativeValue rejects lines with negative stock or cost.
	ErrNegativeValue = errors.New("abc: negative stock or cost")
	// ErrDuplicateLine rejects a second line for the same article and location.
	ErrDuplicateLine = errors.New("abc: duplicate article/location")
)

// Classify sorts lines by stock*cost, highest first, and assigns each a tier
// from its cumulative share of the grand total. Ties keep input order.
func Classify(lines []internal.StockLine) ([]internal.ClassifiedLine, error) {
	if len(lines) == 0 {
		return nil, ErrNoValue
	}

	out := make([]internal.ClassifiedLine, len(lines))
	total := 0.0
	seen := make(map[internal.LineKey]struct{}, len(lines))
	for i, l := range lines {
		if _, dup := seen[l.Key()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLine, l.Key())
		}
		seen[l.Key()] = struct{}{}
		if l.Stock < 0 || l.Cost < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNegativeValue, l.Key())
		}
		out[i] = internal.ClassifiedLine{StockLine: l, TotalValue: l.Stock * l.Cost}
		total += out[i].TotalValue
	}
	if total <= 0 {
		return nil, ErrNoValue
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TotalValue > out[j].TotalValue
	})

	running := 0.0
	for i := range out {
		running += out[i].TotalValue
		out[i].CumulativeShare = running / total
		out[i].Tier = TierFor(out[i].CumulativeShare)
	}
	return out, nil
}

func TierFor(share float64) internal.Tier {
	switch {
	case share <= ThresholdA:
		return internal.TierA
	case share <= ThresholdB:
		return internal.TierB
	default:
		return internal.TierC
	}
}

// ByTier splits classified lines into tier populations, preserving order.
func ByTier(lines []internal.ClassifiedLine) map[internal.Tier][]internal.ClassifiedLine {
	out := make(map[internal.Tier][]internal.ClassifiedLine, len(internal.Tiers))
	for _, l := range lines {
		out[l.Tier] = append(out[l.Tier], l)
	}
	return out
}
