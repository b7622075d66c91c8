// Package sampling draws the stratified audit sample from classified stock.
package sampling

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"cyclecount/internal"
	"cyclecount/internal/abc"
)

// Targets is how many lines to draw from each tier.
type Targets struct {
	A, B, C int
}

// DefaultTargets is the current house policy. Earlier audits used 80/15/5.
var DefaultTargets = Targets{A: 85, B: 10, C: 5}

func (t Targets) For(tier internal.Tier) int {
	switch tier {
	case internal.TierA:
		return t.A
	case internal.TierB:
		return t.B
	case internal.TierC:
		return t.C
	}
	return 0
}

func (t Targets) String() string {
	return fmt.Sprintf("%d,%d,%d", t.A, t.B, t.C)
}

// ParseTargets reads "A,B,C", e.g. "85,10,5".
func ParseTargets(s string) (Targets, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Targets{}, fmt.Errorf("sample targets %q: want three comma-separated counts for A,B,C", s)
	}
	var vals [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Targets{}, fmt.Errorf("sample targets %q: %w", s, err)
		}
		if n < 0 {
			return Targets{}, fmt.Errorf("sample targets %q: negative count for tier %s", s, internal.Tiers[i])
		}
		vals[i] = n
	}
	return Targets{A: vals[0], B: vals[1], C: vals[2]}, nil
}

type Sampler struct {
	rng *rand.Rand
}

// New uses rng for every draw; pass a seeded source for reproducible samples.
func New(rng *rand.Rand) *Sampler {
	return &Sampler{rng: rng}
}

// NewSeeded is shorthand for a PCG source with the given seed.
func NewSeeded(seed uint64) *Sampler {
	return New(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// Draw takes min(target, population) lines uniformly without replacement from
// each tier and returns them grouped A, then B, then C. Small tiers are
// drawn in full.
func (s *Sampler) Draw(lines []internal.ClassifiedLine, targets Targets) []internal.ClassifiedLine {
	byTier := abc.ByTier(lines)
	var out []internal.ClassifiedLine
	for _, tier := range internal.Tiers {
		out = append(out, s.pick(byTier[tier], targets.For(tier))...)
	}
	return out
}

func (s *Sampler) pick(population []internal.ClassifiedLine, n int) []internal.ClassifiedLine {
	if n > len(population) {
		n = len(population)
	}
	if n <= 0 {
		return nil
	}
	idx := make([]int, len(population))
	for i := range idx {
		idx[i] = i
	}
	// partial Fisher-Yates: the first n slots end up a uniform sample
	for i := 0; i < n; i++ {
		j := i + s.rng.IntN(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	out := make([]internal.ClassifiedLine, n)
	for i := 0; i < n; i++ {
		out[i] = population[idx[i]]
	}
	return out
}
