// Package report compiles the audit figures of a session and renders them
// as a workbook.
package report

import (
	"github.com/shopspring/decimal"

	"cyclecount/internal"
	"cyclecount/internal/reconcile"
)

// Figure is one row of the result table: units, money and share of the
// sample value (0..1).
type Figure struct {
	Count decimal.Decimal
	Value decimal.Decimal
	Share decimal.Decimal
}

type Summary struct {
	SessionID string
	Lines     int

	Sample   Figure
	Shortage Figure
	Surplus  Figure
	Net      Figure
	Absolute Figure

	// AbsolutePct is the absolute variance value as a percentage of the
	// sample value, 0 when the sample has no value.
	AbsolutePct decimal.Decimal
	Grade       int

	Uncounted         int
	PendingValidation int
}

// Step is one row of the compliance scale: from Threshold percent upwards
// the grade is Grade.
type Step struct {
	Threshold float64
	Grade     int
}

// Scale must stay sorted by threshold.
var Scale = []Step{
	{Threshold: 0.00, Grade: 100},
	{Threshold: 0.10, Grade: 94},
	{Threshold: 0.80, Grade: 82},
	{Threshold: 1.60, Grade: 65},
	{Threshold: 2.40, Grade: 35},
	{Threshold: 3.30, Grade: 0},
}

// Grade returns the grade of the highest threshold not above pct.
func Grade(pct float64) int {
	grade := Scale[0].Grade
	for _, s := range Scale {
		if pct >= s.Threshold {
			grade = s.Grade
		}
	}
	return grade
}

var hundred = decimal.NewFromInt(100)

// Compile aggregates the lines of one session. Each line contributes its
// effective variance: the validated adjustment when there is one, the raw
// variance otherwise, nothing while uncounted.
func Compile(sessionID string, lines []internal.SampledLine) Summary {
	s := Summary{SessionID: sessionID, Lines: len(lines)}
	var sampleCount, sampleValue decimal.Decimal
	var shortCount, shortValue, surCount, surValue decimal.Decimal

	for _, l := range lines {
		stock := decimal.NewFromFloat(l.Stock)
		cost := decimal.NewFromFloat(l.Cost)
		sampleCount = sampleCount.Add(stock)
		sampleValue = sampleValue.Add(stock.Mul(cost))

		v := decimal.NewFromFloat(l.EffectiveVariance())
		switch v.Sign() {
		case -1:
			shortCount = shortCount.Add(v.Neg())
			shortValue = shortValue.Add(v.Neg().Mul(cost))
		case 1:
			surCount = surCount.Add(v)
			surValue = surValue.Add(v.Mul(cost))
		}
	}

	s.Sample = figure(sampleCount, sampleValue, sampleValue)
	s.Shortage = figure(shortCount, shortValue, sampleValue)
	s.Surplus = figure(surCount, surValue, sampleValue)
	s.Net = figure(surCount.Sub(shortCount), surValue.Sub(shortValue), sampleValue)
	s.Absolute = figure(surCount.Add(shortCount), surValue.Add(shortValue), sampleValue)

	if sampleValue.IsPositive() {
		s.AbsolutePct = s.Absolute.Value.Div(sampleValue).Mul(hundred)
	}
	s.Grade = Grade(s.AbsolutePct.InexactFloat64())
	s.Uncounted = len(reconcile.Uncounted(lines))
	s.PendingValidation = len(reconcile.PendingValidation(lines))
	return s
}

func figure(count, value, sampleValue decimal.Decimal) Figure {
	f := Figure{Count: count, Value: value}
	if !sampleValue.IsZero() {
		f.Share = value.Div(sampleValue)
	}
	return f
}
