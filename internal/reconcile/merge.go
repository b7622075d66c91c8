// Package reconcile folds counts, justifications and validations into the
// sampled lines of a session.
package reconcile

import (
	"fmt"
	"strings"
	"time"

	"cyclecount/internal"
	"cyclecount/internal/util"
)

// MergeResult is the outcome of one merge over a session's lines.
type MergeResult struct {
	Lines   []internal.SampledLine
	Matched int
	Changed int

	// entries whose key is not in the session
	Unmatched []internal.LineKey
	// entries that matched a line in the wrong state for them
	Ineligible []internal.LineKey
	// validations refused because the validator also counted the line
	SelfValidated []internal.LineKey
	// adjustments sent with a rejected or unset mark
	IgnoredAdjustments []internal.LineKey
}

func (r MergeResult) Warnings() []string {
	var out []string
	for _, k := range r.Unmatched {
		out = append(out, fmt.Sprintf("%s at %s is not part of this session; entry ignored", k.Article, k.Location))
	}
	for _, k := range r.Ineligible {
		out = append(out, fmt.Sprintf("%s at %s is not eligible for this step; entry ignored", k.Article, k.Location))
	}
	for _, k := range r.SelfValidated {
		out = append(out, fmt.Sprintf("%s at %s was counted by the same user; validation refused", k.Article, k.Location))
	}
	for _, k := range r.IgnoredAdjustments {
		out = append(out, fmt.Sprintf("%s at %s: adjustment only applies to approved lines; ignored", k.Article, k.Location))
	}
	return out
}

func index(lines []internal.SampledLine) map[internal.LineKey]int {
	out := make(map[internal.LineKey]int, len(lines))
	for i, l := range lines {
		if _, ok := out[l.Key()]; !ok {
			out[l.Key()] = i
		}
	}
	return out
}

func clone(lines []internal.SampledLine) []internal.SampledLine {
	return append([]internal.SampledLine(nil), lines...)
}

// ApplyCounts records physical counts. Variance is count minus stock, so a
// shortage is negative. Count text that does not parse is taken as 0.
// Applying the same entries twice leaves the lines as after the first time.
// A recount that changes the variance drops the justification and the
// validation given for the previous one.
func ApplyCounts(lines []internal.SampledLine, entries []internal.CountEntry, countedBy string) MergeResult {
	res := MergeResult{Lines: clone(lines)}
	idx := index(res.Lines)
	for _, e := range entries {
		i, ok := idx[e.Key]
		if !ok {
			res.Unmatched = append(res.Unmatched, e.Key)
			continue
		}
		res.Matched++
		l := &res.Lines[i]
		count := util.Coerce(e.Count)
		variance := count - l.Stock
		if sameFloat(l.PhysicalCount, count) && sameFloat(l.Variance, variance) && l.CountedBy == countedBy {
			continue
		}
		if l.Variance != nil && !sameFloat(l.Variance, variance) {
			l.Justification = ""
			clearValidation(l)
		}
		l.PhysicalCount = util.FloatPtr(count)
		l.Variance = util.FloatPtr(variance)
		l.CountedBy = countedBy
		res.Changed++
	}
	return res
}

// ApplyJustifications attaches free text to counted lines with a non-zero
// variance. Anything else is reported as ineligible.
func ApplyJustifications(lines []internal.SampledLine, entries []internal.JustificationEntry) MergeResult {
	res := MergeResult{Lines: clone(lines)}
	idx := index(res.Lines)
	for _, e := range entries {
		i, ok := idx[e.Key]
		if !ok {
			res.Unmatched = append(res.Unmatched, e.Key)
			continue
		}
		l := &res.Lines[i]
		if !l.HasVariance() {
			res.Ineligible = append(res.Ineligible, e.Key)
			continue
		}
		res.Matched++
		text := strings.TrimSpace(e.Text)
		if l.Justification == text {
			continue
		}
		l.Justification = text
		res.Changed++
	}
	return res
}

type ValidationOptions struct {
	Validator string
	At        time.Time
	// RequireDistinct refuses a mark from the user who counted the line.
	RequireDistinct bool
}

// ApplyValidations sets, changes or clears validation marks. Only lines with
// a non-zero variance take a mark; blank entries for other lines are
// ignored. The adjustment is kept only for approved lines, and clearing the
// mark clears validator, timestamp and adjustment with it. The raw variance
// is never touched.
func ApplyValidations(lines []internal.SampledLine, entries []internal.ValidationEntry, opts ValidationOptions) MergeResult {
	res := MergeResult{Lines: clone(lines)}
	idx := index(res.Lines)
	for _, e := range entries {
		i, ok := idx[e.Key]
		if !ok {
			res.Unmatched = append(res.Unmatched, e.Key)
			continue
		}
		l := &res.Lines[i]

		if e.Mark == internal.ValidationUnset {
			if e.AdjustmentType != internal.AdjustmentNone || e.AdjustmentQuantity != nil {
				res.IgnoredAdjustments = append(res.IgnoredAdjustments, e.Key)
			}
			if !validated(*l) {
				continue
			}
			res.Matched++
			clearValidation(l)
			res.Changed++
			continue
		}

		if !l.HasVariance() {
			res.Ineligible = append(res.Ineligible, e.Key)
			continue
		}
		if opts.RequireDistinct && l.CountedBy != "" && strings.EqualFold(l.CountedBy, opts.Validator) {
			res.SelfValidated = append(res.SelfValidated, e.Key)
			continue
		}
		res.Matched++

		kind, qty := e.AdjustmentType, e.AdjustmentQuantity
		if e.Mark != internal.ValidationApproved {
			if kind != internal.AdjustmentNone || qty != nil {
				res.IgnoredAdjustments = append(res.IgnoredAdjustments, e.Key)
			}
			kind, qty = internal.AdjustmentNone, nil
		}
		if kind == internal.AdjustmentNone {
			qty = nil
		}

		if l.Validation == e.Mark && l.ValidatedBy == opts.Validator && l.AdjustmentType == kind && equalPtr(l.AdjustmentQuantity, qty) {
			continue
		}
		l.Validation = e.Mark
		l.ValidatedBy = opts.Validator
		at := opts.At
		l.ValidatedAt = &at
		l.AdjustmentType = kind
		l.AdjustmentQuantity = nil
		if qty != nil {
			l.AdjustmentQuantity = util.FloatPtr(*qty)
		}
		res.Changed++
	}
	return res
}

func validated(l internal.SampledLine) bool {
	return l.Validation != internal.ValidationUnset || l.ValidatedBy != "" || l.ValidatedAt != nil ||
		l.AdjustmentType != internal.AdjustmentNone || l.AdjustmentQuantity != nil
}

func clearValidation(l *internal.SampledLine) {
	l.Validation = internal.ValidationUnset
	l.ValidatedBy = ""
	l.ValidatedAt = nil
	l.AdjustmentType = internal.AdjustmentNone
	l.AdjustmentQuantity = nil
}

// PendingValidation lists counted lines with a variance and no mark yet.
func PendingValidation(lines []internal.SampledLine) []internal.SampledLine {
	var out []internal.SampledLine
	for _, l := range lines {
		if l.HasVariance() && l.Validation == internal.ValidationUnset {
			out = append(out, l)
		}
	}
	return out
}

func Uncounted(lines []internal.SampledLine) []internal.SampledLine {
	var out []internal.SampledLine
	for _, l := range lines {
		if !l.Counted() {
			out = append(out, l)
		}
	}
	return out
}

func sameFloat(p *float64, v float64) bool {
	return p != nil && *p == v
}

func equalPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
