package internal

import (
	"strings"
	"time"
)

type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

var Tiers = []Tier{TierA, TierB, TierC}

type StockLine struct {
	Article     string
	Description string
	Location    string
	Stock       float64
	Cost        float64
}

func (l StockLine) Key() LineKey {
	return NewLineKey(l.Article, l.Location)
}

type ClassifiedLine struct {
	StockLine
	TotalValue      float64
	CumulativeShare float64
	Tier            Tier
}

// LineKey addresses a sampled line inside a session. The backing store has no
// stable row id, so every merge joins on this pair.
type LineKey struct {
	Article  string
	Location string
}

func NewLineKey(article, location string) LineKey {
	return LineKey{Article: strings.TrimSpace(article), Location: strings.TrimSpace(location)}
}

func (k LineKey) String() string {
	return k.Article + "@" + k.Location
}

type Branch struct {
	Organization string
	Location     string
}

type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

type Session struct {
	ID        string
	Branch    Branch
	CreatedBy string
	CreatedAt time.Time
	Status    SessionStatus
	ClosedAt  *time.Time
	ClosedBy  string
}

type ValidationMark string

const (
	ValidationUnset    ValidationMark = ""
	ValidationApproved ValidationMark = "approved"
	ValidationRejected ValidationMark = "rejected"
)

type AdjustmentType string

const (
	AdjustmentNone     AdjustmentType = ""
	AdjustmentAdjust   AdjustmentType = "adjust"
	AdjustmentExchange AdjustmentType = "exchange"
)

type LineState string

const (
	StateSelected  LineState = "selected"
	StateCounted   LineState = "counted"
	StateJustified LineState = "justified"
	StateValidated LineState = "validated"
	StateAdjusted  LineState = "adjusted"
)

type SampledLine struct {
	ClassifiedLine
	SessionID          string
	Branch             Branch
	PhysicalCount      *float64
	Variance           *float64
	CountedBy          string
	Justification      string
	Validation         ValidationMark
	ValidatedBy        string
	ValidatedAt        *time.Time
	AdjustmentType     AdjustmentType
	AdjustmentQuantity *float64
}

func (l SampledLine) Counted() bool {
	return l.PhysicalCount != nil && l.Variance != nil
}

// HasVariance reports whether the line was counted with a non-zero difference.
func (l SampledLine) HasVariance() bool {
	return l.Counted() && *l.Variance != 0
}

// HasAdjustment reports whether the validated adjustment replaces the raw variance.
func (l SampledLine) HasAdjustment() bool {
	return l.Validation == ValidationApproved && l.AdjustmentType != AdjustmentNone && l.AdjustmentQuantity != nil
}

// EffectiveVariance is the figure reported for the line: the validated
// adjustment when present, the raw variance otherwise, 0 while uncounted.
func (l SampledLine) EffectiveVariance() float64 {
	if l.HasAdjustment() {
		return *l.AdjustmentQuantity
	}
	if l.Variance != nil {
		return *l.Variance
	}
	return 0
}

func (l SampledLine) State() LineState {
	switch {
	case !l.Counted():
		return StateSelected
	case l.HasAdjustment():
		return StateAdjusted
	case l.Validation != ValidationUnset:
		return StateValidated
	case strings.TrimSpace(l.Justification) != "":
		return StateJustified
	default:
		return StateCounted
	}
}

type AuditLogEntry struct {
	ID        string
	Timestamp time.Time
	Actor     string
	Action    string
	SessionID string
	Rows      int
	Outcome   OutcomeStatus
	Message   string
}

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomePartial OutcomeStatus = "partial"
)

// Outcome is what every mutating operation reports back instead of panicking.
type Outcome struct {
	Status    OutcomeStatus
	SessionID string
	Rows      int
	Retryable bool
	Message   string
	Warnings  []string
}

func (o Outcome) OK() bool {
	return o.Status == OutcomeSuccess
}

func Failed(sessionID, message string) Outcome {
	return Outcome{Status: OutcomeFailed, SessionID: sessionID, Message: message}
}

// Wire values used by the spreadsheet.
const (
	WireApproved  = "SI"
	WireRejected  = "NO"
	WireAdjust    = "Ajuste"
	WireExchange  = "Canje"
	WireOpen      = "Abierto"
	WireClosed    = "Cerrado"
	WireRoleAudit = "Auditor"
	WireRoleDepot = "Deposito"
)

// ParseValidationMark accepts SI/NO in any case, with or without accent. A
// blank cell is ValidationUnset; anything else is rejected.
func ParseValidationMark(s string) (ValidationMark, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return ValidationUnset, true
	case "SI", "SÍ", "S", "YES", "APPROVED":
		return ValidationApproved, true
	case "NO", "N", "REJECTED":
		return ValidationRejected, true
	}
	return ValidationUnset, false
}

func (m ValidationMark) Wire() string {
	switch m {
	case ValidationApproved:
		return WireApproved
	case ValidationRejected:
		return WireRejected
	}
	return ""
}

func ParseAdjustmentType(s string) (AdjustmentType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NINGUNO", "NONE":
		return AdjustmentNone, true
	case "AJUSTE", "ADJUST":
		return AdjustmentAdjust, true
	case "CANJE", "EXCHANGE":
		return AdjustmentExchange, true
	}
	return AdjustmentNone, false
}

func (a AdjustmentType) Wire() string {
	switch a {
	case AdjustmentAdjust:
		return WireAdjust
	case AdjustmentExchange:
		return WireExchange
	}
	return ""
}

// CountEntry is one physical count keyed by article and location. Count is
// kept as typed so unparseable text can be coerced the same way everywhere.
type CountEntry struct {
	Key   LineKey
	Count string
}

type JustificationEntry struct {
	Key  LineKey
	Text string
}

type ValidationEntry struct {
	Key                LineKey
	Mark               ValidationMark
	AdjustmentType     AdjustmentType
	AdjustmentQuantity *float64
}
