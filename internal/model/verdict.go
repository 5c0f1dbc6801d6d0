package model

// VerdictStatus is the gate's answer to "may an agent act on this part".
type VerdictStatus string

const (
	VerdictSafe    VerdictStatus = "SAFE"
	VerdictWarning VerdictStatus = "WARNING"
	VerdictBlocked VerdictStatus = "BLOCKED"
)

// ReasonCode is the machine-readable cause behind a verdict.
type ReasonCode string

const (
	ReasonOK             ReasonCode = "ok"
	ReasonNoData         ReasonCode = "no_data"
	ReasonLowReliability ReasonCode = "low_reliability"
	ReasonInconsistency  ReasonCode = "inconsistency"
	ReasonStaleData      ReasonCode = "stale_data"
)

// VerdictChecks records the individual checks the gate evaluated, so
// callers can render or log the decision trail.
type VerdictChecks struct {
	IsFresh         bool            `json:"is_fresh"`
	IsReliable      bool            `json:"is_reliable"`
	HasConflicts    bool            `json:"has_conflicts"`
	ConfidenceLevel ConfidenceLevel `json:"confidence_level"`
}

// SafetyVerdict is the gate's structured decision for one part. It is
// computed per query and never persisted; the underlying fact carries the
// durable state.
type SafetyVerdict struct {
	Status            VerdictStatus         `json:"status"`
	ReasonCode        ReasonCode            `json:"reason_code"`
	Reason            string                `json:"reason"`
	Fact              *UnifiedInventoryFact `json:"fact,omitempty"`
	Confidence        ConfidenceLevel       `json:"confidence,omitempty"`
	Reasoning         string                `json:"reasoning,omitempty"`
	Warnings          []string              `json:"warnings,omitempty"`
	RecommendedAction string                `json:"recommended_action,omitempty"`
	Checks            VerdictChecks         `json:"checks"`
}

// Actionable reports whether an agent may proceed without human sign-off.
func (v *SafetyVerdict) Actionable() bool {
	return v.Status == VerdictSafe
}
