package domain

import "time"

// Decision is the routing outcome for a scored transaction.
type Decision string

const (
	DecisionAllow Decision = "ALLOW"
	DecisionFlag  Decision = "FLAG"
	DecisionBlock Decision = "BLOCK"
)

// Severity buckets a risk score for alert triage.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityForScore maps a 0-10 risk score onto a triage severity.
func SeverityForScore(score float64) Severity {
	switch {
	case score >= 8:
		return SeverityCritical
	case score >= 6:
		return SeverityHigh
	case score >= 4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// EnsembleScores holds the statistical models' normalized sub-scores.
type EnsembleScores struct {
	// Anomaly is the unsupervised outlier score in [0,1].
	Anomaly float64 `json:"anomaly"`

	// FraudProbability is the supervised classifier's P(fraud) in [0,1].
	FraudProbability float64 `json:"fraudProbability"`

	// Degraded is true when one or both models were unavailable and a
	// neutral default was substituted.
	Degraded bool `json:"degraded"`
}

// RiskAssessment is the complete, immutable scoring result for one
// transaction.
type RiskAssessment struct {
	ID        string `json:"id"`
	TxID      string `json:"txId"`
	AccountID string `json:"accountId"`

	// Score is the combined risk score, clamped to [0,10].
	Score    float64  `json:"score"`
	Decision Decision `json:"decision"`
	Severity Severity `json:"severity"`

	// Reasons is the ordered audit trail: every triggered rule's text plus
	// ensemble reasons when the models contributed materially.
	Reasons []string `json:"reasons,omitempty"`

	// Component scores for audit.
	RuleScore float64        `json:"ruleScore"`
	Ensemble  EnsembleScores `json:"ensemble"`

	RuleResults []RuleResult `json:"ruleResults,omitempty"`

	// Snapshot identifiers for reproducibility.
	ConfigVersion string `json:"configVersion"`
	ModelVersion  string `json:"modelVersion,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"traceId,omitempty"`
	ProcessMs int64     `json:"processMs"`
}

// NeedsAlert reports whether the assessment crosses the flag threshold and
// must open an investigation case.
func (a *RiskAssessment) NeedsAlert() bool {
	return a.Decision == DecisionFlag || a.Decision == DecisionBlock
}
