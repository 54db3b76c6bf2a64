package domain

// RuleKind enumerates the closed set of rule variants the engine evaluates.
// New kinds are added here and in the rules package, never via reflection.
type RuleKind string

const (
	RuleHighAmount  RuleKind = "high_amount"
	RuleForeign     RuleKind = "foreign_transaction"
	RuleOffHours    RuleKind = "off_hours"
	RuleVelocity    RuleKind = "velocity"
	RuleNewMerchant RuleKind = "new_merchant"

	// RuleExpression evaluates an operator-supplied CEL predicate over the
	// transaction and features. Compiled once at config load.
	RuleExpression RuleKind = "expression"
)

// RuleConfig defines one rule in an engine configuration snapshot. Rules are
// evaluated in declared order; order is stable for identical input so audit
// trails reproduce exactly.
type RuleConfig struct {
	ID      string   `json:"id"`
	Kind    RuleKind `json:"kind"`
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`

	// Weight contributed to the rule score when triggered.
	Weight float64 `json:"weight"`

	// Reason is the human-readable audit text surfaced when triggered.
	Reason string `json:"reason"`

	// Threshold is the amount threshold in major units (high_amount).
	Threshold float64 `json:"threshold,omitempty"`

	// Limit is the velocity transaction-count limit (velocity).
	Limit int `json:"limit,omitempty"`

	// Expression is the CEL source (expression kind only).
	Expression string `json:"expression,omitempty"`
}

// RuleResult is the outcome of evaluating one rule against one transaction.
type RuleResult struct {
	RuleID    string   `json:"ruleId"`
	Kind      RuleKind `json:"kind"`
	Triggered bool     `json:"triggered"`
	Weight    float64  `json:"weight"`
	Reason    string   `json:"reason,omitempty"`
}

// TriggeredReasons extracts the reason text of every triggered rule,
// preserving evaluation order.
func TriggeredReasons(results []RuleResult) []string {
	var reasons []string
	for _, r := range results {
		if r.Triggered && r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}
	return reasons
}

// RuleScore sums the weights of triggered rules.
func RuleScore(results []RuleResult) float64 {
	var total float64
	for _, r := range results {
		if r.Triggered {
			total += r.Weight
		}
	}
	return total
}
