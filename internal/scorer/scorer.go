// Package scorer combines rule and ensemble sub-scores into the final risk
// score and routing decision.
package scorer

import (
	"fmt"
	"math"

	"github.com/opensource-finance/merlin/internal/domain"
)

// DegradedReason is appended to the audit trail whenever the ensemble could
// not contribute and neutral sub-scores were substituted.
const DegradedReason = "ensemble-degraded"

const (
	anomalyReason    = "Anomalous behavior pattern"
	classifierReason = "Elevated fraud probability"
)

// Result is the combined scoring outcome for one transaction.
type Result struct {
	// Score is the final risk score in [0,10].
	Score float64

	// RuleScore is the raw sum of triggered rule weights, before
	// normalization.
	RuleScore float64

	Decision domain.Decision
	Severity domain.Severity

	// Reasons lists triggered rule texts in evaluation order, then any
	// ensemble contributions.
	Reasons []string
}

// Combine is a pure function: identical rule results, ensemble scores and
// configuration always produce an identical result.
func Combine(cfg *domain.EngineConfig, ruleResults []domain.RuleResult, ens domain.EnsembleScores) Result {
	ruleScore := domain.RuleScore(ruleResults)

	// Saturating normalization onto the 0-10 scale: rules alone can drive
	// the score to the top of the range once enough weight accumulates.
	normalized := math.Min(10, ruleScore*10/cfg.RuleSaturation)

	anomalyPts := ens.Anomaly * 10
	classifierPts := ens.FraudProbability * 10

	score := cfg.RuleWeight*normalized + cfg.AnomalyWeight*anomalyPts + cfg.ClassifierWeight*classifierPts
	score = math.Max(0, math.Min(10, score))

	reasons := domain.TriggeredReasons(ruleResults)
	if ens.Degraded {
		reasons = append(reasons, DegradedReason)
	} else {
		if cfg.AnomalyWeight*anomalyPts >= cfg.ContributionFloor {
			reasons = append(reasons, fmt.Sprintf("%s (%.2f)", anomalyReason, ens.Anomaly))
		}
		if cfg.ClassifierWeight*classifierPts >= cfg.ContributionFloor {
			reasons = append(reasons, fmt.Sprintf("%s (%.2f)", classifierReason, ens.FraudProbability))
		}
	}

	return Result{
		Score:     score,
		RuleScore: ruleScore,
		Decision:  decide(cfg, score),
		Severity:  domain.SeverityForScore(score),
		Reasons:   reasons,
	}
}

// decide buckets a score: boundaries belong to the higher-risk bucket.
func decide(cfg *domain.EngineConfig, score float64) domain.Decision {
	switch {
	case score >= cfg.BlockThreshold:
		return domain.DecisionBlock
	case score >= cfg.FlagThreshold:
		return domain.DecisionFlag
	default:
		return domain.DecisionAllow
	}
}
