// Package rules provides the configurable fraud rule engine. Built-in rule
// kinds cover the standard checks; operator-defined rules compile from
// CEL expressions.
package rules

import (
	"fmt"
	"sync/atomic"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/merlin/internal/domain"
)

// Engine evaluates rules against transactions. The active configuration is an
// immutable snapshot swapped atomically on reload, so a scoring call sees one
// coherent rule set from start to finish.
type Engine struct {
	env      *cel.Env
	snapshot atomic.Pointer[Snapshot]
}

// Snapshot is one immutable, compiled rule set plus the engine configuration
// it was built from.
type Snapshot struct {
	cfg   *domain.EngineConfig
	rules []compiledRule
}

type compiledRule struct {
	cfg     domain.RuleConfig
	program cel.Program // expression kind only
}

// NewEngine creates a rule engine with the given initial configuration.
func NewEngine(cfg *domain.EngineConfig) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("account_id", cel.StringType),
		cel.Variable("merchant_id", cel.StringType),
		cel.Variable("merchant_category", cel.StringType),
		cel.Variable("merchant_country", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("foreign", cel.BoolType),
		cel.Variable("off_hours", cel.BoolType),
		cel.Variable("new_merchant", cel.BoolType),
		cel.Variable("velocity_count", cel.IntType),
		cel.Variable("amount_deviation", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env}
	if err := e.Reload(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload validates and compiles a new configuration, then swaps it in
// atomically. On any error the previous snapshot stays active untouched.
func (e *Engine) Reload(cfg *domain.EngineConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: engine config is required", domain.ErrConfigInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	compiled := make([]compiledRule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		if !rc.Enabled {
			continue
		}
		cr := compiledRule{cfg: rc}
		if rc.Kind == domain.RuleExpression {
			program, err := e.compile(rc)
			if err != nil {
				return err
			}
			cr.program = program
		}
		compiled = append(compiled, cr)
	}

	e.snapshot.Store(&Snapshot{cfg: cfg, rules: compiled})
	return nil
}

// Current returns the active snapshot. Callers hold it for the duration of
// one scoring call so rule evaluation and score combination use the same
// configuration even if a reload lands mid-flight.
func (e *Engine) Current() *Snapshot {
	return e.snapshot.Load()
}

// RulesCount returns the number of enabled rules in the active snapshot.
func (e *Engine) RulesCount() int {
	return len(e.snapshot.Load().rules)
}

// Config returns the snapshot's engine configuration.
func (s *Snapshot) Config() *domain.EngineConfig {
	return s.cfg
}

// Version returns the snapshot's configuration version.
func (s *Snapshot) Version() string {
	return s.cfg.Version
}

// Evaluate runs every enabled rule in declared order and returns one result
// per rule. Order is stable: identical input yields an identical result
// slice, which keeps audit trails reproducible.
func (s *Snapshot) Evaluate(tx *domain.Transaction, fv *domain.FeatureVector) []domain.RuleResult {
	results := make([]domain.RuleResult, 0, len(s.rules))
	var activation map[string]any

	for _, r := range s.rules {
		result := domain.RuleResult{
			RuleID: r.cfg.ID,
			Kind:   r.cfg.Kind,
			Weight: r.cfg.Weight,
		}

		switch r.cfg.Kind {
		case domain.RuleHighAmount:
			result.Triggered = tx.Amount() > r.cfg.Threshold
		case domain.RuleForeign:
			result.Triggered = fv.Foreign
		case domain.RuleOffHours:
			result.Triggered = fv.OffHours
		case domain.RuleVelocity:
			result.Triggered = fv.CountInWindow > r.cfg.Limit
		case domain.RuleNewMerchant:
			result.Triggered = fv.NewMerchant
		case domain.RuleExpression:
			if activation == nil {
				activation = buildActivation(tx, fv)
			}
			out, _, err := r.program.Eval(activation)
			// An erroring expression never triggers; weight still reported.
			if err == nil {
				result.Triggered = toBool(out)
			}
		}

		if result.Triggered {
			result.Reason = r.cfg.Reason
		}
		results = append(results, result)
	}
	return results
}

func buildActivation(tx *domain.Transaction, fv *domain.FeatureVector) map[string]any {
	return map[string]any{
		"tx": map[string]any{
			"id":                tx.ID,
			"account_id":        tx.AccountID,
			"amount":            tx.Amount(),
			"currency":          tx.Currency,
			"merchant_id":       tx.MerchantID,
			"merchant_category": tx.MerchantCategory,
			"merchant_country":  tx.MerchantCountry,
			"channel":           string(tx.Channel),
		},
		"amount":            tx.Amount(),
		"currency":          tx.Currency,
		"account_id":        tx.AccountID,
		"merchant_id":       tx.MerchantID,
		"merchant_category": tx.MerchantCategory,
		"merchant_country":  tx.MerchantCountry,
		"channel":           string(tx.Channel),
		"hour":              int64(fv.Hour),
		"weekday":           int64(fv.Weekday),
		"foreign":           fv.Foreign,
		"off_hours":         fv.OffHours,
		"new_merchant":      fv.NewMerchant,
		"velocity_count":    int64(fv.CountInWindow),
		"amount_deviation":  fv.AmountDeviation,
	}
}

// toBool converts a CEL result to a trigger decision. Numeric expressions
// trigger on any positive value.
func toBool(val ref.Val) bool {
	switch v := val.(type) {
	case types.Bool:
		return bool(v)
	case types.Double:
		return float64(v) > 0
	case types.Int:
		return int64(v) > 0
	default:
		return false
	}
}

func (e *Engine) compile(cfg domain.RuleConfig) (cel.Program, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: rule %s: %v", domain.ErrConfigInvalid, cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("%w: rule %s: expression must return bool, int, or double, got %s", domain.ErrConfigInvalid, cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %s: %v", domain.ErrConfigInvalid, cfg.ID, err)
	}
	return program, nil
}
