// Package engine wires the scoring pipeline: feature extraction, rule
// evaluation, model ensemble and score combination, plus alerting and
// asynchronous persistence.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/merlin/internal/alerts"
	"github.com/opensource-finance/merlin/internal/domain"
	"github.com/opensource-finance/merlin/internal/ensemble"
	"github.com/opensource-finance/merlin/internal/features"
	"github.com/opensource-finance/merlin/internal/history"
	"github.com/opensource-finance/merlin/internal/rules"
	"github.com/opensource-finance/merlin/internal/scorer"
)

var tracer = otel.Tracer("merlin-engine")

const assessmentCacheTTL = time.Hour

// Engine is the fraud decision engine facade.
type Engine struct {
	history   *history.Store
	extractor *features.Extractor
	rules     *rules.Engine
	ensemble  *ensemble.Ensemble
	alerts    *alerts.Manager

	repo   domain.Repository
	cache  domain.Cache
	bus    domain.EventBus
	logger *slog.Logger
}

// Options carries the optional infrastructure backends. All may be nil; the
// engine scores fully in-process without them.
type Options struct {
	Repository domain.Repository
	Cache      domain.Cache
	EventBus   domain.EventBus
	Logger     *slog.Logger
}

// New creates an engine with the given initial configuration.
func New(cfg *domain.EngineConfig, opts Options) (*Engine, error) {
	ruleEngine, err := rules.NewEngine(cfg)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		history:   history.NewStore(cfg.HistoryWindowSize, cfg.HistoryWindowAge),
		extractor: features.NewExtractor(),
		rules:     ruleEngine,
		ensemble:  ensemble.New(),
		repo:      opts.Repository,
		cache:     opts.Cache,
		bus:       opts.EventBus,
		logger:    logger,
	}
	e.alerts = alerts.NewManager(opts.Repository, opts.EventBus, logger, func() time.Duration {
		return e.rules.Current().Config().ReopenWindow
	})
	return e, nil
}

// Alerts exposes the alert manager for the API layer.
func (e *Engine) Alerts() *alerts.Manager {
	return e.alerts
}

// Ensemble exposes the model ensemble for the training endpoint.
func (e *Engine) Ensemble() *ensemble.Ensemble {
	return e.ensemble
}

// Config returns the active engine configuration snapshot.
func (e *Engine) Config() *domain.EngineConfig {
	return e.rules.Current().Config()
}

// UpdateConfig validates and activates a new configuration snapshot. On
// error the active configuration is untouched.
func (e *Engine) UpdateConfig(ctx context.Context, cfg *domain.EngineConfig) error {
	if err := e.rules.Reload(cfg); err != nil {
		return err
	}
	e.logger.Info("engine config updated", "version", cfg.Version, "rules", len(cfg.Rules))

	bg := context.WithoutCancel(ctx)
	go func() {
		if e.repo != nil {
			if err := e.repo.SaveEngineConfig(bg, cfg); err != nil {
				e.logger.Error("failed to persist engine config", "version", cfg.Version, "error", err)
			}
		}
		e.publish(bg, domain.TopicConfigUpdated, map[string]string{"version": cfg.Version})
	}()
	return nil
}

// TrainModel trains a new ensemble snapshot and swaps it in.
func (e *Engine) TrainModel(ctx context.Context, version string, samples []ensemble.TrainingSample) (*ensemble.Model, error) {
	m, err := e.ensemble.TrainAndSwap(version, samples)
	if err != nil {
		return nil, err
	}
	e.logger.Info("model swapped", "version", m.Version, "samples", m.SampleCount)
	e.publish(context.WithoutCancel(ctx), domain.TopicModelSwapped, map[string]string{"version": m.Version})
	return m, nil
}

// ScoreTransaction runs the full decision pipeline for one transaction.
// Scoring the same transaction id again returns the cached assessment
// instead of double-counting history.
func (e *Engine) ScoreTransaction(ctx context.Context, tx *domain.Transaction) (*domain.RiskAssessment, error) {
	ctx, span := tracer.Start(ctx, "engine.score",
		trace.WithAttributes(attribute.String("tx.id", tx.ID)))
	defer span.End()

	start := time.Now()

	if err := tx.Validate(); err != nil {
		return nil, err
	}

	if cached := e.cachedAssessment(ctx, tx.ID); cached != nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}

	// One coherent snapshot for the whole call: a mid-flight reload never
	// mixes configurations.
	snap := e.rules.Current()
	cfg := snap.Config()

	profile := e.history.Profile(tx.AccountID)
	countInWindow := e.velocityCount(ctx, tx, cfg)

	fv := e.extractor.Extract(tx, profile, cfg, countInWindow)
	ruleResults := snap.Evaluate(tx, fv)
	ens := e.ensembleScore(ctx, cfg, fv)

	combined := scorer.Combine(cfg, ruleResults, ens)

	assessment := &domain.RiskAssessment{
		ID:            uuid.New().String(),
		TxID:          tx.ID,
		AccountID:     tx.AccountID,
		Score:         combined.Score,
		Decision:      combined.Decision,
		Severity:      combined.Severity,
		Reasons:       combined.Reasons,
		RuleScore:     combined.RuleScore,
		Ensemble:      ens,
		RuleResults:   ruleResults,
		ConfigVersion: cfg.Version,
		Timestamp:     time.Now().UTC(),
		ProcessMs:     time.Since(start).Milliseconds(),
	}
	if m := e.ensemble.Active(); m != nil {
		assessment.ModelVersion = m.Version
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		assessment.TraceID = sc.TraceID().String()
	}

	// Record after scoring: the profile a transaction is judged against
	// never includes the transaction itself.
	e.history.Record(tx)

	if assessment.NeedsAlert() {
		if _, created := e.alerts.CreateFromAssessment(ctx, assessment); created {
			e.logger.Info("alert opened",
				"tx_id", tx.ID, "decision", assessment.Decision, "score", assessment.Score)
		}
	}

	e.finishAsync(ctx, tx, assessment)

	span.SetAttributes(
		attribute.Float64("risk.score", assessment.Score),
		attribute.String("risk.decision", string(assessment.Decision)),
	)
	return assessment, nil
}

// cachedAssessment returns a previously computed assessment for the
// transaction id, nil on miss or cache errors.
func (e *Engine) cachedAssessment(ctx context.Context, txID string) *domain.RiskAssessment {
	if e.cache == nil {
		return nil
	}
	a, err := e.cache.GetAssessment(ctx, txID)
	if err != nil {
		e.logger.Warn("assessment cache read failed", "tx_id", txID, "error", err)
		return nil
	}
	return a
}

// velocityCount returns the transaction count in the velocity window,
// including the transaction being scored. With a distributed counter
// available the larger of the two counts wins, so a multi-instance
// deployment never undercounts. The counter key is bucketed by the
// transaction timestamp, not by arrival time: replayed or delayed
// submissions count toward the window they occurred in, and the count
// for a given set of transactions never depends on how fast they were
// submitted.
func (e *Engine) velocityCount(ctx context.Context, tx *domain.Transaction, cfg *domain.EngineConfig) int {
	count := e.history.CountSince(tx.AccountID, tx.Timestamp.Add(-cfg.VelocityWindow)) + 1

	if e.cache != nil {
		bucket := tx.Timestamp.UnixNano() / int64(cfg.VelocityWindow)
		key := fmt.Sprintf("velocity:%s:%d", tx.AccountID, bucket)
		if n, err := e.cache.IncrementCounter(ctx, key, cfg.VelocityWindow); err == nil && int(n) > count {
			count = int(n)
		}
	}
	return count
}

// ensembleScore runs the models under the configured timeout. Timeout or an
// untrained ensemble degrade to neutral sub-scores; the transaction is still
// scored by the rules.
func (e *Engine) ensembleScore(ctx context.Context, cfg *domain.EngineConfig, fv *domain.FeatureVector) domain.EnsembleScores {
	ctx, cancel := context.WithTimeout(ctx, cfg.EnsembleTimeout)
	defer cancel()

	type outcome struct {
		scores domain.EnsembleScores
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		scores, err := e.ensemble.Score(ctx, fv)
		ch <- outcome{scores, err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			return domain.EnsembleScores{Degraded: true}
		}
		return out.scores
	case <-ctx.Done():
		e.logger.Warn("ensemble timed out", "timeout", cfg.EnsembleTimeout)
		return domain.EnsembleScores{Degraded: true}
	}
}

// finishAsync persists, caches and publishes the scoring outcome without
// blocking the decision path.
func (e *Engine) finishAsync(ctx context.Context, tx *domain.Transaction, a *domain.RiskAssessment) {
	bg := context.WithoutCancel(ctx)
	go func() {
		if e.repo != nil {
			if err := e.repo.SaveTransaction(bg, tx); err != nil {
				e.logger.Error("failed to persist transaction", "tx_id", tx.ID, "error", err)
			}
			if err := e.repo.SaveAssessment(bg, a); err != nil {
				e.logger.Error("failed to persist assessment", "tx_id", tx.ID, "error", err)
			}
		}
		if e.cache != nil {
			if err := e.cache.SetAssessment(bg, tx.ID, a, assessmentCacheTTL); err != nil {
				e.logger.Warn("assessment cache write failed", "tx_id", tx.ID, "error", err)
			}
		}
		e.publish(bg, domain.TopicTransactionScored, a)
	}()
}

func (e *Engine) publish(ctx context.Context, topic string, payload any) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err == nil {
		err = e.bus.Publish(ctx, topic, data)
	}
	if err != nil {
		e.logger.Error("failed to publish event", "topic", topic, "error", err)
	}
}
