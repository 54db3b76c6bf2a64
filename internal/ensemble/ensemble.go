// Package ensemble provides the statistical scoring models: an unsupervised
// outlier detector and a supervised fraud classifier, deployed together as
// one atomically swappable snapshot.
package ensemble

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/opensource-finance/merlin/internal/domain"
)

// Ensemble serves model inference against the active snapshot. Scoring never
// blocks on training or swaps: readers load the snapshot pointer once and use
// it for the whole call.
type Ensemble struct {
	model atomic.Pointer[Model]
}

// New creates an ensemble with no trained model. Scoring degrades until the
// first snapshot is swapped in.
func New() *Ensemble {
	return &Ensemble{}
}

// Swap atomically replaces the active model snapshot.
func (e *Ensemble) Swap(m *Model) {
	e.model.Store(m)
}

// Active returns the current snapshot, nil when untrained.
func (e *Ensemble) Active() *Model {
	return e.model.Load()
}

// Score runs both sub-models against a feature vector. With no active model
// it returns ErrModelUnavailable; callers degrade to neutral sub-scores
// rather than failing the transaction.
func (e *Ensemble) Score(ctx context.Context, fv *domain.FeatureVector) (domain.EnsembleScores, error) {
	m := e.model.Load()
	if m == nil {
		return domain.EnsembleScores{Degraded: true}, fmt.Errorf("%w: no trained model", domain.ErrModelUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return domain.EnsembleScores{Degraded: true}, err
	}

	features := fv.Vector()
	return domain.EnsembleScores{
		Anomaly:          m.Anomaly(features),
		FraudProbability: m.FraudProbability(features),
	}, nil
}

// TrainAndSwap trains a snapshot and activates it. In-flight scoring calls
// keep the snapshot they loaded; new calls see the new model.
func (e *Ensemble) TrainAndSwap(version string, samples []TrainingSample) (*Model, error) {
	m, err := Train(version, samples)
	if err != nil {
		return nil, err
	}
	e.Swap(m)
	return m, nil
}
