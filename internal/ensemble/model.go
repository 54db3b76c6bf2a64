package ensemble

import (
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
)

// TrainingSample is one labeled feature vector.
type TrainingSample struct {
	Features []float64 `json:"features"`
	Fraud    bool      `json:"fraud"`
}

// Model is one immutable trained snapshot holding both sub-models: the
// Gaussian outlier profile (unsupervised) and the logistic classifier
// (supervised). Snapshots are swapped whole so anomaly and classifier scores
// always come from the same training run.
type Model struct {
	Version     string    `json:"version"`
	TrainedAt   time.Time `json:"trainedAt"`
	SampleCount int       `json:"sampleCount"`

	// Per-feature training distribution, used for standardization and for
	// the outlier score.
	Mean   [domain.FeatureDim]float64 `json:"mean"`
	Stddev [domain.FeatureDim]float64 `json:"stddev"`

	// Logistic regression parameters over standardized features.
	Weights [domain.FeatureDim]float64 `json:"weights"`
	Bias    float64                    `json:"bias"`
}

const (
	trainEpochs       = 300
	trainLearningRate = 0.1
	minTrainSamples   = 20
)

// Train fits a model snapshot on labeled samples. Training is deterministic:
// fixed iteration order, fixed epoch count, no randomness, so the same
// samples always yield the same parameters.
func Train(version string, samples []TrainingSample) (*Model, error) {
	if len(samples) < minTrainSamples {
		return nil, fmt.Errorf("%w: need at least %d samples, got %d", domain.ErrModelUnavailable, minTrainSamples, len(samples))
	}
	var positives int
	for i, s := range samples {
		if len(s.Features) != domain.FeatureDim {
			return nil, fmt.Errorf("%w: sample %d has %d features, want %d", domain.ErrModelUnavailable, i, len(s.Features), domain.FeatureDim)
		}
		if s.Fraud {
			positives++
		}
	}
	if positives == 0 || positives == len(samples) {
		return nil, fmt.Errorf("%w: training set needs both classes", domain.ErrModelUnavailable)
	}

	m := &Model{
		Version:     version,
		TrainedAt:   time.Now().UTC(),
		SampleCount: len(samples),
	}

	// Feature distribution.
	n := float64(len(samples))
	for _, s := range samples {
		for j, v := range s.Features {
			m.Mean[j] += v
		}
	}
	for j := range m.Mean {
		m.Mean[j] /= n
	}
	for _, s := range samples {
		for j, v := range s.Features {
			d := v - m.Mean[j]
			m.Stddev[j] += d * d
		}
	}
	for j := range m.Stddev {
		m.Stddev[j] = math.Sqrt(m.Stddev[j] / n)
	}

	// Standardize once, then batch gradient descent.
	std := make([][domain.FeatureDim]float64, len(samples))
	for i, s := range samples {
		for j, v := range s.Features {
			std[i][j] = m.standardize(j, v)
		}
	}

	for epoch := 0; epoch < trainEpochs; epoch++ {
		var gradW [domain.FeatureDim]float64
		var gradB float64
		for i := range std {
			p := logistic(dot(m.Weights, std[i]) + m.Bias)
			y := 0.0
			if samples[i].Fraud {
				y = 1
			}
			err := p - y
			for j := range gradW {
				gradW[j] += err * std[i][j]
			}
			gradB += err
		}
		for j := range m.Weights {
			m.Weights[j] -= trainLearningRate * gradW[j] / n
		}
		m.Bias -= trainLearningRate * gradB / n
	}

	return m, nil
}

// standardize maps a raw feature to z-score space; a degenerate feature
// (zero spread in training) maps to 0.
func (m *Model) standardize(j int, v float64) float64 {
	if m.Stddev[j] == 0 {
		return 0
	}
	return (v - m.Mean[j]) / m.Stddev[j]
}

// Anomaly returns the unsupervised outlier score in [0,1]: the mean absolute
// z-score across features squashed onto the unit interval. 0 means the vector
// sits at the training centroid.
func (m *Model) Anomaly(features []float64) float64 {
	var total float64
	for j, v := range features {
		total += math.Abs(m.standardize(j, v))
	}
	avg := total / float64(len(features))
	return 1 - math.Exp(-avg/2)
}

// FraudProbability returns the supervised classifier's P(fraud) in [0,1].
func (m *Model) FraudProbability(features []float64) float64 {
	var x [domain.FeatureDim]float64
	for j, v := range features {
		x[j] = m.standardize(j, v)
	}
	return logistic(dot(m.Weights, x) + m.Bias)
}

func logistic(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func dot(a, b [domain.FeatureDim]float64) float64 {
	var sum float64
	for j := range a {
		sum += a[j] * b[j]
	}
	return sum
}
