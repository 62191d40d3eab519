// Package ml provides the fraud classifiers and everything computed from
// them: the random forest and gradient boosted tree scorers loaded from
// trained artifacts, the weighted ensemble decision, and exact TreeSHAP
// attributions for the forest.
//
// All types are immutable after loading and safe for concurrent use.
package ml

import (
	"errors"
	"fmt"
	"math"

	"fraudscore/internal/features"
)

var (
	// ErrModelLoad reports a missing or incompatible classifier artifact.
	ErrModelLoad = errors.New("model load error")
	// ErrExplain reports an explainer that cannot be built for a classifier.
	ErrExplain = errors.New("explain error")
	// ErrScore reports a classifier that could not produce a valid probability.
	ErrScore = errors.New("score error")
)

// Scorable is a binary classifier over the fixed feature vector.
type Scorable interface {
	// Score returns P(fraud | v) in [0, 1].
	Score(v features.Vector) (float64, error)
}

// ScorerFunc adapts a function to Scorable.
type ScorerFunc func(v features.Vector) (float64, error)

// Score calls f(v).
func (f ScorerFunc) Score(v features.Vector) (float64, error) {
	return f(v)
}

func checkVector(v features.Vector) error {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: feature %s is not finite", ErrScore, features.Names[i])
		}
	}
	return nil
}

func checkProbability(name string, p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("%w: %s returned probability %v outside [0,1]", ErrScore, name, p)
	}
	return nil
}
