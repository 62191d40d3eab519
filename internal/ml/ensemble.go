package ml

import (
	"errors"
	"fmt"
	"math"

	"fraudscore/internal/common"
	"fraudscore/internal/features"
)

// EnsembleConfig weights the two classifiers and sets the decision boundary.
type EnsembleConfig struct {
	ForestWeight  float64 `yaml:"forestWeight"`
	BoosterWeight float64 `yaml:"boosterWeight"`
	Threshold     float64 `yaml:"threshold"`
}

// DefaultEnsembleConfig averages the two classifiers and flags at 0.5.
func DefaultEnsembleConfig() EnsembleConfig {
	return EnsembleConfig{
		ForestWeight:  common.DefaultWeightForest,
		BoosterWeight: common.DefaultWeightBooster,
		Threshold:     common.DefaultFraudThreshold,
	}
}

// Validate checks that the weights form a convex combination and that the
// threshold is a probability.
func (c EnsembleConfig) Validate() error {
	if !unit(c.ForestWeight) {
		return fmt.Errorf("forest weight %v must be in [0,1]", c.ForestWeight)
	}
	if !unit(c.BoosterWeight) {
		return fmt.Errorf("booster weight %v must be in [0,1]", c.BoosterWeight)
	}
	if math.Abs(c.ForestWeight+c.BoosterWeight-1) > common.WeightEpsilon {
		return fmt.Errorf("weights must sum to 1, got %v", c.ForestWeight+c.BoosterWeight)
	}
	if !unit(c.Threshold) {
		return fmt.Errorf("threshold %v must be in [0,1]", c.Threshold)
	}
	return nil
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Decision is the ensemble's verdict for one vector.
type Decision struct {
	Probability        float64 `json:"probability"`
	ForestProbability  float64 `json:"forest_probability"`
	BoosterProbability float64 `json:"booster_probability"`
	IsFraud            bool    `json:"is_fraud"`
}

// Combine applies the weights and threshold to the two classifier outputs.
// The combined probability is clamped to [0,1] against rounding; a
// probability equal to the threshold is fraud.
func (c EnsembleConfig) Combine(forest, booster float64) Decision {
	p := c.ForestWeight*forest + c.BoosterWeight*booster
	p = math.Max(0, math.Min(1, p))
	return Decision{
		Probability:        p,
		ForestProbability:  forest,
		BoosterProbability: booster,
		IsFraud:            p >= c.Threshold,
	}
}

// Ensemble combines the forest and booster classifiers.
type Ensemble struct {
	forest  Scorable
	booster Scorable
	cfg     EnsembleConfig
}

// NewEnsemble validates cfg and builds an Ensemble.
func NewEnsemble(forest, booster Scorable, cfg EnsembleConfig) (*Ensemble, error) {
	if forest == nil || booster == nil {
		return nil, fmt.Errorf("%w: ensemble needs both classifiers", ErrModelLoad)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ensemble config: %w", err)
	}
	return &Ensemble{forest: forest, booster: booster, cfg: cfg}, nil
}

// Config returns the ensemble configuration.
func (e *Ensemble) Config() EnsembleConfig {
	return e.cfg
}

// Predict scores v with both classifiers and combines the results. Any
// failure is an ErrScore.
func (e *Ensemble) Predict(v features.Vector) (Decision, error) {
	pf, err := score("forest", e.forest, v)
	if err != nil {
		return Decision{}, err
	}
	pb, err := score("booster", e.booster, v)
	if err != nil {
		return Decision{}, err
	}
	return e.cfg.Combine(pf, pb), nil
}

func score(name string, s Scorable, v features.Vector) (float64, error) {
	p, err := s.Score(v)
	if err != nil {
		if errors.Is(err, ErrScore) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %s: %v", ErrScore, name, err)
	}
	if err := checkProbability(name, p); err != nil {
		return 0, err
	}
	return p, nil
}
