// Package inference composes feature derivation, the classifier ensemble and
// the attribution engine into a single scoring call.
package inference

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"fraudscore/internal/common"
	"fraudscore/internal/features"
	"fraudscore/internal/ml"
)

// Config locates the artifacts and tunes the decision.
type Config struct {
	ForestPath  string
	BoosterPath string
	EncoderPath string
	Ensemble    ml.EnsembleConfig
	TopReasons  int
}

// Attributor explains a scored vector.
type Attributor interface {
	Explain(v features.Vector, n int) ([]ml.Attribution, error)
}

// ModelInfo describes the loaded artifacts.
type ModelInfo struct {
	Forest           ml.ArtifactInfo   `json:"forest"`
	Booster          ml.ArtifactInfo   `json:"booster"`
	EncoderPath      string            `json:"encoder_path"`
	TransactionTypes int               `json:"transaction_types"`
	Cities           int               `json:"cities"`
	FeatureNames     []string          `json:"feature_names"`
	Ensemble         ml.EnsembleConfig `json:"ensemble"`
	TopReasons       int               `json:"top_reasons"`
	LoadedAt         time.Time         `json:"loaded_at"`
}

// Context is everything a request needs, loaded once and never mutated.
type Context struct {
	deriver    *features.Deriver
	ensemble   *ml.Ensemble
	explainer  Attributor
	topReasons int
	info       ModelInfo
}

// NewContext assembles a Context from already loaded parts.
func NewContext(enc *features.EncoderTable, ens *ml.Ensemble, exp Attributor, topReasons int) (*Context, error) {
	if enc == nil || enc.TransactionType == nil || enc.City == nil {
		return nil, fmt.Errorf("%w: encoder table is incomplete", ml.ErrModelLoad)
	}
	if ens == nil {
		return nil, fmt.Errorf("%w: no ensemble", ml.ErrModelLoad)
	}
	if exp == nil {
		return nil, fmt.Errorf("%w: no explainer", ml.ErrExplain)
	}
	if topReasons < common.MinTopReasons || topReasons > common.MaxTopReasons {
		return nil, fmt.Errorf("top reasons %d must be between %d and %d", topReasons, common.MinTopReasons, common.MaxTopReasons)
	}
	return &Context{
		deriver:    features.NewDeriver(enc),
		ensemble:   ens,
		explainer:  exp,
		topReasons: topReasons,
		info: ModelInfo{
			TransactionTypes: len(enc.TransactionType.Classes()),
			Cities:           len(enc.City.Classes()),
			FeatureNames:     features.Names[:],
			Ensemble:         ens.Config(),
			TopReasons:       topReasons,
			LoadedAt:         time.Now(),
		},
	}, nil
}

// LoadContext reads all artifacts named by cfg. Any failure is fatal for
// startup and leaves nothing half-loaded.
func LoadContext(cfg Config) (*Context, error) {
	start := time.Now()

	enc, err := features.LoadEncoderTable(cfg.EncoderPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ml.ErrModelLoad, err)
	}
	pair, err := ml.LoadPair(cfg.ForestPath, cfg.BoosterPath)
	if err != nil {
		return nil, err
	}
	ens, err := ml.NewEnsemble(pair.Forest, pair.Booster, cfg.Ensemble)
	if err != nil {
		return nil, err
	}
	exp, err := ml.NewExplainer(pair.Forest)
	if err != nil {
		return nil, err
	}

	c, err := NewContext(enc, ens, exp, cfg.TopReasons)
	if err != nil {
		return nil, err
	}
	c.info.Forest = pair.ForestInfo
	c.info.Booster = pair.BoosterInfo
	c.info.EncoderPath = cfg.EncoderPath

	log.Info().
		Str("encoders", cfg.EncoderPath).
		Int("transaction_types", c.info.TransactionTypes).
		Int("cities", c.info.Cities).
		Float64("expected_value", exp.ExpectedValue()).
		Dur("took", time.Since(start)).
		Msg("Inference context loaded")
	return c, nil
}

// Info describes the loaded artifacts.
func (c *Context) Info() ModelInfo {
	return c.info
}
