package cfg

import (
	"path/filepath"

	"github.com/rs/zerolog"

	"fraudscore/internal/history"
	"fraudscore/internal/inference"
	"fraudscore/internal/ml"
)

// modelPath resolves a model file name against ModelDir unless it is
// already absolute.
func (s Settings) modelPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.ModelDir, name)
}

// Inference returns the artifact locations and decision parameters.
func (s Settings) Inference() inference.Config {
	return inference.Config{
		ForestPath:  s.modelPath(s.ForestModel),
		BoosterPath: s.modelPath(s.BoosterModel),
		EncoderPath: s.modelPath(s.EncoderTable),
		Ensemble: ml.EnsembleConfig{
			ForestWeight:  s.WeightForest,
			BoosterWeight: s.WeightBooster,
			Threshold:     s.FraudThreshold,
		},
		TopReasons: s.TopReasons,
	}
}

// History returns the card history backend options.
func (s Settings) History() history.Options {
	return history.Options{
		Backend:   s.HistoryBackend,
		DataPath:  s.DataPath,
		RedisAddr: s.RedisAddr,
		TTL:       s.HistoryTTL,
	}
}

// Level parses LogLevel, falling back to info.
func (s Settings) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
