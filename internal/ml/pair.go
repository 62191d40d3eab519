package ml

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// ArtifactInfo describes a loaded model file.
type ArtifactInfo struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	SHA256     string    `json:"sha256"`
	ModifiedAt time.Time `json:"modified_at"`
	Trees      int       `json:"trees"`
}

// Pair holds the two trained classifiers.
type Pair struct {
	Forest      *Forest
	Booster     *Booster
	ForestInfo  ArtifactInfo
	BoosterInfo ArtifactInfo
}

// LoadPair loads the forest and booster artifacts. Either failing is an
// ErrModelLoad.
func LoadPair(forestPath, boosterPath string) (*Pair, error) {
	forest, err := LoadForest(forestPath)
	if err != nil {
		return nil, err
	}
	forestInfo, err := describe(forestPath, forest.NumTrees())
	if err != nil {
		return nil, err
	}

	booster, err := LoadBooster(boosterPath)
	if err != nil {
		return nil, err
	}
	boosterInfo, err := describe(boosterPath, booster.NumTrees())
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("forest", forestPath).
		Int("forest_trees", forest.NumTrees()).
		Str("booster", boosterPath).
		Int("booster_trees", booster.NumTrees()).
		Str("xgboost_version", booster.Version()).
		Msg("Classifier artifacts loaded")

	return &Pair{Forest: forest, Booster: booster, ForestInfo: forestInfo, BoosterInfo: boosterInfo}, nil
}

func describe(path string, trees int) (ArtifactInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ArtifactInfo{}, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	st, err := os.Stat(path)
	if err != nil {
		return ArtifactInfo{}, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	sum := sha256.Sum256(data)
	return ArtifactInfo{
		Path:       path,
		Size:       st.Size(),
		SHA256:     hex.EncodeToString(sum[:]),
		ModifiedAt: st.ModTime(),
		Trees:      trees,
	}, nil
}
