// Package mltest writes small but valid classifier artifacts for tests.
package mltest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"fraudscore/internal/features"
	"fraudscore/internal/ml"
)

// Trees is a two tree forest splitting on amount, hour and city code.
func Trees() []ml.Tree {
	return []ml.Tree{
		{
			ChildrenLeft:  []int{1, 3, 5, -1, 7, -1, -1, -1, -1},
			ChildrenRight: []int{2, 4, 6, -1, 8, -1, -1, -1, -1},
			Feature: []int{
				features.IdxAmount, features.IdxHour, features.IdxAmount,
				0, features.IdxCityCode, 0, 0, 0, 0,
			},
			Threshold: []float64{100, 6, 500, 0, 1, 0, 0, 0, 0},
			Value:     []float64{0.37, 0.2667, 0.525, 0.1, 0.35, 0.4, 0.9, 0.2, 0.6},
			Cover:     []float64{100, 60, 40, 20, 40, 30, 10, 25, 15},
		},
		{
			ChildrenLeft:  []int{1, -1, -1},
			ChildrenRight: []int{2, -1, -1},
			Feature:       []int{features.IdxHour, 0, 0},
			Threshold:     []float64{12, 0, 0},
			Value:         []float64{0.42, 0.3, 0.7},
			Cover:         []float64{100, 70, 30},
		},
	}
}

// Forest builds a forest from Trees.
func Forest(t testing.TB) *ml.Forest {
	t.Helper()
	f, err := ml.NewForest(Trees())
	if err != nil {
		t.Fatalf("build forest: %v", err)
	}
	return f
}

// BoosterModel returns an XGBoost JSON model as a generic map so tests can
// corrupt individual fields. It has two trees: a split on amount at 100
// (-0.5 left, 0.8 right) and a constant 0.2, with base_score 0.5.
func BoosterModel() map[string]any {
	names := make([]any, features.NumFeatures)
	for i, n := range features.Names {
		names[i] = n
	}
	return map[string]any{
		"version": []any{2, 0, 3},
		"learner": map[string]any{
			"feature_names": names,
			"gradient_booster": map[string]any{
				"name": "gbtree",
				"model": map[string]any{
					"trees": []any{
						map[string]any{
							"left_children":    []any{1, -1, -1},
							"right_children":   []any{2, -1, -1},
							"split_indices":    []any{features.IdxAmount, 0, 0},
							"split_conditions": []any{100.0, -0.5, 0.8},
							"default_left":     []any{1, 0, 0},
							"split_type":       []any{0, 0, 0},
						},
						map[string]any{
							"left_children":    []any{-1},
							"right_children":   []any{-1},
							"split_indices":    []any{0},
							"split_conditions": []any{0.2},
							"default_left":     []any{false},
						},
					},
					"tree_info": []any{0, 0},
				},
			},
			"learner_model_param": map[string]any{
				"base_score":  "[5E-1]",
				"num_class":   "0",
				"num_feature": "19",
			},
			"objective": map[string]any{"name": "binary:logistic"},
		},
	}
}

// WriteJSON marshals v to path.
func WriteJSON(t testing.TB, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Encoders is the table matching the fixtures.
func Encoders() *features.EncoderTable {
	return &features.EncoderTable{
		TransactionType: features.FitEncoder([]string{"purchase", "transfer", "withdrawal"}),
		City:            features.FitEncoder([]string{"Austin", "Boston", "X"}),
	}
}

// Artifacts are the paths written by WriteArtifacts.
type Artifacts struct {
	Dir      string
	Forest   string
	Booster  string
	Encoders string
}

// WriteArtifacts writes the forest, booster and encoder table into dir
// under the default file names.
func WriteArtifacts(t testing.TB, dir string) Artifacts {
	t.Helper()
	a := Artifacts{
		Dir:      dir,
		Forest:   filepath.Join(dir, "rf_model.json"),
		Booster:  filepath.Join(dir, "xgb_model.json"),
		Encoders: filepath.Join(dir, "encoders.json"),
	}
	if err := Forest(t).Save(a.Forest); err != nil {
		t.Fatalf("save forest: %v", err)
	}
	WriteJSON(t, a.Booster, BoosterModel())
	if err := Encoders().Save(a.Encoders); err != nil {
		t.Fatalf("save encoders: %v", err)
	}
	return a
}
