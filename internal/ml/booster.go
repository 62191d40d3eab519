package ml

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"fraudscore/internal/features"
)

// boosterTree is one regression tree in XGBoost's JSON model layout. For a
// leaf, split_conditions holds the leaf weight.
type boosterTree struct {
	LeftChildren    []int     `json:"left_children"`
	RightChildren   []int     `json:"right_children"`
	SplitIndices    []int     `json:"split_indices"`
	SplitConditions []float64 `json:"split_conditions"`
	DefaultLeft     flexBools `json:"default_left"`
	SplitType       []int     `json:"split_type"`
}

// flexBools accepts both [true,false] and [1,0]; XGBoost has written both.
type flexBools []bool

func (b *flexBools) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]bool, len(raw))
	for i, r := range raw {
		r = bytes.TrimSpace(r)
		switch string(r) {
		case "true", "1":
			out[i] = true
		case "false", "0":
			out[i] = false
		default:
			return fmt.Errorf("default_left[%d]: unexpected value %s", i, r)
		}
	}
	*b = out
	return nil
}

type boosterFile struct {
	Learner struct {
		FeatureNames    []string `json:"feature_names"`
		GradientBooster struct {
			Name  string `json:"name"`
			Model struct {
				Trees    []boosterTree `json:"trees"`
				TreeInfo []int         `json:"tree_info"`
			} `json:"model"`
		} `json:"gradient_booster"`
		LearnerModelParam struct {
			BaseScore  string `json:"base_score"`
			NumClass   string `json:"num_class"`
			NumFeature string `json:"num_feature"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
	} `json:"learner"`
	Version []int `json:"version"`
}

var logisticObjectives = map[string]bool{
	"binary:logistic": true,
	"reg:logistic":    true,
}

// Booster is the gradient boosted tree classifier. Its probability is the
// logistic of the base margin plus the sum of leaf weights.
type Booster struct {
	trees      []boosterTree
	baseMargin float64
	version    string
}

// LoadBooster reads a model written by XGBoost's save_model in JSON form.
// Only binary logistic objectives with numerical splits are supported. Any
// problem is an ErrModelLoad.
func LoadBooster(path string) (*Booster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	var f boosterFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: failed to parse booster %s: %v", ErrModelLoad, path, err)
	}
	b, err := newBooster(&f)
	if err != nil {
		return nil, fmt.Errorf("%w: booster %s: %v", ErrModelLoad, path, err)
	}
	return b, nil
}

func newBooster(f *boosterFile) (*Booster, error) {
	l := &f.Learner
	if gb := l.GradientBooster.Name; gb != "" && gb != "gbtree" {
		return nil, fmt.Errorf("unsupported gradient booster %q", gb)
	}
	if obj := l.Objective.Name; !logisticObjectives[obj] {
		return nil, fmt.Errorf("unsupported objective %q", obj)
	}
	if nc := l.LearnerModelParam.NumClass; nc != "" && nc != "0" && nc != "1" {
		return nil, fmt.Errorf("multi-class models are not supported (num_class=%s)", nc)
	}
	if nf := l.LearnerModelParam.NumFeature; nf != "" && nf != strconv.Itoa(features.NumFeatures) {
		return nil, fmt.Errorf("model expects %s features, have %d", nf, features.NumFeatures)
	}
	if l.FeatureNames != nil {
		if err := features.CheckNames(l.FeatureNames); err != nil {
			return nil, err
		}
	}

	base, err := parseBaseScore(l.LearnerModelParam.BaseScore)
	if err != nil {
		return nil, err
	}
	if base <= 0 || base >= 1 {
		return nil, fmt.Errorf("base_score %v must be inside (0,1)", base)
	}

	trees := l.GradientBooster.Model.Trees
	if len(trees) == 0 {
		return nil, fmt.Errorf("model has no trees")
	}
	for i := range trees {
		if err := trees[i].validate(); err != nil {
			return nil, fmt.Errorf("tree %d: %v", i, err)
		}
	}

	version := make([]string, len(f.Version))
	for i, v := range f.Version {
		version[i] = strconv.Itoa(v)
	}
	return &Booster{
		trees:      trees,
		baseMargin: math.Log(base / (1 - base)),
		version:    strings.Join(version, "."),
	}, nil
}

// parseBaseScore handles both "5E-1" and the bracketed "[5E-1]" that newer
// releases write. Empty means XGBoost's default of 0.5.
func parseBaseScore(s string) (float64, error) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "[]"))
	if s == "" {
		return 0.5, nil
	}
	if strings.Contains(s, ",") {
		return 0, fmt.Errorf("vector base_score %q is not supported", s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid base_score %q: %v", s, err)
	}
	return v, nil
}

func (t *boosterTree) validate() error {
	n := len(t.LeftChildren)
	if n == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	if len(t.RightChildren) != n || len(t.SplitIndices) != n || len(t.SplitConditions) != n {
		return fmt.Errorf("node arrays disagree on length")
	}
	if len(t.DefaultLeft) != n {
		return fmt.Errorf("default_left has %d entries, expected %d", len(t.DefaultLeft), n)
	}
	for _, st := range t.SplitType {
		if st != 0 {
			return fmt.Errorf("categorical splits are not supported")
		}
	}
	for i := 0; i < n; i++ {
		l, r := t.LeftChildren[i], t.RightChildren[i]
		if l == leafNode {
			continue
		}
		if l <= i || r <= i || l >= n || r >= n {
			return fmt.Errorf("node %d has invalid children %d, %d", i, l, r)
		}
		if f := t.SplitIndices[i]; f < 0 || f >= features.NumFeatures {
			return fmt.Errorf("node %d splits on feature %d outside the %d-column schema", i, f, features.NumFeatures)
		}
	}
	return nil
}

// weight walks x down to its leaf. Samples go left when x < condition and
// follow default_left when the feature is missing. Both sides are compared
// in float32 since that is the precision the booster was trained at.
func (t *boosterTree) weight(x *features.Vector) float64 {
	node := 0
	for t.LeftChildren[node] != leafNode {
		v := x[t.SplitIndices[node]]
		switch {
		case math.IsNaN(v):
			if t.DefaultLeft[node] {
				node = t.LeftChildren[node]
			} else {
				node = t.RightChildren[node]
			}
		case float32(v) < float32(t.SplitConditions[node]):
			node = t.LeftChildren[node]
		default:
			node = t.RightChildren[node]
		}
	}
	return t.SplitConditions[node]
}

// Margin returns the raw log-odds for v.
func (b *Booster) Margin(v features.Vector) float64 {
	m := b.baseMargin
	for i := range b.trees {
		m += b.trees[i].weight(&v)
	}
	return m
}

// Score returns the logistic of the margin.
func (b *Booster) Score(v features.Vector) (float64, error) {
	if err := checkVector(v); err != nil {
		return 0, err
	}
	p := logistic(b.Margin(v))
	if err := checkProbability("booster", p); err != nil {
		return 0, err
	}
	return p, nil
}

// NumTrees returns the number of boosting rounds.
func (b *Booster) NumTrees() int {
	return len(b.trees)
}

// Version is the XGBoost release that wrote the model, if recorded.
func (b *Booster) Version() string {
	return b.version
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
