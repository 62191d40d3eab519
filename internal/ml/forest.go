package ml

import (
	"encoding/json"
	"fmt"
	"os"

	"fraudscore/internal/features"
)

// ForestFormat identifies the random forest artifact layout.
const ForestFormat = "fraudscore-forest/v1"

const leafNode = -1

// Tree is one decision tree in scikit-learn's array layout. Node 0 is the
// root; a node is a leaf when both children are -1. Value holds P(fraud)
// at the node and Cover the number of training samples that reached it.
type Tree struct {
	ChildrenLeft  []int     `json:"children_left"`
	ChildrenRight []int     `json:"children_right"`
	Feature       []int     `json:"feature"`
	Threshold     []float64 `json:"threshold"`
	Value         []float64 `json:"value"`
	Cover         []float64 `json:"cover"`
}

func (t *Tree) isLeaf(node int) bool {
	return t.ChildrenLeft[node] == leafNode
}

// goesLeft reports whether x takes the left branch at node. Inputs are
// narrowed to float32 first, matching how the trees were fitted.
func (t *Tree) goesLeft(x *features.Vector, node int) bool {
	return float64(float32(x[t.Feature[node]])) <= t.Threshold[node]
}

// leaf walks x down to its leaf. Samples go left when x <= threshold.
func (t *Tree) leaf(x *features.Vector) int {
	node := 0
	for !t.isLeaf(node) {
		if t.goesLeft(x, node) {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	return node
}

func (t *Tree) validate() error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	for name, l := range map[string]int{
		"children_right": len(t.ChildrenRight),
		"feature":        len(t.Feature),
		"threshold":      len(t.Threshold),
		"value":          len(t.Value),
		"cover":          len(t.Cover),
	} {
		if l != n {
			return fmt.Errorf("%s has %d entries, expected %d", name, l, n)
		}
	}
	for i := 0; i < n; i++ {
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		if (l == leafNode) != (r == leafNode) {
			return fmt.Errorf("node %d has exactly one child", i)
		}
		if l == leafNode {
			if t.Value[i] < 0 || t.Value[i] > 1 {
				return fmt.Errorf("leaf %d value %v outside [0,1]", i, t.Value[i])
			}
			continue
		}
		// children always follow their parent, which also rules out cycles
		if l <= i || r <= i || l >= n || r >= n {
			return fmt.Errorf("node %d has invalid children %d, %d", i, l, r)
		}
		if f := t.Feature[i]; f < 0 || f >= features.NumFeatures {
			return fmt.Errorf("node %d splits on feature %d outside the %d-column schema", i, f, features.NumFeatures)
		}
	}
	return nil
}

type forestFile struct {
	Format       string   `json:"format"`
	FeatureNames []string `json:"feature_names"`
	Trees        []Tree   `json:"trees"`
}

// Forest is the random forest classifier. Its probability is the mean of
// the leaf probabilities of all trees.
type Forest struct {
	trees []Tree
}

// NewForest validates trees and builds a Forest.
func NewForest(trees []Tree) (*Forest, error) {
	if len(trees) == 0 {
		return nil, fmt.Errorf("%w: forest has no trees", ErrModelLoad)
	}
	for i := range trees {
		if err := trees[i].validate(); err != nil {
			return nil, fmt.Errorf("%w: forest tree %d: %v", ErrModelLoad, i, err)
		}
	}
	return &Forest{trees: trees}, nil
}

// LoadForest reads a forest artifact. Any problem is an ErrModelLoad.
func LoadForest(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	var f forestFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: failed to parse forest %s: %v", ErrModelLoad, path, err)
	}
	if f.Format != ForestFormat {
		return nil, fmt.Errorf("%w: forest %s has format %q, expected %q", ErrModelLoad, path, f.Format, ForestFormat)
	}
	if f.FeatureNames != nil {
		if err := features.CheckNames(f.FeatureNames); err != nil {
			return nil, fmt.Errorf("%w: forest %s: %v", ErrModelLoad, path, err)
		}
	}
	return NewForest(f.Trees)
}

// Save writes the forest in the artifact format LoadForest reads.
func (f *Forest) Save(path string) error {
	data, err := json.Marshal(forestFile{
		Format:       ForestFormat,
		FeatureNames: features.Names[:],
		Trees:        f.trees,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Score returns the mean fraud probability over all trees.
func (f *Forest) Score(v features.Vector) (float64, error) {
	if err := checkVector(v); err != nil {
		return 0, err
	}
	var sum float64
	for i := range f.trees {
		t := &f.trees[i]
		sum += t.Value[t.leaf(&v)]
	}
	p := sum / float64(len(f.trees))
	if err := checkProbability("forest", p); err != nil {
		return 0, err
	}
	return p, nil
}

// NumTrees returns the number of trees.
func (f *Forest) NumTrees() int {
	return len(f.trees)
}
