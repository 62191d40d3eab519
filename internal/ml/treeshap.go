package ml

import (
	"fmt"
	"math"

	"fraudscore/internal/features"
)

// Explainer computes exact path-dependent TreeSHAP values for a Forest.
// For every vector the contributions sum to Score(v) - ExpectedValue().
type Explainer struct {
	forest   *Forest
	expected float64
}

// NewExplainer builds an explainer for f. Every node needs a positive cover.
func NewExplainer(f *Forest) (*Explainer, error) {
	if f == nil || len(f.trees) == 0 {
		return nil, fmt.Errorf("%w: no forest to explain", ErrExplain)
	}
	var expected float64
	for i := range f.trees {
		t := &f.trees[i]
		for node, c := range t.Cover {
			if !(c > 0) || math.IsInf(c, 0) {
				return nil, fmt.Errorf("%w: tree %d node %d has cover %v", ErrExplain, i, node, c)
			}
		}
		expected += t.expectation(0)
	}
	return &Explainer{forest: f, expected: expected / float64(len(f.trees))}, nil
}

// ExpectedValue is the forest's mean prediction over the training
// distribution recorded in the node covers.
func (e *Explainer) ExpectedValue() float64 {
	return e.expected
}

// Values returns one contribution per feature, in schema order.
func (e *Explainer) Values(v features.Vector) ([features.NumFeatures]float64, error) {
	var phi [features.NumFeatures]float64
	if err := checkVector(v); err != nil {
		return phi, fmt.Errorf("%w: %v", ErrExplain, err)
	}
	scale := 1 / float64(len(e.forest.trees))
	for i := range e.forest.trees {
		e.forest.trees[i].shap(&v, &phi, 0, nil, 0, 1, 1, -1, scale)
	}
	for i, p := range phi {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return phi, fmt.Errorf("%w: contribution for %s is not finite", ErrExplain, features.Names[i])
		}
	}
	return phi, nil
}

// Explain returns the top n attributions for v by absolute contribution.
func (e *Explainer) Explain(v features.Vector, n int) ([]Attribution, error) {
	phi, err := e.Values(v)
	if err != nil {
		return nil, err
	}
	return Top(v, phi, n), nil
}

// expectation is the cover-weighted mean leaf value below node.
func (t *Tree) expectation(node int) float64 {
	if t.isLeaf(node) {
		return t.Value[node]
	}
	l, r := t.ChildrenLeft[node], t.ChildrenRight[node]
	c := t.Cover[node]
	return t.Cover[l]/c*t.expectation(l) + t.Cover[r]/c*t.expectation(r)
}

// pathElement tracks one feature on the current root-to-node path: the
// fraction of training samples that flow through its splits (zero), whether
// x flows through them (one), and the permutation weight.
type pathElement struct {
	feature int
	zero    float64
	one     float64
	weight  float64
}

func extendPath(path []pathElement, depth int, zero, one float64, feature int) {
	path[depth] = pathElement{feature: feature, zero: zero, one: one}
	if depth == 0 {
		path[depth].weight = 1
	}
	d := float64(depth + 1)
	for i := depth - 1; i >= 0; i-- {
		path[i+1].weight += one * path[i].weight * float64(i+1) / d
		path[i].weight = zero * path[i].weight * float64(depth-i) / d
	}
}

// unwindPath removes element idx, undoing extendPath.
func unwindPath(path []pathElement, depth, idx int) {
	one, zero := path[idx].one, path[idx].zero
	next := path[depth].weight
	d := float64(depth + 1)
	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].weight
			path[i].weight = next * d / (float64(i+1) * one)
			next = tmp - path[i].weight*zero*float64(depth-i)/d
		} else {
			path[i].weight = path[i].weight * d / (zero * float64(depth-i))
		}
	}
	for i := idx; i < depth; i++ {
		path[i].feature = path[i+1].feature
		path[i].zero = path[i+1].zero
		path[i].one = path[i+1].one
	}
}

// unwoundPathSum is the total weight the path would have with element idx
// removed, without modifying path.
func unwoundPathSum(path []pathElement, depth, idx int) float64 {
	one, zero := path[idx].one, path[idx].zero
	next := path[depth].weight
	d := float64(depth + 1)
	var total float64
	for i := depth - 1; i >= 0; i-- {
		switch {
		case one != 0:
			tmp := next * d / (float64(i+1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*float64(depth-i)/d
		case zero != 0:
			total += path[i].weight / zero / (float64(depth-i) / d)
		}
	}
	return total
}

// shap recurses from node, accumulating scaled contributions into phi.
// parent is the caller's path; each call works on its own copy.
func (t *Tree) shap(x *features.Vector, phi *[features.NumFeatures]float64, node int,
	parent []pathElement, depth int, zero, one float64, feature int, scale float64,
) {
	path := make([]pathElement, depth+1)
	copy(path, parent[:depth])
	extendPath(path, depth, zero, one, feature)

	if t.isLeaf(node) {
		for i := 1; i <= depth; i++ {
			w := unwoundPathSum(path, depth, i)
			el := path[i]
			phi[el.feature] += w * (el.one - el.zero) * t.Value[node] * scale
		}
		return
	}

	split := t.Feature[node]
	hot, cold := t.ChildrenRight[node], t.ChildrenLeft[node]
	if t.goesLeft(x, node) {
		hot, cold = cold, hot
	}
	hotZero := t.Cover[hot] / t.Cover[node]
	coldZero := t.Cover[cold] / t.Cover[node]
	inZero, inOne := 1.0, 1.0

	// a feature seen higher up the path is merged, not repeated
	for k := 1; k <= depth; k++ {
		if path[k].feature == split {
			inZero, inOne = path[k].zero, path[k].one
			unwindPath(path, depth, k)
			depth--
			break
		}
	}

	t.shap(x, phi, hot, path, depth+1, hotZero*inZero, inOne, split, scale)
	t.shap(x, phi, cold, path, depth+1, coldZero*inZero, 0, split, scale)
}
