package ml

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"fraudscore/internal/features"
)

// Attribution is one feature's signed contribution to a prediction.
type Attribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// Direction is "positively" for contributions toward fraud and
// "negatively" otherwise.
func (a Attribution) Direction() string {
	if a.Contribution > 0 {
		return "positively"
	}
	return "negatively"
}

// Reason renders the attribution as a human readable sentence. A zero
// contribution reads as negative.
func (a Attribution) Reason() string {
	sign := "-"
	if a.Contribution > 0 {
		sign = "+"
	}
	return fmt.Sprintf("Feature '%s' with value '%s' contributed %s (%s%.4f) to the fraud prediction.",
		a.Feature, formatValue(a.Value), a.Direction(), sign, math.Abs(a.Contribution))
}

// formatValue renders v in shortest round-trip form. Whole numbers keep a
// trailing ".0" and very large or small magnitudes use exponent notation,
// so 10 reads "10.0" and 0.00001 reads "1e-05".
func formatValue(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	if abs := math.Abs(v); abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Top pairs each feature with its contribution and returns the n largest by
// absolute contribution. Ties keep schema order. n is clamped to
// [0, NumFeatures].
func Top(v features.Vector, phi [features.NumFeatures]float64, n int) []Attribution {
	all := make([]Attribution, features.NumFeatures)
	for i := range all {
		all[i] = Attribution{Feature: features.Names[i], Value: v[i], Contribution: phi[i]}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return math.Abs(all[i].Contribution) > math.Abs(all[j].Contribution)
	})
	if n < 0 {
		n = 0
	}
	if n > len(all) {
		n = len(all)
	}
	return all[:n]
}

// Reasons renders each attribution with Reason.
func Reasons(attrs []Attribution) []string {
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.Reason()
	}
	return out
}
