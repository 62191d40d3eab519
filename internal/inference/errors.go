package inference

import (
	"errors"

	"fraudscore/internal/features"
	"fraudscore/internal/ml"
)

// ErrInference is the catch-all for failures that have no narrower kind.
var ErrInference = errors.New("inference error")

// Stage is a step of the per-request lifecycle.
type Stage string

const (
	StageReceived   Stage = "RECEIVED"
	StageFeaturized Stage = "FEATURIZED"
	StageScored     Stage = "SCORED"
	StageExplained  Stage = "EXPLAINED"
	StageResponded  Stage = "RESPONDED"
	StageFailed     Stage = "FAILED"
)

// StageError is returned by Engine.Score. Stage is the step the request
// failed to reach; Err unwraps to the kind sentinel.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Error kinds, as reported in responses and the failures metric.
const (
	KindParse     = "parse_error"
	KindFeature   = "feature_error"
	KindSchema    = "schema_error"
	KindScore     = "score_error"
	KindExplain   = "explain_error"
	KindModel     = "model_error"
	KindInference = "inference_error"
)

var kinds = []struct {
	err  error
	kind string
}{
	{features.ErrParse, KindParse},
	{features.ErrFeature, KindFeature},
	{features.ErrSchema, KindSchema},
	{ml.ErrScore, KindScore},
	{ml.ErrExplain, KindExplain},
	{ml.ErrModelLoad, KindModel},
}

// Kind maps err to a stable kind string.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInference
}
