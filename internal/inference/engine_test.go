package inference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudscore/internal/features"
	"fraudscore/internal/history"
	"fraudscore/internal/ml"
	"fraudscore/internal/ml/mltest"
)

type countingScorer struct {
	p     float64
	calls atomic.Int64
	mu    sync.Mutex
	last  features.Vector
}

func (s *countingScorer) Score(v features.Vector) (float64, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.last = v
	s.mu.Unlock()
	return s.p, nil
}

func (s *countingScorer) lastVector() features.Vector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type stubExplainer struct {
	attrs []ml.Attribution
	err   error
	calls atomic.Int64
}

func (s *stubExplainer) Explain(v features.Vector, n int) ([]ml.Attribution, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if n > len(s.attrs) {
		n = len(s.attrs)
	}
	return s.attrs[:n], nil
}

type recordingStore struct {
	mu       sync.Mutex
	profiles map[string]features.CardProfile
	records  int
}

func (s *recordingStore) Lookup(_ context.Context, card string) (features.CardProfile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[card]
	return p, ok, nil
}

func (s *recordingStore) Record(_ context.Context, card string, obs history.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profiles == nil {
		s.profiles = make(map[string]features.CardProfile)
	}
	s.profiles[card] = s.profiles[card].With(obs.Amount, obs.At, obs.Lat, obs.Long)
	s.records++
	return nil
}

func (s *recordingStore) Close() error { return nil }

func (s *recordingStore) recorded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

func sampleAttributions() []ml.Attribution {
	attrs := make([]ml.Attribution, 7)
	for i := range attrs {
		attrs[i] = ml.Attribution{Feature: features.Names[i], Value: float64(i), Contribution: 0.1 / float64(i+1)}
	}
	return attrs
}

func validTx() features.Transaction {
	return features.Transaction{
		Time:          "2024-03-15T14:30",
		CardNumber:    "4111111111111111",
		Type:          "purchase",
		Amount:        features.Float(120.5),
		City:          "Boston",
		Lat:           features.Float(42.36),
		Long:          features.Float(-71.06),
		TransactionID: "tx-1",
		MerchLat:      features.Float(42.35),
		MerchLong:     features.Float(-71.05),
	}
}

type stubSetup struct {
	engine  *Engine
	forest  *countingScorer
	booster *countingScorer
	explain *stubExplainer
	metrics *MockMetrics
}

func newStubEngine(t *testing.T, pForest, pBooster float64) *stubSetup {
	t.Helper()
	s := &stubSetup{
		forest:  &countingScorer{p: pForest},
		booster: &countingScorer{p: pBooster},
		explain: &stubExplainer{attrs: sampleAttributions()},
		metrics: &MockMetrics{},
	}
	ens, err := ml.NewEnsemble(s.forest, s.booster, ml.DefaultEnsembleConfig())
	require.NoError(t, err)
	c, err := NewContext(mltest.Encoders(), ens, s.explain, 5)
	require.NoError(t, err)
	s.engine = NewEngine(c, Config{})
	s.engine.SetMetrics(s.metrics)
	return s
}

func TestScore_StubPairAtThreshold(t *testing.T) {
	s := newStubEngine(t, 0.9, 0.1)

	res, err := s.engine.Score(context.Background(), validTx())
	require.NoError(t, err)

	assert.Equal(t, 0.5, res.Probability)
	assert.True(t, res.IsFraud)
	assert.Equal(t, 0.9, res.ForestProbability)
	assert.Equal(t, 0.1, res.BoosterProbability)
	assert.Equal(t, StageResponded, res.Stage)
	assert.Equal(t, "tx-1", res.TransactionID)
	assert.Len(t, res.Reasons, 5)
	assert.Len(t, res.Attributions, 5)
	assert.Equal(t, res.Attributions[0].Reason(), res.Reasons[0])

	assert.Equal(t, 1, s.metrics.Predictions())
	assert.Equal(t, 1, s.metrics.Flagged())
	assert.Equal(t, []float64{0.5}, s.metrics.Scores())
}

func TestScore_MalformedTime(t *testing.T) {
	s := newStubEngine(t, 0.9, 0.1)
	store := &recordingStore{}
	s.engine.SetHistory(store)

	tx := validTx()
	tx.Time = "15/03/2024 14:30"
	res, err := s.engine.Score(context.Background(), tx)
	require.Error(t, err)
	assert.Nil(t, res)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageFeaturized, se.Stage)
	assert.ErrorIs(t, err, features.ErrParse)
	assert.Equal(t, KindParse, Kind(err))

	assert.Zero(t, store.recorded(), "failed requests must not be recorded")
	assert.Zero(t, s.forest.calls.Load())
	assert.Equal(t, 1, s.metrics.Failures(KindParse))
	assert.Zero(t, s.metrics.Predictions())
}

func TestScore_MissingMerchantLocation(t *testing.T) {
	s := newStubEngine(t, 0.9, 0.1)

	tx := validTx()
	tx.MerchLat = nil
	tx.MerchLong = nil
	_, err := s.engine.Score(context.Background(), tx)
	require.Error(t, err)
	assert.ErrorIs(t, err, features.ErrFeature)
	assert.Equal(t, KindFeature, Kind(err))

	assert.Zero(t, s.forest.calls.Load(), "classifiers must not be called")
	assert.Zero(t, s.booster.calls.Load())
	assert.Zero(t, s.explain.calls.Load())
}

func TestScore_ExplainFailure(t *testing.T) {
	s := newStubEngine(t, 0.2, 0.2)
	s.explain.err = errors.New("tree walk failed")

	_, err := s.engine.Score(context.Background(), validTx())
	require.Error(t, err)
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageExplained, se.Stage)
	assert.ErrorIs(t, err, ml.ErrExplain)
	assert.Equal(t, 1, s.metrics.Failures(KindExplain))
}

func TestScore_ScoreFailureWins(t *testing.T) {
	forest := ml.ScorerFunc(func(features.Vector) (float64, error) { return 0, errors.New("broken") })
	ens, err := ml.NewEnsemble(forest, &countingScorer{p: 0.5}, ml.DefaultEnsembleConfig())
	require.NoError(t, err)
	c, err := NewContext(mltest.Encoders(), ens, &stubExplainer{err: errors.New("also broken")}, 5)
	require.NoError(t, err)

	_, err = NewEngine(c, Config{}).Score(context.Background(), validTx())
	require.Error(t, err)
	assert.Equal(t, KindScore, Kind(err))
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageScored, se.Stage)
}

func TestScore_CancelledContext(t *testing.T) {
	s := newStubEngine(t, 0.9, 0.1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.engine.Score(ctx, validTx())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInference)
	assert.Equal(t, KindInference, Kind(err))
}

func TestScore_WithHistory(t *testing.T) {
	s := newStubEngine(t, 0.1, 0.1)
	store, err := history.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	s.engine.SetHistory(store)

	first := validTx()
	first.Time = "2024-03-15T14:00"
	first.Amount = features.Float(100)
	_, err = s.engine.Score(context.Background(), first)
	require.NoError(t, err)
	v := s.forest.lastVector()
	assert.Equal(t, 1.0, v[features.IdxTxCount], "unknown card uses neutral defaults")

	second := validTx()
	second.Amount = features.Float(300)
	_, err = s.engine.Score(context.Background(), second)
	require.NoError(t, err)
	v = s.forest.lastVector()
	assert.Equal(t, 2.0, v[features.IdxTxCount])
	assert.Equal(t, 1800.0, v[features.IdxTimeDiff])
	assert.Equal(t, 200.0, v[features.IdxAvgAmount])
	assert.Equal(t, 100.0, v[features.IdxAmountDiff])
}

func TestScore_Concurrent(t *testing.T) {
	s := newStubEngine(t, 0.3, 0.6)
	store := &recordingStore{}
	s.engine.SetHistory(store)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := validTx()
			tx.CardNumber = fmt.Sprintf("card-%d", i%5)
			res, err := s.engine.Score(context.Background(), tx)
			if assert.NoError(t, err) {
				assert.InDelta(t, 0.45, res.Probability, 1e-12)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, store.recorded())
	assert.Equal(t, n, s.metrics.Predictions())
}

func TestLoadContext(t *testing.T) {
	a := mltest.WriteArtifacts(t, t.TempDir())
	cfg := Config{
		ForestPath:  a.Forest,
		BoosterPath: a.Booster,
		EncoderPath: a.Encoders,
		Ensemble:    ml.DefaultEnsembleConfig(),
		TopReasons:  5,
	}
	c, err := LoadContext(cfg)
	require.NoError(t, err)

	info := c.Info()
	assert.Equal(t, 2, info.Forest.Trees)
	assert.Equal(t, 3, info.Cities)
	assert.Equal(t, features.NumFeatures, len(info.FeatureNames))
	assert.Equal(t, a.Encoders, info.EncoderPath)
	assert.False(t, info.LoadedAt.IsZero())

	e := NewEngine(c, cfg)
	res, err := e.Score(context.Background(), validTx())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Probability, 0.0)
	assert.LessOrEqual(t, res.Probability, 1.0)
	assert.Len(t, res.Reasons, 5)
	assert.Equal(t, res.Probability >= 0.5, res.IsFraud)
}

func TestLoadContext_Failures(t *testing.T) {
	a := mltest.WriteArtifacts(t, t.TempDir())
	base := Config{
		ForestPath:  a.Forest,
		BoosterPath: a.Booster,
		EncoderPath: a.Encoders,
		Ensemble:    ml.DefaultEnsembleConfig(),
		TopReasons:  5,
	}
	misspelt := filepath.Join(a.Dir, "encoders_cities.json")
	require.NoError(t, os.WriteFile(misspelt, []byte(`{"transaction_type":["purchase"],"cities":["Austin"]}`), 0o600))

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"missing encoders", func(c *Config) { c.EncoderPath = a.Dir + "/none.json" }, ml.ErrModelLoad},
		{"encoder city list under wrong key", func(c *Config) { c.EncoderPath = misspelt }, ml.ErrModelLoad},
		{"missing forest", func(c *Config) { c.ForestPath = a.Dir + "/none.json" }, ml.ErrModelLoad},
		{"booster in forest slot", func(c *Config) { c.ForestPath = a.Booster }, ml.ErrModelLoad},
		{"bad weights", func(c *Config) { c.Ensemble.ForestWeight = 0.9 }, nil},
		{"too many reasons", func(c *Config) { c.TopReasons = 40 }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := LoadContext(cfg)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestEngine_Reload(t *testing.T) {
	a := mltest.WriteArtifacts(t, t.TempDir())
	cfg := Config{
		ForestPath:  a.Forest,
		BoosterPath: a.Booster,
		EncoderPath: a.Encoders,
		Ensemble:    ml.DefaultEnsembleConfig(),
		TopReasons:  5,
	}
	c, err := LoadContext(cfg)
	require.NoError(t, err)
	e := NewEngine(c, cfg)
	m := &MockMetrics{}
	e.SetMetrics(m)

	require.NoError(t, e.Reload())
	assert.NotSame(t, c, e.Context(), "reload swaps in a new context")
	assert.Equal(t, 1, m.Reloads(true))

	active := e.Context()
	require.NoError(t, os.Remove(a.Booster))
	assert.ErrorIs(t, e.Reload(), ml.ErrModelLoad)
	assert.Same(t, active, e.Context(), "failed reload keeps the active context")
	assert.Equal(t, 1, m.Reloads(false))

	_, err = e.Score(context.Background(), validTx())
	assert.NoError(t, err, "scoring continues on the old models")
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: x", features.ErrParse), KindParse},
		{fmt.Errorf("%w: x", features.ErrFeature), KindFeature},
		{fmt.Errorf("%w: x", features.ErrSchema), KindSchema},
		{&StageError{Stage: StageScored, Err: fmt.Errorf("%w: x", ml.ErrScore)}, KindScore},
		{fmt.Errorf("%w: x", ml.ErrExplain), KindExplain},
		{fmt.Errorf("%w: x", ml.ErrModelLoad), KindModel},
		{errors.New("other"), KindInference},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err), tt.err.Error())
	}
}
