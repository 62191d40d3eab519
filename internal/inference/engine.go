package inference

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"fraudscore/internal/features"
	"fraudscore/internal/history"
	"fraudscore/internal/ml"
)

// MetricsInterface is the subset of metrics the engine records.
type MetricsInterface interface {
	PredictionsInc()
	FailuresInc(kind string)
	FlaggedInc()
	LatencyObserve(seconds float64)
	ScoreObserve(p float64)
	ModelAgeSet(seconds float64)
	ReloadsInc(ok bool)
}

// Result is the outcome of scoring one transaction.
type Result struct {
	TransactionID      string           `json:"transaction_id,omitempty"`
	Probability        float64          `json:"probability"`
	IsFraud            bool             `json:"is_fraud"`
	Reasons            []string         `json:"reasons"`
	Attributions       []ml.Attribution `json:"attributions"`
	ForestProbability  float64          `json:"forest_probability"`
	BoosterProbability float64          `json:"booster_probability"`
	Stage              Stage            `json:"stage"`
	Duration           time.Duration    `json:"duration"`
}

// Engine scores transactions against the active Context. Reload swaps the
// Context atomically; a request keeps the Context it started with.
type Engine struct {
	current atomic.Pointer[Context]
	cfg     Config
	history history.Store
	metrics MetricsInterface
}

// NewEngine serves c. cfg is what Reload loads from.
func NewEngine(c *Context, cfg Config) *Engine {
	e := &Engine{cfg: cfg}
	e.current.Store(c)
	return e
}

// SetMetrics sets the metrics sink. Call before serving.
func (e *Engine) SetMetrics(m MetricsInterface) {
	e.metrics = m
}

// SetHistory enables card history. Call before serving.
func (e *Engine) SetHistory(s history.Store) {
	e.history = s
}

// Context returns the active Context.
func (e *Engine) Context() *Context {
	return e.current.Load()
}

// Reload loads a fresh Context and swaps it in. On failure the active
// Context is kept.
func (e *Engine) Reload() error {
	c, err := LoadContext(e.cfg)
	if e.metrics != nil {
		e.metrics.ReloadsInc(err == nil)
	}
	if err != nil {
		log.Error().Err(err).Msg("Model reload failed, keeping active models")
		return err
	}
	e.current.Store(c)
	log.Info().Time("loaded_at", c.info.LoadedAt).Msg("Models reloaded")
	return nil
}

// Score runs one transaction through featurization, scoring and
// attribution. Errors are *StageError values.
func (e *Engine) Score(ctx context.Context, tx features.Transaction) (*Result, error) {
	start := time.Now()
	c := e.current.Load()

	res, err := e.score(ctx, c, tx)
	if e.metrics != nil {
		e.metrics.LatencyObserve(time.Since(start).Seconds())
		if c != nil {
			e.metrics.ModelAgeSet(time.Since(c.info.LoadedAt).Seconds())
		}
	}
	if err != nil {
		kind := Kind(err)
		if e.metrics != nil {
			e.metrics.FailuresInc(kind)
		}
		var se *StageError
		stage := StageFailed
		if errors.As(err, &se) {
			stage = se.Stage
		}
		log.Warn().Err(err).
			Str("transaction_id", tx.TransactionID).
			Str("stage", string(stage)).
			Str("kind", kind).
			Msg("Scoring failed")
		return nil, err
	}

	res.Duration = time.Since(start)
	if e.metrics != nil {
		e.metrics.PredictionsInc()
		e.metrics.ScoreObserve(res.Probability)
		if res.IsFraud {
			e.metrics.FlaggedInc()
		}
	}
	e.record(ctx, tx)

	log.Debug().
		Str("transaction_id", tx.TransactionID).
		Float64("probability", res.Probability).
		Bool("is_fraud", res.IsFraud).
		Dur("took", res.Duration).
		Msg("Transaction scored")
	return res, nil
}

func fail(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

func (e *Engine) score(ctx context.Context, c *Context, tx features.Transaction) (*Result, error) {
	if c == nil {
		return nil, fail(StageReceived, fmt.Errorf("%w: no models loaded", ErrInference))
	}
	if err := ctx.Err(); err != nil {
		return nil, fail(StageReceived, fmt.Errorf("%w: %v", ErrInference, err))
	}

	v, err := c.deriver.DeriveWithHistory(tx, e.lookup(ctx, tx))
	if err != nil {
		if Kind(err) == KindInference {
			err = fmt.Errorf("%w: %v", ErrInference, err)
		}
		return nil, fail(StageFeaturized, err)
	}

	var (
		decision     ml.Decision
		attributions []ml.Attribution
		scoreErr     error
		explainErr   error
	)
	var g errgroup.Group
	g.Go(func() error {
		decision, scoreErr = c.ensemble.Predict(v)
		return scoreErr
	})
	g.Go(func() error {
		attributions, explainErr = c.explainer.Explain(v, c.topReasons)
		return explainErr
	})
	_ = g.Wait()

	if scoreErr != nil {
		return nil, fail(StageScored, scoreErr)
	}
	if explainErr != nil {
		if !errors.Is(explainErr, ml.ErrExplain) {
			explainErr = fmt.Errorf("%w: %v", ml.ErrExplain, explainErr)
		}
		return nil, fail(StageExplained, explainErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, fail(StageResponded, fmt.Errorf("%w: %v", ErrInference, err))
	}

	return &Result{
		TransactionID:      tx.TransactionID,
		Probability:        decision.Probability,
		IsFraud:            decision.IsFraud,
		Reasons:            ml.Reasons(attributions),
		Attributions:       attributions,
		ForestProbability:  decision.ForestProbability,
		BoosterProbability: decision.BoosterProbability,
		Stage:              StageResponded,
	}, nil
}

// lookup returns the card's profile, or nil to use neutral defaults. Store
// failures degrade to neutral defaults.
func (e *Engine) lookup(ctx context.Context, tx features.Transaction) *features.CardProfile {
	if e.history == nil || tx.CardNumber == "" {
		return nil
	}
	p, found, err := e.history.Lookup(ctx, tx.CardNumber)
	if err != nil {
		log.Warn().Err(err).Str("transaction_id", tx.TransactionID).Msg("Card history lookup failed, using defaults")
		return nil
	}
	if !found {
		return nil
	}
	return &p
}

// record adds a scored transaction to the card's history. Only called
// after the transaction has been fully scored.
func (e *Engine) record(ctx context.Context, tx features.Transaction) {
	if e.history == nil || tx.CardNumber == "" {
		return
	}
	at, err := features.ParseTime(tx.Time)
	if err != nil || tx.Amount == nil {
		return
	}
	obs := history.Observation{Amount: *tx.Amount, At: at, Lat: tx.Lat, Long: tx.Long}
	if err := e.history.Record(ctx, tx.CardNumber, obs); err != nil {
		log.Warn().Err(err).Str("transaction_id", tx.TransactionID).Msg("Failed to record card history")
	}
}
