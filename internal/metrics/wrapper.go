package metrics

import (
	"strconv"
	"time"
)

// Wrapper adapts Metrics to the method set the scoring engine and the HTTP
// layer record through, so those packages never touch Prometheus types.
type Wrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

// Metrics returns the wrapped metrics.
func (w *Wrapper) Metrics() *Metrics {
	return w.m
}

func (w *Wrapper) PredictionsInc() {
	w.m.Predictions.Inc()
}

func (w *Wrapper) FailuresInc(kind string) {
	w.m.Failures.WithLabelValues(kind).Inc()
}

func (w *Wrapper) FlaggedInc() {
	w.m.Flagged.Inc()
}

func (w *Wrapper) LatencyObserve(seconds float64) {
	w.m.Latency.Observe(seconds)
}

func (w *Wrapper) ScoreObserve(p float64) {
	w.m.Scores.Observe(p)
}

func (w *Wrapper) ModelAgeSet(seconds float64) {
	w.m.ModelAge.Set(seconds)
}

func (w *Wrapper) ReloadsInc(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	w.m.ModelReloads.WithLabelValues(result).Inc()
}

// ObserveHTTP records one finished HTTP request.
func (w *Wrapper) ObserveHTTP(method, endpoint string, status int, d time.Duration) {
	w.m.HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	w.m.HTTPDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

func (w *Wrapper) WSMessagesInc() {
	w.m.WSMessages.Inc()
}
