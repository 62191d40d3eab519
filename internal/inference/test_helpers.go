package inference

import "sync"

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu          sync.Mutex
	predictions int
	flagged     int
	failures    map[string]int
	latencySum  float64
	scores      []float64
	modelAge    float64
	reloads     map[bool]int
}

func (m *MockMetrics) PredictionsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions++
}

func (m *MockMetrics) FailuresInc(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures == nil {
		m.failures = make(map[string]int)
	}
	m.failures[kind]++
}

func (m *MockMetrics) FlaggedInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flagged++
}

func (m *MockMetrics) LatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySum += v
}

func (m *MockMetrics) ScoreObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = append(m.scores, v)
}

func (m *MockMetrics) ModelAgeSet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelAge = v
}

func (m *MockMetrics) ReloadsInc(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reloads == nil {
		m.reloads = make(map[bool]int)
	}
	m.reloads[ok]++
}

// Predictions returns the number of successful predictions recorded.
func (m *MockMetrics) Predictions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.predictions
}

// Flagged returns the number of fraud decisions recorded.
func (m *MockMetrics) Flagged() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flagged
}

// Failures returns the number of failures recorded for kind.
func (m *MockMetrics) Failures(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[kind]
}

// Scores returns a copy of the observed probabilities.
func (m *MockMetrics) Scores() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.scores...)
}

// Reloads returns the number of reloads recorded with the given result.
func (m *MockMetrics) Reloads(ok bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloads[ok]
}
