package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewWrapper(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewWithRegistry(registry)
	wrapper := NewWrapper(metrics)

	if wrapper == nil {
		t.Fatal("NewWrapper returned nil")
	}
	if wrapper.Metrics() != metrics {
		t.Error("Wrapper does not contain correct metrics instance")
	}
}

func TestWrapper_ScoringCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewWithRegistry(registry)
	wrapper := NewWrapper(metrics)

	if v := testutil.ToFloat64(metrics.Predictions); v != 0 {
		t.Errorf("Expected initial counter value 0, got %f", v)
	}

	wrapper.PredictionsInc()
	wrapper.PredictionsInc()
	wrapper.FlaggedInc()

	if v := testutil.ToFloat64(metrics.Predictions); v != 2 {
		t.Errorf("Expected 2 predictions, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.Flagged); v != 1 {
		t.Errorf("Expected 1 flagged, got %f", v)
	}
}

func TestWrapper_FailuresByKind(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	wrapper := NewWrapper(metrics)

	wrapper.FailuresInc("parse_error")
	wrapper.FailuresInc("parse_error")
	wrapper.FailuresInc("feature_error")

	if v := testutil.ToFloat64(metrics.Failures.WithLabelValues("parse_error")); v != 2 {
		t.Errorf("Expected 2 parse errors, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.Failures.WithLabelValues("feature_error")); v != 1 {
		t.Errorf("Expected 1 feature error, got %f", v)
	}
	if n := testutil.CollectAndCount(metrics.Failures); n != 2 {
		t.Errorf("Expected 2 label sets, got %d", n)
	}
}

func TestWrapper_ModelGauges(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	wrapper := NewWrapper(metrics)

	wrapper.ModelAgeSet(42.5)
	if v := testutil.ToFloat64(metrics.ModelAge); v != 42.5 {
		t.Errorf("Expected model age 42.5, got %f", v)
	}
	wrapper.ModelAgeSet(0)
	if v := testutil.ToFloat64(metrics.ModelAge); v != 0 {
		t.Errorf("Expected model age reset to 0, got %f", v)
	}

	wrapper.ReloadsInc(true)
	wrapper.ReloadsInc(false)
	wrapper.ReloadsInc(false)
	if v := testutil.ToFloat64(metrics.ModelReloads.WithLabelValues("success")); v != 1 {
		t.Errorf("Expected 1 successful reload, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.ModelReloads.WithLabelValues("failure")); v != 2 {
		t.Errorf("Expected 2 failed reloads, got %f", v)
	}
}

func TestWrapper_Histograms(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewWithRegistry(registry)
	wrapper := NewWrapper(metrics)

	values := []float64{0.001, 0.01, 0.1}
	for _, v := range values {
		wrapper.LatencyObserve(v)
		wrapper.ScoreObserve(v)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	found := map[string]uint64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if h := m.GetHistogram(); h != nil {
				found[mf.GetName()] += h.GetSampleCount()
			}
		}
	}
	for _, name := range []string{"fraud_latency_seconds", "fraud_scores"} {
		if found[name] != uint64(len(values)) {
			t.Errorf("Expected %d samples in %s, got %d", len(values), name, found[name])
		}
	}
}

func TestWrapper_ObserveHTTP(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	wrapper := NewWrapper(metrics)

	wrapper.ObserveHTTP("POST", "/predict", 200, 5*time.Millisecond)
	wrapper.ObserveHTTP("POST", "/predict", 500, time.Millisecond)
	wrapper.WSMessagesInc()

	if v := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("POST", "/predict", "200")); v != 1 {
		t.Errorf("Expected 1 ok request, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("POST", "/predict", "500")); v != 1 {
		t.Errorf("Expected 1 failed request, got %f", v)
	}
	if n := testutil.CollectAndCount(metrics.HTTPDuration); n != 1 {
		t.Errorf("Expected 1 duration series, got %d", n)
	}
	if v := testutil.ToFloat64(metrics.WSMessages); v != 1 {
		t.Errorf("Expected 1 websocket message, got %f", v)
	}
}

func TestNewWithRegistry_DuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewWithRegistry(registry)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic when registering the same metrics twice")
		}
	}()
	NewWithRegistry(registry)
}
