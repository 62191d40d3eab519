package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudscore/internal/features"
	"fraudscore/internal/inference"
	"fraudscore/internal/metrics"
	"fraudscore/internal/ml"
	"fraudscore/internal/ml/mltest"
	"fraudscore/internal/server"
)

type fixedAttributor struct{}

func (fixedAttributor) Explain(v features.Vector, n int) ([]ml.Attribution, error) {
	attrs := []ml.Attribution{
		{Feature: "amt", Value: v[features.IdxAmount], Contribution: 0.3},
		{Feature: "hour", Value: v[features.IdxHour], Contribution: -0.1},
	}
	if n < len(attrs) {
		attrs = attrs[:n]
	}
	return attrs, nil
}

func constant(p float64) ml.Scorable {
	return ml.ScorerFunc(func(features.Vector) (float64, error) { return p, nil })
}

type fixture struct {
	handler  http.Handler
	registry *prometheus.Registry
}

func newFixture(t *testing.T, pForest, pBooster float64) *fixture {
	t.Helper()
	ens, err := ml.NewEnsemble(constant(pForest), constant(pBooster), ml.DefaultEnsembleConfig())
	require.NoError(t, err)
	c, err := inference.NewContext(mltest.Encoders(), ens, fixedAttributor{}, 5)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.NewWrapper(metrics.NewWithRegistry(reg))
	engine := inference.NewEngine(c, inference.Config{})
	engine.SetMetrics(m)

	s := server.New(engine, server.Config{RequestTimeout: time.Second}, m, reg)
	return &fixture{handler: s.Handler(), registry: reg}
}

const validBody = `{
	"transactionTime": "2024-03-15T14:30",
	"ccNum": 4111111111111111,
	"transactionType": "purchase",
	"amount": 120.5,
	"city": "Boston",
	"userLocation": {"lat": 42.36, "lon": -71.06},
	"transactionId": "tx-1",
	"merchantLocation": {"lat": 42.35, "lon": -71.05}
}`

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestPredict_Success(t *testing.T) {
	f := newFixture(t, 0.9, 0.1)

	rec := f.do(t, http.MethodPost, "/predict", validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(server.HeaderRequestID))

	var resp server.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsFraud)
	assert.InDelta(t, 0.5, resp.Confidence, 1e-12)
	require.Len(t, resp.FraudReason, 2)
	assert.Equal(t, "Feature 'amt' with value '120.5' contributed positively (+0.3000) to the fraud prediction.", resp.FraudReason[0])
	assert.Equal(t, rec.Header().Get(server.HeaderRequestID), resp.RequestID)
}

func TestPredict_KeepsCallerRequestID(t *testing.T) {
	f := newFixture(t, 0.2, 0.2)
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(validBody))
	req.Header.Set(server.HeaderRequestID, "abc-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp server.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc-123", resp.RequestID)
	assert.False(t, resp.IsFraud)
}

func TestPredict_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantKind string
	}{
		{"not json", `{"amount":`, http.StatusBadRequest, ""},
		{"wrong type", `{"amount":"lots"}`, http.StatusBadRequest, ""},
		{"malformed time", strings.Replace(validBody, "2024-03-15T14:30", "15/03/2024", 1), http.StatusInternalServerError, inference.KindParse},
		{"missing merchant location", strings.Replace(validBody, `"merchantLocation": {"lat": 42.35, "lon": -71.05}`, `"merchantLocation": null`, 1), http.StatusInternalServerError, inference.KindFeature},
		{"missing amount", strings.Replace(validBody, `"amount": 120.5,`, "", 1), http.StatusInternalServerError, inference.KindFeature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0.9, 0.1)
			rec := f.do(t, http.MethodPost, "/predict", tt.body)
			require.Equal(t, tt.wantCode, rec.Code)

			var resp server.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, 0.5, 0.5)
	rec := f.do(t, http.MethodGet, "/predict", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 0.5, 0.5)
	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestModelInfo(t *testing.T) {
	a := mltest.WriteArtifacts(t, t.TempDir())
	cfg := inference.Config{
		ForestPath:  a.Forest,
		BoosterPath: a.Booster,
		EncoderPath: a.Encoders,
		Ensemble:    ml.EnsembleConfig{ForestWeight: 0.7, BoosterWeight: 0.3, Threshold: 0.6},
		TopReasons:  3,
	}
	c, err := inference.LoadContext(cfg)
	require.NoError(t, err)
	h := server.New(inference.NewEngine(c, cfg), server.Config{}, nil, prometheus.NewRegistry()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/model/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info inference.ModelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, a.Forest, info.Forest.Path)
	assert.Equal(t, 2, info.Forest.Trees)
	assert.Equal(t, 2, info.Booster.Trees)
	assert.Equal(t, 0.7, info.Ensemble.ForestWeight)
	assert.Equal(t, 0.6, info.Ensemble.Threshold)
	assert.Equal(t, 3, info.TopReasons)
	assert.Len(t, info.FeatureNames, features.NumFeatures)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, 0.9, 0.1)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/predict", validBody).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/predict", "{").Code)

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "fraud_predictions_total 1")
	assert.Contains(t, body, "fraud_flagged_total 1")
	assert.Contains(t, body, `http_requests_total{endpoint="/predict",method="POST",status="200"} 1`)
	assert.Contains(t, body, `http_requests_total{endpoint="/predict",method="POST",status="400"} 1`)
}

func TestRequest_CardNumberForms(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"ccNum":"4111 1111"}`, "4111 1111"},
		{`{"ccNum":4111111111111111}`, "4111111111111111"},
		{`{"ccNum":null}`, ""},
		{`{}`, ""},
	}
	for _, tt := range tests {
		var req server.Request
		require.NoError(t, json.Unmarshal([]byte(tt.body), &req), tt.body)
		assert.Equal(t, tt.want, req.Transaction().CardNumber, tt.body)
	}

	var req server.Request
	assert.Error(t, json.Unmarshal([]byte(`{"ccNum":true}`), &req))
}

func TestRequest_Transaction(t *testing.T) {
	var req server.Request
	require.NoError(t, json.Unmarshal([]byte(validBody), &req))
	tx := req.Transaction()

	assert.Equal(t, "2024-03-15T14:30", tx.Time)
	assert.Equal(t, "purchase", tx.Type)
	assert.Equal(t, "tx-1", tx.TransactionID)
	require.NotNil(t, tx.Amount)
	assert.Equal(t, 120.5, *tx.Amount)
	require.NotNil(t, tx.Lat)
	assert.Equal(t, 42.36, *tx.Lat)
	require.NotNil(t, tx.MerchLong)
	assert.Equal(t, -71.05, *tx.MerchLong)

	req.UserLocation = nil
	tx = req.Transaction()
	assert.Nil(t, tx.Lat)
	assert.Nil(t, tx.Long)
}

func TestScoreStream(t *testing.T) {
	f := newFixture(t, 0.9, 0.1)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/score"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	frames := []struct {
		body     string
		wantKind string
	}{
		{validBody, ""},
		{"not json", server.KindRequest},
		{strings.Replace(validBody, "2024-03-15T14:30", "yesterday", 1), inference.KindParse},
		{validBody, ""},
	}
	for _, fr := range frames {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(fr.body)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "stream must stay open after a failed frame")

		if fr.wantKind == "" {
			var resp server.Response
			require.NoError(t, json.Unmarshal(data, &resp))
			assert.True(t, resp.IsFraud)
			assert.InDelta(t, 0.5, resp.Confidence, 1e-12)
			assert.NotEmpty(t, resp.RequestID)
			continue
		}
		var resp server.ErrorResponse
		require.NoError(t, json.Unmarshal(data, &resp))
		assert.Equal(t, fr.wantKind, resp.Kind)
		assert.NotEmpty(t, resp.Error)
	}

	rec := f.do(t, http.MethodGet, "/metrics", "")
	assert.Contains(t, rec.Body.String(), "ws_messages_total 4")
}
