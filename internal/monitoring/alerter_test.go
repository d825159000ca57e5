package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-ingest/internal/config"
)

func testMonitoringConfig(url string) config.MonitoringConfig {
	return config.MonitoringConfig{
		WebhookURL:           url,
		FailureRateThreshold: 0.25,
		MinAvgQuality:        50,
		LookbackWindowHours:  24,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(""))
	alerts := a.Evaluate(&RunStats{RunsTotal: 20, RunsFailed: 2, FailRate: 0.1, AvgQuality: 82, LookbackHours: 24})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(""))
	alerts := a.Evaluate(&RunStats{RunsTotal: 10, RunsFailed: 4, FailRate: 0.4, AvgQuality: 80, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Contains(t, alerts[0].Message, "4 failed / 10 runs")
}

func TestAlerter_Evaluate_LowQuality(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(""))
	alerts := a.Evaluate(&RunStats{RunsTotal: 6, AvgQuality: 31.5, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLowQuality, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "31.5")
}

func TestAlerter_Evaluate_Both(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(""))
	alerts := a.Evaluate(&RunStats{RunsTotal: 20, RunsFailed: 10, FailRate: 0.5, AvgQuality: 20})
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, AlertLowQuality, alerts[1].Type)
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(""))
	alerts := a.Evaluate(&RunStats{RunsTotal: 4, RunsFailed: 4, FailRate: 1, AvgQuality: 0})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_QualityDisabled(t *testing.T) {
	cfg := testMonitoringConfig("")
	cfg.MinAvgQuality = 0
	a := NewAlerter(cfg)
	alerts := a.Evaluate(&RunStats{RunsTotal: 10, AvgQuality: 5})
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, AlertLowQuality, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(testMonitoringConfig(srv.URL))
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertLowQuality, Severity: "medium", Message: "q"},
		{Type: AlertLowQuality, Severity: "medium", Message: "q2"},
	})
	assert.Len(t, sent, 2)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(""))
	assert.Empty(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertLowQuality}}))
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig("http://127.0.0.1:1"))
	assert.Empty(t, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(testMonitoringConfig(srv.URL))
	assert.Empty(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailureRate}}))
}
