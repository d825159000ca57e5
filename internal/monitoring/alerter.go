package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertLowQuality     AlertType = "low_quality"
)

// minRuns is the smallest sample the alert rules act on.
const minRuns = 5

// Alert is one fired rule, posted to the webhook as JSON.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// rule returns an alert when stats breach the configured limit.
type rule func(cfg config.MonitoringConfig, s *RunStats) (Alert, bool)

var rules = []rule{failureRateRule, lowQualityRule}

func failureRateRule(cfg config.MonitoringConfig, s *RunStats) (Alert, bool) {
	if s.RunsTotal < minRuns || s.FailRate <= cfg.FailureRateThreshold {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertRunFailureRate,
		Severity: "high",
		Message: fmt.Sprintf("%.1f%% of ingestion runs failed in the last %dh (%d failed / %d runs, threshold %.1f%%)",
			s.FailRate*100, s.LookbackHours, s.RunsFailed, s.RunsTotal, cfg.FailureRateThreshold*100),
		Details: map[string]any{
			"fail_rate": s.FailRate,
			"threshold": cfg.FailureRateThreshold,
			"failed":    s.RunsFailed,
			"runs":      s.RunsTotal,
		},
	}, true
}

// lowQualityRule only looks at runs that produced a report; a zero
// MinAvgQuality turns it off.
func lowQualityRule(cfg config.MonitoringConfig, s *RunStats) (Alert, bool) {
	scored := s.RunsTotal - s.RunsFailed
	if cfg.MinAvgQuality <= 0 || scored < minRuns || s.AvgQuality >= cfg.MinAvgQuality {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertLowQuality,
		Severity: "medium",
		Message: fmt.Sprintf("Average catalog quality %.1f is below %.1f over %d runs in the last %dh",
			s.AvgQuality, cfg.MinAvgQuality, scored, s.LookbackHours),
		Details: map[string]any{
			"avg_quality": s.AvgQuality,
			"threshold":   cfg.MinAvgQuality,
			"ratings":     s.Ratings,
		},
	}, true
}

// Alerter evaluates RunStats against the configured limits and delivers
// alerts to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate returns the alerts that fire for stats, in rule order.
func (a *Alerter) Evaluate(stats *RunStats) []Alert {
	now := a.now().UTC()
	var alerts []Alert
	for _, r := range rules {
		if alert, ok := r(a.cfg, stats); ok {
			alert.Timestamp = now
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// SendAlerts posts each alert to the webhook and returns the ones that
// were delivered. Without a webhook URL nothing is sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) []Alert {
	if a.cfg.WebhookURL == "" {
		return nil
	}

	var delivered []Alert
	for _, alert := range alerts {
		log := zap.L().With(zap.String("type", string(alert.Type)), zap.String("severity", alert.Severity))
		if err := a.post(ctx, alert); err != nil {
			log.Error("monitoring: alert not delivered", zap.Error(err))
			continue
		}
		log.Info("monitoring: alert delivered")
		delivered = append(delivered, alert)
	}
	return delivered
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook answered %d", resp.StatusCode)
	}
	return nil
}
