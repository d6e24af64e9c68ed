package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/liamashdown/tiltguard/internal/metrics"
	"github.com/liamashdown/tiltguard/internal/ratelimit"
	"github.com/liamashdown/tiltguard/internal/tilt"
)

// DiscordSender sends alerts to Discord via webhook
type DiscordSender struct {
	webhookURL string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// NewDiscordSender creates a new Discord sender. limiter may be nil.
func NewDiscordSender(webhookURL string, limiter *ratelimit.Limiter) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    limiter,
	}
}

// Send sends the alert to Discord
func (s *DiscordSender) Send(ctx context.Context, payload *AlertPayload) (err error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	defer func() { metrics.RecordAPIRequest("discord", "/webhook", time.Since(start), err) }()

	webhookPayload := map[string]interface{}{
		"embeds": []interface{}{s.buildEmbed(payload)},
	}

	body, err := json.Marshal(webhookPayload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return nil
}

func (s *DiscordSender) buildEmbed(payload *AlertPayload) map[string]interface{} {
	var title string
	var color int
	switch payload.Level {
	case tilt.LevelCritical:
		title = "🛑 Critical tilt risk"
		color = 0xFF0000
	case tilt.LevelHigh:
		title = "⚠️ High tilt risk"
		color = 0xFFA500
	default:
		title = "ℹ️ Elevated tilt risk"
		color = 0x0099FF
	}

	description := fmt.Sprintf("Subject **%s** scored **%.2f** (%s", payload.Subject, payload.OverallScore, payload.Level)
	if payload.PreviousLevel != "" && payload.PreviousLevel != payload.Level {
		description += fmt.Sprintf(", was %s", payload.PreviousLevel)
	}
	description += ")"

	fields := []map[string]interface{}{
		{
			"name":   "Bets",
			"value":  fmt.Sprintf("%d (%.1f/min)", payload.Stats.TotalBets, payload.Stats.BetsPerMinute),
			"inline": true,
		},
		{
			"name":   "Wagered",
			"value":  fmt.Sprintf("%.2f", payload.Stats.TotalWagered),
			"inline": true,
		},
		{
			"name":   "Net PnL",
			"value":  fmt.Sprintf("%.2f", payload.Stats.NetPnL),
			"inline": true,
		},
		{
			"name":   "Win Rate",
			"value":  fmt.Sprintf("%.0f%%", payload.Stats.WinRate*100),
			"inline": true,
		},
	}

	if len(payload.Factors) > 0 {
		fields = append(fields, map[string]interface{}{
			"name":   "📊 Risk Factors",
			"value":  formatFactors(payload.Factors, "\n"),
			"inline": false,
		})
	}

	if rec, ok := payload.TopRecommendation(); ok {
		fields = append(fields, map[string]interface{}{
			"name":   "Recommended Action",
			"value":  truncate(fmt.Sprintf("[%s] %s", rec.Priority, rec.Message), 1000),
			"inline": false,
		})
	}

	footer := map[string]interface{}{
		"text": fmt.Sprintf("tiltguard • %s • session %s", payload.Environment, payload.SessionID),
	}

	return map[string]interface{}{
		"title":       title,
		"description": description,
		"color":       color,
		"fields":      fields,
		"footer":      footer,
		"timestamp":   payload.Timestamp.Format(time.RFC3339),
	}
}

func formatFactors(factors []tilt.RiskFactor, sep string) string {
	parts := make([]string, 0, len(factors))
	for _, f := range factors {
		parts = append(parts, fmt.Sprintf("%s %.2f: %s", f.Name, f.Severity, f.Message))
	}
	return truncate(strings.Join(parts, sep), 1000)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
