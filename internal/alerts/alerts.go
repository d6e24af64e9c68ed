package alerts

import (
	"context"
	"time"

	"github.com/liamashdown/tiltguard/internal/tilt"
)

// AlertPayload contains all information for a tilt alert
type AlertPayload struct {
	Subject         string
	SessionID       string
	Level           tilt.Level
	PreviousLevel   tilt.Level
	OverallScore    float64
	Factors         []tilt.RiskFactor
	Recommendations []tilt.Recommendation
	Stats           tilt.Stats
	Timestamp       time.Time
	Environment     string
}

// NewPayload builds an alert from an analysis of one subject's session
func NewPayload(subject, sessionID string, previous tilt.Level, a tilt.RiskAnalysis, stats tilt.Stats, env string, ts time.Time) *AlertPayload {
	return &AlertPayload{
		Subject:         subject,
		SessionID:       sessionID,
		Level:           a.Level,
		PreviousLevel:   previous,
		OverallScore:    a.OverallScore,
		Factors:         a.Factors,
		Recommendations: a.Recommendations,
		Stats:           stats,
		Timestamp:       ts,
		Environment:     env,
	}
}

// TopRecommendation returns the first non-informational recommendation, if any
func (p *AlertPayload) TopRecommendation() (tilt.Recommendation, bool) {
	for _, r := range p.Recommendations {
		if r.Priority != tilt.PriorityInfo {
			return r, true
		}
	}
	return tilt.Recommendation{}, false
}

// Sender defines the interface for alert senders
type Sender interface {
	Send(ctx context.Context, payload *AlertPayload) error
}
