package alerts

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender sends alerts to the logger
type LogSender struct {
	log *logrus.Logger
}

// NewLogSender creates a new log sender
func NewLogSender(log *logrus.Logger) *LogSender {
	return &LogSender{log: log}
}

// Send logs the alert
func (s *LogSender) Send(ctx context.Context, payload *AlertPayload) error {
	fields := logrus.Fields{
		"subject":        payload.Subject,
		"session_id":     payload.SessionID,
		"level":          payload.Level,
		"previous_level": payload.PreviousLevel,
		"overall_score":  payload.OverallScore,
		"factors":        len(payload.Factors),
		"total_bets":     payload.Stats.TotalBets,
		"net_pnl":        payload.Stats.NetPnL,
	}
	if rec, ok := payload.TopRecommendation(); ok {
		fields["action"] = rec.Action
	}
	s.log.WithFields(fields).Warn("Tilt alert")
	return nil
}
