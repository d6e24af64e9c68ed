package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/liamashdown/tiltguard/internal/alerts"
	"github.com/liamashdown/tiltguard/internal/metrics"
	"github.com/liamashdown/tiltguard/internal/storage"
	"github.com/liamashdown/tiltguard/internal/tilt"
	"github.com/sirupsen/logrus"
)

// EvaluateAll re-analyzes every active session on the worker pool and
// alerts on level escalations. It returns the number of sessions evaluated.
func (m *Monitor) EvaluateAll(ctx context.Context) int {
	var targets []*session
	m.sessions.Range(func(key, value any) bool {
		s := value.(*session)
		if s.engine.State() != tilt.StateExported {
			targets = append(targets, s)
		}
		return true
	})

	var wg sync.WaitGroup
	for _, s := range targets {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()

			select {
			case <-m.workerPool:
			case <-ctx.Done():
				return
			}
			defer func() { m.workerPool <- struct{}{} }()

			m.evaluate(ctx, s)
		}(s)
	}
	wg.Wait()

	return len(targets)
}

func (m *Monitor) evaluate(ctx context.Context, s *session) {
	// Sessions without wagers have nothing to alert on
	if s.engine.Stats().TotalBets == 0 {
		return
	}

	a := m.analyze(s)

	s.mu.Lock()
	previous := s.lastLevel
	s.lastLevel = a.Level
	s.mu.Unlock()

	if previous != a.Level {
		m.log.WithFields(logrus.Fields{
			"subject":        s.subject,
			"session_id":     s.engine.ID(),
			"level":          a.Level,
			"previous_level": previous,
			"overall_score":  a.OverallScore,
		}).Info("Risk level changed")
	}

	if a.Level.Rank() < m.opts.AlertMinLevel.Rank() || a.Level.Rank() <= previous.Rank() {
		return
	}

	m.maybeAlert(ctx, s, previous, a)
}

// maybeAlert sends an escalation alert unless the subject is in cooldown
func (m *Monitor) maybeAlert(ctx context.Context, s *session, previous tilt.Level, a tilt.RiskAnalysis) {
	now := m.opts.Now()

	s.mu.Lock()
	lastAlertAt := s.lastAlertAt
	s.mu.Unlock()

	// After a restart the in-memory timestamp is empty; fall back to the archive
	if lastAlertAt.IsZero() && m.store != nil {
		last, err := m.store.GetLastAlert(ctx, s.subject)
		if err != nil {
			m.log.WithError(err).WithField("subject", s.subject).Warn("Failed to load last alert")
		} else if last != nil {
			lastAlertAt = time.Unix(last.CreatedTS, 0)
		}
	}

	if !lastAlertAt.IsZero() && now.Sub(lastAlertAt) < m.opts.AlertCooldown {
		metrics.RecordAlert(string(a.Level), nil, true)
		m.log.WithFields(logrus.Fields{
			"subject":    s.subject,
			"level":      a.Level,
			"last_alert": lastAlertAt.UTC().Format(time.RFC3339),
		}).Debug("Alert suppressed by cooldown")
		return
	}

	s.mu.Lock()
	s.lastAlertAt = now
	s.mu.Unlock()

	if m.alertSender == nil {
		return
	}

	payload := alerts.NewPayload(s.subject, s.engine.ID(), previous, a, s.engine.Stats(), m.opts.Environment, now)
	err := m.alertSender.Send(ctx, payload)
	metrics.RecordAlert(string(a.Level), err, false)
	if err != nil {
		m.log.WithError(err).WithField("subject", s.subject).Error("Failed to send alert")
	}

	if m.store != nil {
		rec := &storage.AlertRecord{
			Subject:       s.subject,
			SessionID:     s.engine.ID(),
			Level:         string(a.Level),
			PreviousLevel: string(previous),
			OverallScore:  a.OverallScore,
			Factors:       storage.FactorNames(a.Factors),
			CreatedTS:     now.Unix(),
		}
		if _, err := m.store.InsertAlert(ctx, rec); err != nil {
			m.log.WithError(err).WithField("subject", s.subject).Error("Failed to record alert")
		}
	}
}
