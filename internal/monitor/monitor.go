// Package monitor runs one tilt engine per subject and drives evaluation,
// alerting, archival and platform polling around them.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liamashdown/tiltguard/internal/alerts"
	"github.com/liamashdown/tiltguard/internal/metrics"
	"github.com/liamashdown/tiltguard/internal/platform"
	"github.com/liamashdown/tiltguard/internal/storage"
	"github.com/liamashdown/tiltguard/internal/tilt"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSessionNotFound is returned for subjects that are not monitored
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoArchive is returned when an operation needs storage but none is configured
	ErrNoArchive = errors.New("archive not configured")
)

// Store is the persistence the monitor needs. *storage.DB implements it.
type Store interface {
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	InsertWagerEvent(ctx context.Context, subject, sessionID string, generation int, ev tilt.WagerEvent) error
	GetSessionEvents(ctx context.Context, sessionID string) ([]storage.WagerEventRecord, error)
	SaveExport(ctx context.Context, subject string, generation int, exp tilt.Export) error
	InsertAlert(ctx context.Context, alert *storage.AlertRecord) (int64, error)
	GetLastAlert(ctx context.Context, subject string) (*storage.AlertRecord, error)
}

// BetSource yields new bets for a subject. *platform.Client implements it.
type BetSource interface {
	GetBets(ctx context.Context, params platform.BetParams) ([]platform.Bet, error)
}

// Options configures a Monitor
type Options struct {
	Environment   string
	Location      *time.Location
	Workers       int
	AlertMinLevel tilt.Level
	AlertCooldown time.Duration
	Policy        tilt.Policy
	Now           func() time.Time
}

// session pairs an engine with the alerting state of its subject
type session struct {
	subject string
	engine  *tilt.Engine

	// gate orders resets against ingestion and export so every archived row
	// is tagged with the generation it was scored in
	gate       sync.RWMutex
	generation int

	mu          sync.Mutex
	lastLevel   tilt.Level
	lastAlertAt time.Time
}

// Summary describes one monitored session
type Summary struct {
	Subject   string     `json:"subject"`
	SessionID string     `json:"sessionId"`
	State     tilt.State `json:"state"`
	TotalBets int        `json:"totalBets"`
	LastLevel tilt.Level `json:"lastLevel,omitempty"`
}

// Monitor owns the per-subject engines
type Monitor struct {
	opts        Options
	store       Store // nil when the archive is disabled
	alertSender alerts.Sender
	log         *logrus.Logger
	workerPool  chan struct{}

	sessions    sync.Map // subject -> *session
	active      atomic.Int64
	pollLocks   sync.Map // subject -> *sync.Mutex
	checkpoints sync.Map // subject -> cursor, used when store is nil
}

// New creates a monitor. store and alertSender may be nil.
func New(opts Options, store Store, alertSender alerts.Sender, log *logrus.Logger) *Monitor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AlertMinLevel == "" {
		opts.AlertMinLevel = tilt.LevelHigh
	}
	if opts.Policy.PnLHistoryCap == 0 {
		opts.Policy = tilt.DefaultPolicy()
	}

	workerPool := make(chan struct{}, opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		workerPool <- struct{}{}
	}

	m := &Monitor{
		opts:        opts,
		alertSender: alertSender,
		log:         log,
		workerPool:  workerPool,
	}
	// avoid a typed-nil interface when the caller passes a nil *storage.DB
	if store != nil {
		if db, ok := store.(*storage.DB); !ok || db != nil {
			m.store = store
		}
	}
	return m
}

func (m *Monitor) newEngine(opts ...tilt.Option) *tilt.Engine {
	base := []tilt.Option{
		tilt.WithPolicy(m.opts.Policy),
		tilt.WithLocation(m.opts.Location),
		tilt.WithClock(m.opts.Now),
	}
	return tilt.New(append(base, opts...)...)
}

func (m *Monitor) get(subject string) (*session, error) {
	v, ok := m.sessions.Load(subject)
	if !ok {
		return nil, fmt.Errorf("%s: %w", subject, ErrSessionNotFound)
	}
	return v.(*session), nil
}

// Start begins monitoring a subject. It is idempotent; created reports
// whether a new session was opened.
func (m *Monitor) Start(subject string) (sessionID string, created bool) {
	s := &session{subject: subject, engine: m.newEngine()}
	actual, loaded := m.sessions.LoadOrStore(subject, s)
	if !loaded {
		metrics.ActiveSessions.Set(float64(m.active.Add(1)))
		m.log.WithFields(logrus.Fields{
			"subject":    subject,
			"session_id": s.engine.ID(),
		}).Info("Monitoring started")
	}
	return actual.(*session).engine.ID(), !loaded
}

// Stop forgets a subject's session without exporting it
func (m *Monitor) Stop(subject string) error {
	if _, ok := m.sessions.LoadAndDelete(subject); !ok {
		return fmt.Errorf("%s: %w", subject, ErrSessionNotFound)
	}
	metrics.ActiveSessions.Set(float64(m.active.Add(-1)))
	m.log.WithField("subject", subject).Info("Monitoring stopped")
	return nil
}

// Sessions lists monitored sessions ordered by subject
func (m *Monitor) Sessions() []Summary {
	var out []Summary
	m.sessions.Range(func(key, value any) bool {
		s := value.(*session)
		s.mu.Lock()
		last := s.lastLevel
		s.mu.Unlock()
		out = append(out, Summary{
			Subject:   s.subject,
			SessionID: s.engine.ID(),
			State:     s.engine.State(),
			TotalBets: s.engine.Stats().TotalBets,
			LastLevel: last,
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}

// LogEvent ingests a wager for a subject, opening a session on first use.
// Accepted events are archived when storage is configured; archive failures
// are logged and do not reject the event.
func (m *Monitor) LogEvent(ctx context.Context, subject string, raw tilt.RawEvent) (tilt.WagerEvent, error) {
	m.Start(subject)
	s, err := m.get(subject)
	if err != nil {
		return tilt.WagerEvent{}, err
	}

	s.gate.RLock()
	ev, err := s.engine.LogEvent(raw)
	gen := s.generation
	s.gate.RUnlock()

	switch {
	case errors.Is(err, tilt.ErrInvalidEvent):
		metrics.RecordEvent("invalid")
		return tilt.WagerEvent{}, err
	case errors.Is(err, tilt.ErrSessionExported):
		metrics.RecordEvent("closed")
		return tilt.WagerEvent{}, err
	case err != nil:
		metrics.RecordEvent("error")
		return tilt.WagerEvent{}, err
	}
	metrics.RecordEvent("accepted")

	if m.store != nil {
		if err := m.store.InsertWagerEvent(ctx, subject, s.engine.ID(), gen, ev); err != nil {
			m.log.WithError(err).WithFields(logrus.Fields{
				"subject":  subject,
				"event_id": ev.ID,
			}).Error("Failed to archive wager event")
		}
	}

	m.log.WithFields(logrus.Fields{
		"subject":  subject,
		"event_id": ev.ID,
		"amount":   ev.Amount,
		"outcome":  ev.Outcome,
		"velocity": ev.WagerVelocity,
	}).Debug("Wager ingested")

	return ev, nil
}

// Analyze returns the current risk analysis for a subject
func (m *Monitor) Analyze(subject string) (tilt.RiskAnalysis, error) {
	s, err := m.get(subject)
	if err != nil {
		return tilt.RiskAnalysis{}, err
	}
	return m.analyze(s), nil
}

func (m *Monitor) analyze(s *session) tilt.RiskAnalysis {
	start := time.Now()
	a := s.engine.Analyze()
	metrics.RecordAnalysis(time.Since(start), scoreOf(a))
	return a
}

// Stats returns the summary statistics for a subject
func (m *Monitor) Stats(subject string) (tilt.Stats, error) {
	s, err := m.get(subject)
	if err != nil {
		return tilt.Stats{}, err
	}
	return s.engine.Stats(), nil
}

// Snapshot returns the raw session state for a subject
func (m *Monitor) Snapshot(subject string) (tilt.Session, error) {
	s, err := m.get(subject)
	if err != nil {
		return tilt.Session{}, err
	}
	return s.engine.Snapshot(), nil
}

// Export closes a subject's session and archives the snapshot. The session
// stays registered in the exported state until Reset or Stop.
func (m *Monitor) Export(ctx context.Context, subject string) (tilt.Export, error) {
	s, err := m.get(subject)
	if err != nil {
		return tilt.Export{}, err
	}

	s.gate.RLock()
	exp := s.engine.Export()
	gen := s.generation
	s.gate.RUnlock()
	metrics.SessionsExported.Inc()

	fields := logrus.Fields{
		"subject":       subject,
		"session_id":    exp.SessionID,
		"generation":    gen,
		"total_bets":    exp.FinalStats.TotalBets,
		"net_pnl":       exp.FinalStats.NetPnL,
		"overall_score": exp.FinalAnalysis.OverallScore,
		"level":         exp.FinalAnalysis.Level,
	}

	if m.store != nil {
		if err := m.store.SaveExport(ctx, subject, gen, exp); err != nil {
			m.log.WithError(err).WithFields(fields).Error("Failed to archive session export")
			return exp, fmt.Errorf("archive export: %w", err)
		}
	}

	m.log.WithFields(fields).Info("Session exported")
	return exp, nil
}

func generationKey(sessionID string) string {
	return "session:" + sessionID + ":generation"
}

// Reset clears a subject's session history and reopens it under the same
// identity. Wagers archived before the reset belong to the previous
// generation and are never replayed into the reopened session.
func (m *Monitor) Reset(ctx context.Context, subject string) error {
	s, err := m.get(subject)
	if err != nil {
		return err
	}

	s.gate.Lock()
	s.engine.Reset()
	s.generation++
	gen := s.generation
	s.gate.Unlock()

	s.mu.Lock()
	s.lastLevel = ""
	s.mu.Unlock()

	fields := logrus.Fields{
		"subject":    subject,
		"session_id": s.engine.ID(),
		"generation": gen,
	}
	if m.store != nil {
		if err := m.store.SetState(ctx, generationKey(s.engine.ID()), strconv.Itoa(gen)); err != nil {
			m.log.WithError(err).WithFields(fields).Error("Failed to record session generation")
		}
	}

	m.log.WithFields(fields).Info("Session reset")
	return nil
}

// Restore rebuilds a subject's session from archived wagers, replacing any
// session currently registered for the subject
func (m *Monitor) Restore(ctx context.Context, subject, sessionID string) (tilt.Stats, error) {
	if m.store == nil {
		return tilt.Stats{}, ErrNoArchive
	}

	records, err := m.store.GetSessionEvents(ctx, sessionID)
	if err != nil {
		return tilt.Stats{}, fmt.Errorf("load archived events: %w", err)
	}

	floor := 0
	value, err := m.store.GetState(ctx, generationKey(sessionID))
	if err != nil {
		return tilt.Stats{}, fmt.Errorf("load session generation: %w", err)
	}
	if value != "" {
		if floor, err = strconv.Atoi(value); err != nil {
			return tilt.Stats{}, fmt.Errorf("parse session generation %q: %w", value, err)
		}
	}
	if len(records) == 0 && floor == 0 {
		return tilt.Stats{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	gen, current := storage.LatestGeneration(records, floor)

	engine := m.newEngine(tilt.WithSessionID(sessionID))
	for _, r := range current {
		if _, err := engine.LogEvent(r.Raw()); err != nil {
			return tilt.Stats{}, fmt.Errorf("replay event %s: %w", r.EventID, err)
		}
	}

	restored := &session{subject: subject, engine: engine, generation: gen}
	if _, loaded := m.sessions.Swap(subject, restored); !loaded {
		metrics.ActiveSessions.Set(float64(m.active.Add(1)))
	}

	m.log.WithFields(logrus.Fields{
		"subject":    subject,
		"session_id": sessionID,
		"generation": gen,
		"events":     len(current),
	}).Info("Session restored from archive")

	return engine.Stats(), nil
}

func scoreOf(a tilt.RiskAnalysis) metrics.Score {
	priorities := make([]string, 0, len(a.Recommendations))
	for _, r := range a.Recommendations {
		priorities = append(priorities, string(r.Priority))
	}
	return metrics.Score{
		Overall: a.OverallScore,
		Level:   string(a.Level),
		Dimensions: map[string]float64{
			tilt.FactorTimeOfDay: a.TimeOfDay.Score,
			tilt.FactorCurrency:  a.Currency.Score,
			tilt.FactorDevice:    a.Device.Score,
			tilt.FactorPnL:       a.PnL.Score,
			tilt.FactorModality:  a.Modality.Score,
		},
		Recommendations: priorities,
	}
}
