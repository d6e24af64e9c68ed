// Package tilt scores the tilt risk of a single gambling session.
//
// An Engine owns the state of exactly one session: the ordered wager history,
// five independent pattern aggregates and the modality tallies. Events enter
// through LogEvent; Analyze, Stats and Export are pure reads over that state.
// The engine performs no I/O, owns no timers and never expires state on its
// own. Callers decide when to re-analyze, export or reset.
package tilt

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a session
type State string

const (
	StateCreated  State = "created"
	StateActive   State = "active"
	StateExported State = "exported"
)

// Option configures an Engine
type Option func(*Engine)

// WithPolicy overrides the default scoring policy. The policy is copied, so
// later changes to p do not affect the engine.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p.Clone() }
}

// WithClock overrides the wall clock used for timestamps and the current bucket
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the time zone used for time-of-day buckets
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// WithSessionID fixes the session identity instead of generating one
func WithSessionID(id string) Option {
	return func(e *Engine) { e.id = id }
}

// Engine tracks one session. All methods are safe for concurrent use;
// writes to the session are serialized by the engine's own lock.
type Engine struct {
	mu       sync.RWMutex
	id       string
	policy   Policy
	analyzer Analyzer
	now      func() time.Time
	loc      *time.Location

	state           State
	createdAt       time.Time
	events          []WagerEvent
	timeOfDay       TimeOfDayAggregate
	currency        CurrencyAggregate
	device          DeviceAggregate
	pnl             *PnLHistory
	modality        ModalityTally
	classifications []Classification
}

// Classification records the modality labels assigned to one wager
type Classification struct {
	EventID string     `json:"eventId"`
	Labels  []Modality `json:"labels"`
}

// New creates an engine for a fresh session
func New(opts ...Option) *Engine {
	e := &Engine{
		policy: DefaultPolicy(),
		now:    time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.id == "" {
		e.id = uuid.NewString()
	}
	if e.policy.PnLHistoryCap <= 0 {
		e.policy.PnLHistoryCap = 1
	}
	e.analyzer = NewAnalyzer(e.policy)
	e.resetLocked()
	e.state = StateCreated
	return e
}

// Replay builds a new engine and re-ingests events in their original order
func Replay(events []WagerEvent, opts ...Option) (*Engine, error) {
	e := New(opts...)
	for _, ev := range events {
		if _, err := e.LogEvent(ev.Raw()); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ID returns the session identity
func (e *Engine) ID() string { return e.id }

// State returns the current lifecycle state
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// LogEvent validates, enriches and ingests one wager. Invalid input is
// rejected without touching session state.
func (e *Engine) LogEvent(raw RawEvent) (WagerEvent, error) {
	ev, err := normalize(raw)
	if err != nil {
		return WagerEvent{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateExported {
		return WagerEvent{}, ErrSessionExported
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	ev.ID = uuid.NewString()
	ev.Bucket = BucketForHour(ev.Timestamp.In(e.loc).Hour())
	ev.WagerVelocity = e.velocityLocked(ev.Timestamp)

	e.events = append(e.events, ev)
	e.timeOfDay.update(ev)
	e.currency.update(ev)
	e.device.update(ev)
	e.pnl.update(ev)

	if labels := classifyModality(e.events, e.policy); len(labels) > 0 {
		e.modality.apply(labels)
		e.classifications = append(e.classifications, Classification{EventID: ev.ID, Labels: labels})
	}

	e.state = StateActive
	return ev, nil
}

// velocityLocked counts prior events inside the trailing window ending at ts
func (e *Engine) velocityLocked(ts time.Time) int {
	window := time.Duration(e.policy.VelocityWindowMs) * time.Millisecond
	start := ts.Add(-window)
	n := 0
	for i := len(e.events) - 1; i >= 0; i-- {
		t := e.events[i].Timestamp
		if t.After(start) && !t.After(ts) {
			n++
		}
	}
	return n
}

// Analyze scores the current session state
func (e *Engine) Analyze() RiskAnalysis {
	e.mu.RLock()
	snap := e.snapshotLocked(false)
	e.mu.RUnlock()
	return e.analyzer.Analyze(snap, e.currentBucket())
}

func (e *Engine) currentBucket() TimeBucket {
	return BucketForHour(e.now().In(e.loc).Hour())
}

// Stats derives summary statistics from session state
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return computeStats(e.events, e.createdAt, e.now())
}

// Snapshot returns a deep copy of the raw session
func (e *Engine) Snapshot() Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked(true)
}

// Export produces the audit snapshot and closes the session to further events
func (e *Engine) Export() Export {
	e.mu.Lock()
	snap := e.snapshotLocked(true)
	end := e.now()
	stats := computeStats(e.events, e.createdAt, end)
	e.state = StateExported
	snap.State = StateExported
	e.mu.Unlock()

	return Export{
		SessionID:     snap.ID,
		SessionStart:  snap.CreatedAt,
		SessionEnd:    end,
		RawSession:    snap,
		FinalAnalysis: e.analyzer.Analyze(snap, e.currentBucket()),
		FinalStats:    stats,
	}
}

// Reset clears all history and aggregates. The session identity is kept.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
	e.state = StateActive
}

func (e *Engine) resetLocked() {
	e.createdAt = e.now()
	e.events = nil
	e.timeOfDay = newTimeOfDayAggregate()
	e.currency = make(CurrencyAggregate)
	e.device = newDeviceAggregate()
	e.pnl = newPnLHistory(e.policy.PnLHistoryCap)
	e.modality = ModalityTally{}
	e.classifications = nil
}

// Session is a point-in-time copy of a session's raw state
type Session struct {
	ID              string                      `json:"id"`
	CreatedAt       time.Time                   `json:"createdAt"`
	State           State                       `json:"state"`
	Events          []WagerEvent                `json:"events,omitempty"`
	TimeOfDay       map[TimeBucket]OutcomeStats `json:"timeOfDay"`
	Currency        map[string]OutcomeStats     `json:"currency"`
	Device          map[Device]DeviceStats      `json:"device"`
	PnLHistory      []PnLPoint                  `json:"pnlHistory"`
	CumulativePnL   float64                     `json:"cumulativePnL"`
	Modality        ModalityTally               `json:"modality"`
	Classifications []Classification            `json:"classifications,omitempty"`
}

// Currencies returns the codes used in the session, sorted
func (s Session) Currencies() []string {
	codes := make([]string, 0, len(s.Currency))
	for c := range s.Currency {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

func (e *Engine) snapshotLocked(withEvents bool) Session {
	s := Session{
		ID:            e.id,
		CreatedAt:     e.createdAt,
		State:         e.state,
		TimeOfDay:     make(map[TimeBucket]OutcomeStats, len(e.timeOfDay)),
		Currency:      make(map[string]OutcomeStats, len(e.currency)),
		Device:        make(map[Device]DeviceStats, len(e.device)),
		PnLHistory:    e.pnl.Points(),
		CumulativePnL: e.pnl.Current(),
		Modality:      e.modality,
	}
	for b, st := range e.timeOfDay {
		s.TimeOfDay[b] = *st
	}
	for c, st := range e.currency {
		s.Currency[c] = *st
	}
	for d, st := range e.device {
		s.Device[d] = *st
	}
	if withEvents {
		s.Events = make([]WagerEvent, len(e.events))
		copy(s.Events, e.events)
		s.Classifications = make([]Classification, len(e.classifications))
		for i, c := range e.classifications {
			labels := make([]Modality, len(c.Labels))
			copy(labels, c.Labels)
			s.Classifications[i] = Classification{EventID: c.EventID, Labels: labels}
		}
	}
	return s
}
