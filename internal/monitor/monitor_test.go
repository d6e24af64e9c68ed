package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/liamashdown/tiltguard/internal/alerts"
	"github.com/liamashdown/tiltguard/internal/platform"
	"github.com/liamashdown/tiltguard/internal/storage"
	"github.com/liamashdown/tiltguard/internal/tilt"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store
type memStore struct {
	mu      sync.Mutex
	state   map[string]string
	events  map[string][]storage.WagerEventRecord
	exports map[string]tilt.Export // keyed by exportKey
	alerts  []storage.AlertRecord
	failExp bool
}

func newMemStore() *memStore {
	return &memStore{
		state:   map[string]string{},
		events:  map[string][]storage.WagerEventRecord{},
		exports: map[string]tilt.Export{},
	}
}

func (s *memStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[key], nil
}

func (s *memStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = value
	return nil
}

func exportKey(sessionID string, generation int) string {
	return fmt.Sprintf("%s#%d", sessionID, generation)
}

func (s *memStore) InsertWagerEvent(ctx context.Context, subject, sessionID string, generation int, ev tilt.WagerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[sessionID] = append(s.events[sessionID], storage.WagerEventRecord{
		EventID:     ev.ID,
		Subject:     subject,
		SessionID:   sessionID,
		Generation:  generation,
		TimestampMs: ev.Timestamp.UnixMilli(),
		Amount:      ev.Amount,
		Currency:    ev.Currency,
		Device:      string(ev.Device),
		Outcome:     string(ev.Outcome),
		PnL:         ev.PnL,
		GameType:    ev.GameType,
	})
	return nil
}

func (s *memStore) GetSessionEvents(ctx context.Context, sessionID string) ([]storage.WagerEventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.WagerEventRecord(nil), s.events[sessionID]...), nil
}

// SaveExport keeps the first export per (session, generation), like the
// unique index with ON CONFLICT DO NOTHING in MySQL
func (s *memStore) SaveExport(ctx context.Context, subject string, generation int, exp tilt.Export) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failExp {
		return errors.New("disk full")
	}
	key := exportKey(exp.SessionID, generation)
	if _, ok := s.exports[key]; !ok {
		s.exports[key] = exp
	}
	return nil
}

func (s *memStore) InsertAlert(ctx context.Context, alert *storage.AlertRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, *alert)
	return int64(len(s.alerts)), nil
}

func (s *memStore) GetLastAlert(ctx context.Context, subject string) (*storage.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.alerts) - 1; i >= 0; i-- {
		if s.alerts[i].Subject == subject {
			a := s.alerts[i]
			return &a, nil
		}
	}
	return nil, nil
}

type recordingSender struct {
	mu       sync.Mutex
	payloads []*alerts.AlertPayload
}

func (r *recordingSender) Send(ctx context.Context, p *alerts.AlertPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	m      *Monitor
	store  *memStore
	sender *recordingSender
	clock  *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	clock := &testClock{now: time.Date(2026, 3, 14, 14, 30, 0, 0, time.UTC)}
	store := newMemStore()
	sender := &recordingSender{}
	m := New(Options{
		Environment:   "test",
		Location:      time.UTC,
		Workers:       3,
		AlertMinLevel: tilt.LevelHigh,
		AlertCooldown: 15 * time.Minute,
		Now:           clock.Now,
	}, store, sender, log)
	return &fixture{m: m, store: store, sender: sender, clock: clock}
}

// logChasing drives a subject into the high tier: ten growing BTC losses on
// mobile, ten seconds apart
func logChasing(t *testing.T, m *Monitor, subject string) {
	t.Helper()
	start := time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		amount := 50 + float64(i)*20
		_, err := m.LogEvent(context.Background(), subject, tilt.RawEvent{
			Amount:    amount,
			Outcome:   "loss",
			PnL:       amount,
			Currency:  "BTC",
			Device:    "mobile",
			Timestamp: start.Add(time.Duration(i) * 10 * time.Second),
		})
		require.NoError(t, err)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)

	id, created := f.m.Start("alice")
	assert.True(t, created)
	again, created := f.m.Start("alice")
	assert.False(t, created)
	assert.Equal(t, id, again)

	f.m.Start("bob")
	sessions := f.m.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "alice", sessions[0].Subject)
	assert.Equal(t, tilt.StateCreated, sessions[0].State)

	require.NoError(t, f.m.Stop("alice"))
	assert.ErrorIs(t, f.m.Stop("alice"), ErrSessionNotFound)
	assert.Len(t, f.m.Sessions(), 1)
}

func TestUnknownSubject(t *testing.T) {
	f := newFixture(t)

	_, err := f.m.Analyze("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.m.Stats("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.m.Export(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, f.m.Reset(context.Background(), "ghost"), ErrSessionNotFound)
}

func TestLogEventArchives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev, err := f.m.LogEvent(ctx, "alice", tilt.RawEvent{Amount: 10, Outcome: "win", PnL: 3})
	require.NoError(t, err)

	_, err = f.m.LogEvent(ctx, "alice", tilt.RawEvent{Amount: -1, Outcome: "win"})
	assert.ErrorIs(t, err, tilt.ErrInvalidEvent)

	sessions := f.m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 1, sessions[0].TotalBets)

	archived, err := f.store.GetSessionEvents(ctx, sessions[0].SessionID)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, ev.ID, archived[0].EventID)
}

func TestExportResetLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	logChasing(t, f.m, "alice")

	exp, err := f.m.Export(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10, exp.FinalStats.TotalBets)
	assert.Contains(t, f.store.exports, exportKey(exp.SessionID, 0))

	_, err = f.m.LogEvent(ctx, "alice", tilt.RawEvent{Amount: 1, Outcome: "win"})
	assert.ErrorIs(t, err, tilt.ErrSessionExported)

	require.NoError(t, f.m.Reset(ctx, "alice"))
	stats, err := f.m.Stats("alice")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalBets)

	_, err = f.m.LogEvent(ctx, "alice", tilt.RawEvent{Amount: 1, Outcome: "win"})
	assert.NoError(t, err)
}

func TestExportAgainAfterReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	logChasing(t, f.m, "alice")

	first, err := f.m.Export(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, f.m.Reset(ctx, "alice"))
	_, err = f.m.LogEvent(ctx, "alice", tilt.RawEvent{Amount: 5, Outcome: "win", PnL: 5})
	require.NoError(t, err)

	second, err := f.m.Export(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	require.Len(t, f.store.exports, 2)
	assert.Equal(t, 10, f.store.exports[exportKey(first.SessionID, 0)].FinalStats.TotalBets)
	assert.Equal(t, 1, f.store.exports[exportKey(first.SessionID, 1)].FinalStats.TotalBets)
}

func TestExportArchiveFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failExp = true
	logChasing(t, f.m, "alice")

	exp, err := f.m.Export(context.Background(), "alice")
	require.Error(t, err)
	assert.Equal(t, 10, exp.FinalStats.TotalBets, "export is still returned")
}

func TestEvaluateAllAlertsOnEscalation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	logChasing(t, f.m, "alice")
	_, err := f.m.LogEvent(ctx, "bob", tilt.RawEvent{Amount: 5, Outcome: "win", PnL: 1, Currency: "USD", Device: "desktop"})
	require.NoError(t, err)
	f.m.Start("carol") // no wagers yet

	assert.Equal(t, 3, f.m.EvaluateAll(ctx))
	require.Equal(t, 1, f.sender.count())

	p := f.sender.payloads[0]
	assert.Equal(t, "alice", p.Subject)
	assert.Equal(t, tilt.LevelHigh, p.Level)
	assert.Equal(t, tilt.Level(""), p.PreviousLevel)
	assert.Equal(t, "test", p.Environment)

	require.Len(t, f.store.alerts, 1)
	assert.Equal(t, "high", f.store.alerts[0].Level)

	// no escalation, no new alert
	f.m.EvaluateAll(ctx)
	assert.Equal(t, 1, f.sender.count())
}

func TestEvaluateAllCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	logChasing(t, f.m, "alice")
	f.m.EvaluateAll(ctx)
	require.Equal(t, 1, f.sender.count())

	// a fresh escalation inside the cooldown is suppressed
	require.NoError(t, f.m.Reset(ctx, "alice"))
	logChasing(t, f.m, "alice")
	f.m.EvaluateAll(ctx)
	assert.Equal(t, 1, f.sender.count())

	f.clock.Advance(16 * time.Minute)
	require.NoError(t, f.m.Reset(ctx, "alice"))
	logChasing(t, f.m, "alice")
	f.m.EvaluateAll(ctx)
	assert.Equal(t, 2, f.sender.count())
}

func TestCooldownSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// an alert recorded by a previous process five minutes ago
	_, err := f.store.InsertAlert(ctx, &storage.AlertRecord{
		Subject:   "alice",
		Level:     "high",
		CreatedTS: f.clock.Now().Add(-5 * time.Minute).Unix(),
	})
	require.NoError(t, err)

	logChasing(t, f.m, "alice")
	f.m.EvaluateAll(ctx)
	assert.Equal(t, 0, f.sender.count())
}

func TestEvaluateSkipsExported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	logChasing(t, f.m, "alice")
	_, err := f.m.Export(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, 0, f.m.EvaluateAll(ctx))
	assert.Equal(t, 0, f.sender.count())
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	logChasing(t, f.m, "alice")
	before, err := f.m.Analyze("alice")
	require.NoError(t, err)
	id := f.m.Sessions()[0].SessionID

	require.NoError(t, f.m.Stop("alice"))

	stats, err := f.m.Restore(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalBets)

	after, err := f.m.Analyze("alice")
	require.NoError(t, err)
	assert.InDelta(t, before.OverallScore, after.OverallScore, 1e-9)
	assert.Equal(t, id, f.m.Sessions()[0].SessionID)

	_, err = f.m.Restore(ctx, "alice", "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRestoreSkipsWagersBeforeReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.m.LogEvent(ctx, "alice", tilt.RawEvent{Amount: 10, Outcome: "loss", PnL: 10})
		require.NoError(t, err)
	}
	id := f.m.Sessions()[0].SessionID

	require.NoError(t, f.m.Reset(ctx, "alice"))
	_, err := f.m.LogEvent(ctx, "alice", tilt.RawEvent{Amount: 5, Outcome: "win", PnL: 5})
	require.NoError(t, err)

	live, err := f.m.Stats("alice")
	require.NoError(t, err)

	restored, err := f.m.Restore(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, live.TotalBets, restored.TotalBets)
	assert.Equal(t, 1, restored.TotalBets)
	assert.InDelta(t, 5.0, restored.NetPnL, 1e-9)

	// the restored session keeps counting generations from where it was
	require.NoError(t, f.m.Reset(ctx, "alice"))
	restored, err = f.m.Restore(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, 0, restored.TotalBets, "a reset with no new wagers restores empty")
}

func TestRestoreWithoutArchive(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	m := New(Options{}, nil, nil, log)
	_, err := m.Restore(context.Background(), "alice", "x")
	assert.ErrorIs(t, err, ErrNoArchive)
}

func TestConcurrentSubjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subject := fmt.Sprintf("player-%d", i%4)
			for j := 0; j < 25; j++ {
				_, err := f.m.LogEvent(ctx, subject, tilt.RawEvent{Amount: 1, Outcome: "loss", PnL: 1})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for k := 0; k < 5; k++ {
			f.m.EvaluateAll(ctx)
		}
	}()
	wg.Wait()

	sessions := f.m.Sessions()
	require.Len(t, sessions, 4)
	for _, s := range sessions {
		assert.Equal(t, 50, s.TotalBets)
	}
}

type fakeSource struct {
	mu    sync.Mutex
	bets  map[string][]platform.Bet
	calls []platform.BetParams
	err   error
}

func (f *fakeSource) GetBets(ctx context.Context, params platform.BetParams) ([]platform.Bet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	var out []platform.Bet
	for _, b := range f.bets[params.User] {
		if b.PlacedAt >= params.Since {
			out = append(out, b)
		}
	}
	return out, nil
}

func TestPollAdvancesCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC).UnixMilli()

	src := &fakeSource{bets: map[string][]platform.Bet{
		"alice": {
			{ID: "1", Amount: 10, Outcome: "loss", Payout: 10, PlacedAt: base},
			{ID: "2", Amount: -5, Outcome: "loss", PlacedAt: base + 1000}, // invalid, skipped
			{ID: "3", Amount: 10, Outcome: "win", Payout: 4, PlacedAt: base + 2000},
		},
		"bob": {
			{ID: "4", Amount: 10, Outcome: "win", Payout: 4, PlacedAt: base},
		},
	}}

	n, err := f.m.Poll(ctx, src, []string{"alice", "bob"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	cur, err := f.m.checkpoint(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, cursor{TS: base + 2000, IDs: []string{"3"}}, cur)

	// nothing new on the second tick
	n, err = f.m.Poll(ctx, src, []string{"alice", "bob"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stats, err := f.m.Stats("alice")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalBets)
}

func TestPollWithoutStore(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	m := New(Options{Location: time.UTC}, nil, nil, log)
	src := &fakeSource{bets: map[string][]platform.Bet{
		"alice": {{ID: "1", Amount: 10, Outcome: "win", Payout: 1, PlacedAt: 5000}},
	}}

	n, err := m.Poll(context.Background(), src, []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = m.Poll(context.Background(), src, []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(5000), src.calls[1].Since)
}

func TestPollPicksUpLateBetAtCheckpointInstant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC).UnixMilli()

	src := &fakeSource{bets: map[string][]platform.Bet{
		"alice": {{ID: "1", Amount: 10, Outcome: "loss", Payout: 10, PlacedAt: base}},
	}}
	n, err := f.m.Poll(ctx, src, []string{"alice"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// a second bet placed in the same millisecond shows up one tick later
	src.mu.Lock()
	src.bets["alice"] = append(src.bets["alice"], platform.Bet{ID: "2", Amount: 20, Outcome: "win", Payout: 5, PlacedAt: base})
	src.mu.Unlock()

	n, err = f.m.Poll(ctx, src, []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the late bet is new")

	n, err = f.m.Poll(ctx, src, []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stats, err := f.m.Stats("alice")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalBets)

	cur, err := f.m.checkpoint(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, cursor{TS: base, IDs: []string{"1", "2"}}, cur)
}

func TestPollReadsLegacyCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetState(ctx, checkpointKey("alice"), "5000"))

	src := &fakeSource{bets: map[string][]platform.Bet{
		"alice": {{ID: "1", Amount: 10, Outcome: "win", Payout: 1, PlacedAt: 6000}},
	}}
	n, err := f.m.Poll(ctx, src, []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(5000), src.calls[0].Since)
}

func TestPollStopsAtExportedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.m.Start("alice")
	_, err := f.m.Export(ctx, "alice")
	require.NoError(t, err)

	src := &fakeSource{bets: map[string][]platform.Bet{
		"alice": {{ID: "1", Amount: 10, Outcome: "win", Payout: 1, PlacedAt: 5000}},
	}}
	n, err := f.m.Poll(ctx, src, []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	cp, _ := f.store.GetState(ctx, checkpointKey("alice"))
	assert.Empty(t, cp, "checkpoint must not pass unread bets")
}

func TestPollReportsSourceErrors(t *testing.T) {
	f := newFixture(t)
	src := &fakeSource{err: errors.New("503")}

	_, err := f.m.Poll(context.Background(), src, []string{"alice", "bob"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alice")
	assert.Contains(t, err.Error(), "bob")
}
