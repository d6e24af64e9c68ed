package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/liamashdown/tiltguard/internal/tilt"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() *AlertPayload {
	a := tilt.RiskAnalysis{
		OverallScore: 0.83,
		Level:        tilt.LevelCritical,
		Factors: []tilt.RiskFactor{
			{Name: tilt.FactorPnL, Severity: 0.8, Message: "Extreme PnL swing"},
			{Name: tilt.FactorModality, Severity: 0.9, Message: "Dominant wager pattern chasing"},
		},
		Recommendations: []tilt.Recommendation{
			{Priority: tilt.PriorityCritical, Action: tilt.ActionStopSession, Message: "Stop playing now"},
			{Priority: tilt.PriorityInfo, Action: tilt.ActionEarnInstead, Message: "Try earning instead"},
		},
	}
	stats := tilt.Stats{TotalBets: 12, TotalWagered: 540, NetPnL: -310.5, WinRate: 0.25, BetsPerMinute: 4}
	return NewPayload("player-7", "sess-1", tilt.LevelHigh, a, stats, "test", time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC))
}

func TestTopRecommendation(t *testing.T) {
	p := samplePayload()
	rec, ok := p.TopRecommendation()
	require.True(t, ok)
	assert.Equal(t, tilt.ActionStopSession, rec.Action)

	p.Recommendations = []tilt.Recommendation{{Priority: tilt.PriorityInfo, Action: tilt.ActionEarnInstead}}
	_, ok = p.TopRecommendation()
	assert.False(t, ok)
}

func TestDiscordSender(t *testing.T) {
	var got map[string][]map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL, nil)
	require.NoError(t, s.Send(context.Background(), samplePayload()))

	require.Len(t, got["embeds"], 1)
	embed := got["embeds"][0]
	assert.Contains(t, embed["title"], "Critical")
	assert.Contains(t, embed["description"], "player-7")
	assert.Contains(t, embed["description"], "was high")
	assert.EqualValues(t, 0xFF0000, embed["color"])
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL, nil).Send(context.Background(), samplePayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestLogSender(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	require.NoError(t, NewLogSender(log).Send(context.Background(), samplePayload()))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "player-7", entry.Data["subject"])
	assert.Equal(t, tilt.ActionStopSession, entry.Data["action"])
}

type stubSender struct {
	err   error
	calls int
}

func (s *stubSender) Send(ctx context.Context, payload *AlertPayload) error {
	s.calls++
	return s.err
}

func TestMultiSender(t *testing.T) {
	ok := &stubSender{}
	bad := &stubSender{err: errors.New("boom")}
	last := &stubSender{}

	err := NewMultiSender(ok, bad, last).Send(context.Background(), samplePayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sender 1")
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, last.calls, "failure must not stop later senders")

	assert.NoError(t, NewMultiSender(ok).Send(context.Background(), samplePayload()))
}

func TestSMTPSender(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	s := NewSMTPSender("mail.example.com", 587, "", "", "tiltguard@example.com", []string{"ops@example.com", "risk@example.com"})
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		assert.Nil(t, a)
		return nil
	}

	require.NoError(t, s.Send(context.Background(), samplePayload()))
	assert.Equal(t, "mail.example.com:587", gotAddr)
	assert.Len(t, gotTo, 2)
	assert.Contains(t, gotMsg, "Subject: [CRITICAL] Tilt risk 0.83 for player-7")
	assert.Contains(t, gotMsg, "RISK FACTORS")
	assert.True(t, strings.Contains(gotMsg, "[CRITICAL] Stop playing now"))
}

func TestSMTPSenderNoRecipients(t *testing.T) {
	s := NewSMTPSender("mail.example.com", 587, "", "", "a@example.com", nil)
	assert.Error(t, s.Send(context.Background(), samplePayload()))
}
