package tilt

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stats summarizes a session. Every field is derived from session state.
type Stats struct {
	TotalBets              int     `json:"totalBets"`
	TotalWagered           float64 `json:"totalWagered"`
	Wins                   int     `json:"wins"`
	Losses                 int     `json:"losses"`
	WinRate                float64 `json:"winRate"`
	NetPnL                 float64 `json:"netPnL"`
	SessionDurationMinutes float64 `json:"sessionDurationMinutes"`
	AvgBetSize             float64 `json:"avgBetSize"`
	BetsPerMinute          float64 `json:"betsPerMinute"`
}

// Export is the full audit snapshot of a session
type Export struct {
	SessionID     string       `json:"sessionId"`
	SessionStart  time.Time    `json:"sessionStart"`
	SessionEnd    time.Time    `json:"sessionEnd"`
	RawSession    Session      `json:"rawSession"`
	FinalAnalysis RiskAnalysis `json:"finalAnalysis"`
	FinalStats    Stats        `json:"finalStats"`
}

func computeStats(events []WagerEvent, start, now time.Time) Stats {
	wagered := decimal.Zero
	net := decimal.Zero
	var wins, losses int
	for _, e := range events {
		wagered = wagered.Add(decimal.NewFromFloat(e.Amount))
		net = net.Add(decimal.NewFromFloat(e.SignedPnL()))
		if e.Outcome == OutcomeWin {
			wins++
		} else {
			losses++
		}
	}

	total := len(events)
	minutes := now.Sub(start).Minutes()
	if minutes < 0 {
		minutes = 0
	}

	avg := decimal.Zero
	if total > 0 {
		avg = wagered.Div(decimal.NewFromInt(int64(total)))
	}

	return Stats{
		TotalBets:              total,
		TotalWagered:           wagered.Round(2).InexactFloat64(),
		Wins:                   wins,
		Losses:                 losses,
		WinRate:                ratio(float64(wins), float64(total)),
		NetPnL:                 net.Round(2).InexactFloat64(),
		SessionDurationMinutes: minutes,
		AvgBetSize:             avg.Round(2).InexactFloat64(),
		BetsPerMinute:          ratio(float64(total), minutes),
	}
}
