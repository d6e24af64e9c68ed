package platform

import (
	"time"

	"github.com/liamashdown/tiltguard/internal/tilt"
)

// Bet represents a settled wager from the platform's bet-history API
type Bet struct {
	ID       string  `json:"id"`
	User     string  `json:"user"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Device   string  `json:"device"`  // mobile, desktop, tablet
	Outcome  string  `json:"outcome"` // win, loss
	Payout   float64 `json:"payout"`  // absolute profit or loss
	Game     string  `json:"game"`
	PlacedAt int64   `json:"placedAt"` // Unix timestamp in milliseconds
}

// RawEvent converts the bet into engine input
func (b Bet) RawEvent() tilt.RawEvent {
	return tilt.RawEvent{
		Amount:    b.Amount,
		Currency:  b.Currency,
		Device:    b.Device,
		Outcome:   b.Outcome,
		PnL:       b.Payout,
		GameType:  b.Game,
		Timestamp: time.UnixMilli(b.PlacedAt).UTC(),
	}
}

// BetParams holds parameters for the GetBets call
type BetParams struct {
	User  string
	Since int64 // inclusive, Unix milliseconds
	Limit int
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
