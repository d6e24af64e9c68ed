package tilt

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidEvent is wrapped by every ingestion validation failure
	ErrInvalidEvent = errors.New("invalid wager event")
	// ErrSessionExported is returned when events are logged after export
	ErrSessionExported = errors.New("session already exported")
)

// ValidationError describes a rejected field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidEvent, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvent
}

// Outcome of a single wager
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
)

// Device is the category of device a wager was placed from
type Device string

const (
	DeviceMobile  Device = "mobile"
	DeviceDesktop Device = "desktop"
	DeviceTablet  Device = "tablet"
)

// Devices lists supported device categories in reporting order
var Devices = []Device{DeviceMobile, DeviceDesktop, DeviceTablet}

// TimeBucket is a fixed local time-of-day range
type TimeBucket string

const (
	BucketLateNight    TimeBucket = "lateNight"
	BucketEarlyMorning TimeBucket = "earlyMorning"
	BucketWorkHours    TimeBucket = "workHours"
	BucketEvening      TimeBucket = "evening"
)

// TimeBuckets lists all buckets in reporting order
var TimeBuckets = []TimeBucket{BucketLateNight, BucketEarlyMorning, BucketWorkHours, BucketEvening}

// BucketForHour maps a local hour (0-23) to its bucket.
// Hour 8 is covered by neither earlyMorning nor workHours and lands in evening.
func BucketForHour(hour int) TimeBucket {
	switch {
	case hour >= 23 || hour < 4:
		return BucketLateNight
	case hour >= 4 && hour < 8:
		return BucketEarlyMorning
	case hour >= 9 && hour < 17:
		return BucketWorkHours
	default:
		return BucketEvening
	}
}

// SupportedCurrencies is the fixed set of accepted currency codes
var SupportedCurrencies = map[string]bool{
	"USD":  true,
	"EUR":  true,
	"GBP":  true,
	"CAD":  true,
	"AUD":  true,
	"USDT": true,
	"USDC": true,
	"BTC":  true,
	"ETH":  true,
	"LTC":  true,
	"DOGE": true,
	"SOL":  true,
	"XRP":  true,
	"TRX":  true,
	"BNB":  true,
}

const (
	defaultCurrency = "USD"
	defaultDevice   = DeviceDesktop
	defaultGameType = "unknown"
)

// RawEvent is an unvalidated wager as received from a collector
type RawEvent struct {
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Device    string    `json:"device"`
	Outcome   string    `json:"outcome"`
	PnL       float64   `json:"pnl"`
	GameType  string    `json:"gameType"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// WagerEvent is an ingested, enriched wager. Never mutated after ingestion.
type WagerEvent struct {
	ID            string     `json:"id"`
	Timestamp     time.Time  `json:"timestamp"`
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency"`
	Device        Device     `json:"device"`
	Outcome       Outcome    `json:"outcome"`
	PnL           float64    `json:"pnl"`
	GameType      string     `json:"gameType"`
	Bucket        TimeBucket `json:"timeBucket"`
	WagerVelocity int        `json:"wagerVelocity"`
}

// SignedPnL returns pnl as a gain for wins and a deduction for losses
func (e WagerEvent) SignedPnL() float64 {
	if e.Outcome == OutcomeLoss {
		return -e.PnL
	}
	return e.PnL
}

// Raw converts an ingested event back to collector input, for replays
func (e WagerEvent) Raw() RawEvent {
	return RawEvent{
		Amount:    e.Amount,
		Currency:  e.Currency,
		Device:    string(e.Device),
		Outcome:   string(e.Outcome),
		PnL:       e.PnL,
		GameType:  e.GameType,
		Timestamp: e.Timestamp,
	}
}

// normalize validates raw input and fills defaults. Timestamp is left untouched.
func normalize(raw RawEvent) (WagerEvent, error) {
	if !(raw.Amount > 0) {
		return WagerEvent{}, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if raw.PnL < 0 {
		return WagerEvent{}, &ValidationError{Field: "pnl", Reason: "must not be negative"}
	}

	outcome := Outcome(strings.ToLower(strings.TrimSpace(raw.Outcome)))
	if outcome != OutcomeWin && outcome != OutcomeLoss {
		return WagerEvent{}, &ValidationError{Field: "outcome", Reason: fmt.Sprintf("must be win or loss, got %q", raw.Outcome)}
	}

	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if !SupportedCurrencies[currency] {
		return WagerEvent{}, &ValidationError{Field: "currency", Reason: fmt.Sprintf("unsupported code %q", raw.Currency)}
	}

	device := Device(strings.ToLower(strings.TrimSpace(raw.Device)))
	if device == "" {
		device = defaultDevice
	}
	switch device {
	case DeviceMobile, DeviceDesktop, DeviceTablet:
	default:
		return WagerEvent{}, &ValidationError{Field: "device", Reason: fmt.Sprintf("unsupported category %q", raw.Device)}
	}

	gameType := strings.TrimSpace(raw.GameType)
	if gameType == "" {
		gameType = defaultGameType
	}

	return WagerEvent{
		Timestamp: raw.Timestamp,
		Amount:    raw.Amount,
		Currency:  currency,
		Device:    device,
		Outcome:   outcome,
		PnL:       raw.PnL,
		GameType:  gameType,
	}, nil
}
