package storage

import (
	"time"

	"github.com/liamashdown/tiltguard/internal/tilt"
	"gorm.io/gorm"
)

// AppState stores application state for checkpointing
type AppState struct {
	StateKey   string `gorm:"primaryKey;size:128"`
	StateValue string `gorm:"type:text;not null"`
	UpdatedTS  int64  `gorm:"not null;index"`
}

func (AppState) TableName() string {
	return "app_state"
}

// WagerEventRecord archives every accepted wager. Generation counts the
// resets of the session at ingestion time; a reset starts a new generation.
type WagerEventRecord struct {
	EventID       string  `gorm:"primaryKey;size:64"`
	Subject       string  `gorm:"size:128;not null;index"`
	SessionID     string  `gorm:"size:64;not null;index:idx_wager_session_gen"`
	Generation    int     `gorm:"not null;default:0;index:idx_wager_session_gen"`
	TimestampMs   int64   `gorm:"not null;index"`
	Amount        float64 `gorm:"type:decimal(20,6);not null"`
	Currency      string  `gorm:"size:16;not null"`
	Device        string  `gorm:"size:16;not null"`
	Outcome       string  `gorm:"size:8;not null"`
	PnL           float64 `gorm:"type:decimal(20,6);not null"`
	GameType      string  `gorm:"size:64;not null"`
	TimeBucket    string  `gorm:"size:16;not null"`
	WagerVelocity int     `gorm:"not null"`
	CreatedTS     int64   `gorm:"not null"`
}

func (WagerEventRecord) TableName() string {
	return "wager_events"
}

// Raw converts the archived row back into ingestible input for replay
func (r WagerEventRecord) Raw() tilt.RawEvent {
	return tilt.RawEvent{
		Amount:    r.Amount,
		Currency:  r.Currency,
		Device:    r.Device,
		Outcome:   r.Outcome,
		PnL:       r.PnL,
		GameType:  r.GameType,
		Timestamp: time.UnixMilli(r.TimestampMs).UTC(),
	}
}

// SessionExport stores the audit snapshot of a closed session. A session
// exported again after a reset gets one row per generation.
type SessionExport struct {
	ID           int64   `gorm:"primaryKey;autoIncrement"`
	SessionID    string  `gorm:"size:64;not null;uniqueIndex:idx_export_session_gen"`
	Generation   int     `gorm:"not null;default:0;uniqueIndex:idx_export_session_gen"`
	Subject      string  `gorm:"size:128;not null;index"`
	StartTS      int64   `gorm:"not null"`
	EndTS        int64   `gorm:"not null;index"`
	OverallScore float64 `gorm:"type:decimal(6,4);not null"`
	Level        string  `gorm:"size:16;not null;index"`
	TotalBets    int     `gorm:"not null"`
	NetPnL       float64 `gorm:"type:decimal(20,2);not null"`
	Payload      string  `gorm:"type:longtext;not null"` // JSON export
	CreatedTS    int64   `gorm:"not null"`
}

func (SessionExport) TableName() string {
	return "session_exports"
}

// AlertRecord stores sent alerts; the latest per subject drives the cooldown
type AlertRecord struct {
	ID            int64   `gorm:"primaryKey;autoIncrement"`
	Subject       string  `gorm:"size:128;not null;index"`
	SessionID     string  `gorm:"size:64;not null"`
	Level         string  `gorm:"size:16;not null;index"`
	PreviousLevel string  `gorm:"size:16"`
	OverallScore  float64 `gorm:"type:decimal(6,4);not null"`
	Factors       string  `gorm:"type:text"` // comma-separated factor names
	CreatedTS     int64   `gorm:"not null;index"`
}

func (AlertRecord) TableName() string {
	return "alerts"
}

// BeforeCreate hooks for timestamps
func (a *AppState) BeforeCreate(tx *gorm.DB) error {
	if a.UpdatedTS == 0 {
		a.UpdatedTS = time.Now().Unix()
	}
	return nil
}

func (w *WagerEventRecord) BeforeCreate(tx *gorm.DB) error {
	if w.CreatedTS == 0 {
		w.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (s *SessionExport) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedTS == 0 {
		s.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (a *AlertRecord) BeforeCreate(tx *gorm.DB) error {
	if a.CreatedTS == 0 {
		a.CreatedTS = time.Now().Unix()
	}
	return nil
}
