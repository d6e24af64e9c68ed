package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liamashdown/tiltguard/internal/config"
	"github.com/liamashdown/tiltguard/internal/metrics"
	"github.com/liamashdown/tiltguard/internal/tilt"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a requested archive entry does not exist
var ErrNotFound = errors.New("not found")

// DB wraps the GORM database connection
type DB struct {
	conn *gorm.DB
	log  *logrus.Logger
}

// New creates a new database connection with GORM
func New(cfg *config.Config, log *logrus.Logger) (*DB, error) {
	gormLogger := logger.New(
		&gormLogAdapter{log: log},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	conn, err := gorm.Open(mysql.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.DatabaseMaxConns)
	sqlDB.SetMaxIdleConns(cfg.DatabaseMaxConns / 2)
	sqlDB.SetConnMaxIdleTime(cfg.DatabaseMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("Database connection established")

	return &DB{conn: conn, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection is alive
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AutoMigrate runs GORM auto-migration
func (db *DB) AutoMigrate() error {
	return db.conn.AutoMigrate(
		&AppState{},
		&WagerEventRecord{},
		&SessionExport{},
		&AlertRecord{},
	)
}

func track(op string) func(*error) {
	start := time.Now()
	return func(err *error) {
		metrics.RecordDatabaseQuery(op, time.Since(start), *err)
	}
}

// GetState retrieves a state value by key. Missing keys return "".
func (db *DB) GetState(ctx context.Context, key string) (value string, err error) {
	defer track("get_state")(&err)

	var state AppState
	result := db.conn.WithContext(ctx).Where("state_key = ?", key).First(&state)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if result.Error != nil {
		return "", result.Error
	}
	return state.StateValue, nil
}

// SetState sets a state value
func (db *DB) SetState(ctx context.Context, key, value string) (err error) {
	defer track("set_state")(&err)

	state := AppState{
		StateKey:   key,
		StateValue: value,
		UpdatedTS:  time.Now().Unix(),
	}
	return db.conn.WithContext(ctx).Save(&state).Error
}

// InsertWagerEvent archives one accepted wager under the session's current
// generation. Re-inserting the same event id is a no-op.
func (db *DB) InsertWagerEvent(ctx context.Context, subject, sessionID string, generation int, ev tilt.WagerEvent) (err error) {
	defer track("insert_event")(&err)

	rec := &WagerEventRecord{
		EventID:       ev.ID,
		Subject:       subject,
		SessionID:     sessionID,
		Generation:    generation,
		TimestampMs:   ev.Timestamp.UnixMilli(),
		Amount:        ev.Amount,
		Currency:      ev.Currency,
		Device:        string(ev.Device),
		Outcome:       string(ev.Outcome),
		PnL:           ev.PnL,
		GameType:      ev.GameType,
		TimeBucket:    string(ev.Bucket),
		WagerVelocity: ev.WagerVelocity,
	}
	return db.conn.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error
}

// GetSessionEvents returns the archived wagers of a session, every
// generation included, in ingestion order
func (db *DB) GetSessionEvents(ctx context.Context, sessionID string) (events []WagerEventRecord, err error) {
	defer track("get_events")(&err)

	err = db.conn.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("generation ASC, timestamp_ms ASC, created_ts ASC").
		Find(&events).Error
	return events, err
}

// SaveExport archives a session export for one generation. The first export
// of a generation is kept; repeating it is a no-op.
func (db *DB) SaveExport(ctx context.Context, subject string, generation int, exp tilt.Export) (err error) {
	defer track("save_export")(&err)

	payload, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}

	rec := &SessionExport{
		SessionID:    exp.SessionID,
		Generation:   generation,
		Subject:      subject,
		StartTS:      exp.SessionStart.Unix(),
		EndTS:        exp.SessionEnd.Unix(),
		OverallScore: exp.FinalAnalysis.OverallScore,
		Level:        string(exp.FinalAnalysis.Level),
		TotalBets:    exp.FinalStats.TotalBets,
		NetPnL:       exp.FinalStats.NetPnL,
		Payload:      string(payload),
	}
	return db.conn.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error
}

// GetExport loads the newest archived export of a session
func (db *DB) GetExport(ctx context.Context, sessionID string) (exp *tilt.Export, err error) {
	defer track("get_export")(&err)

	var rec SessionExport
	result := db.conn.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("generation DESC, id DESC").
		First(&rec)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("export %s: %w", sessionID, ErrNotFound)
	}
	if result.Error != nil {
		return nil, result.Error
	}

	exp = &tilt.Export{}
	if err := json.Unmarshal([]byte(rec.Payload), exp); err != nil {
		return nil, fmt.Errorf("decode export %s: %w", sessionID, err)
	}
	return exp, nil
}

// ListExports returns export summaries for a subject, newest first
func (db *DB) ListExports(ctx context.Context, subject string, limit int) (exports []SessionExport, err error) {
	defer track("list_exports")(&err)

	q := db.conn.WithContext(ctx).
		Omit("payload").
		Where("subject = ?", subject).
		Order("end_ts DESC, generation DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err = q.Find(&exports).Error
	return exports, err
}

// InsertAlert inserts a new alert record
func (db *DB) InsertAlert(ctx context.Context, alert *AlertRecord) (id int64, err error) {
	defer track("insert_alert")(&err)

	if err := db.conn.WithContext(ctx).Create(alert).Error; err != nil {
		return 0, err
	}
	return alert.ID, nil
}

// GetLastAlert retrieves the most recent alert for a subject, or nil
func (db *DB) GetLastAlert(ctx context.Context, subject string) (alert *AlertRecord, err error) {
	defer track("get_last_alert")(&err)

	var rec AlertRecord
	result := db.conn.WithContext(ctx).
		Where("subject = ?", subject).
		Order("created_ts DESC, id DESC").
		First(&rec)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &rec, nil
}

// LatestGeneration picks the generation to replay from archived wagers: the
// highest one seen in records or known from floor, which covers a reset that
// has no wagers yet. It returns that generation and its records.
func LatestGeneration(records []WagerEventRecord, floor int) (int, []WagerEventRecord) {
	gen := floor
	for _, r := range records {
		if r.Generation > gen {
			gen = r.Generation
		}
	}

	var out []WagerEventRecord
	for _, r := range records {
		if r.Generation == gen {
			out = append(out, r)
		}
	}
	return gen, out
}

// FactorNames joins the names of the emitted risk factors for storage
func FactorNames(factors []tilt.RiskFactor) string {
	names := make([]string, 0, len(factors))
	for _, f := range factors {
		names = append(names, f.Name)
	}
	return strings.Join(names, ",")
}

// gormLogAdapter adapts logrus to GORM's logger interface
type gormLogAdapter struct {
	log *logrus.Logger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}
