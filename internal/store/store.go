// Package store keeps a history of radar sessions in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/rjboer/duplexradar/internal/logging"
)

// ErrNotFound is returned when no session has the requested id.
var ErrNotFound = errors.New("session not found")

// Session is one recorded radar run.
type Session struct {
	ID         string    `gorm:"primarykey;size:36" json:"id"`
	StartedAt  time.Time `gorm:"index" json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Backend    string    `gorm:"size:16" json:"backend"`
	Quick      bool      `json:"quick"`
	Waveform   string    `gorm:"size:64" json:"waveform"`

	TXFreq uint64 `json:"tx_freq"`
	RXFreq uint64 `json:"rx_freq"`
	TXBW   uint64 `json:"tx_bw"`
	RXBW   uint64 `json:"rx_bw"`
	TXSR   uint64 `json:"tx_sr"`
	RXSR   uint64 `json:"rx_sr"`
	TXVGA1 int    `json:"txvga1"`
	TXVGA2 int    `json:"txvga2"`
	RXVGA1 int    `json:"rxvga1"`
	RXVGA2 int    `json:"rxvga2"`

	TXCode        int   `json:"tx_code"`
	TXCompletions int   `json:"tx_completions"`
	TXSamples     int64 `json:"tx_samples"`
	RXCode        int   `json:"rx_code"`
	RXCompletions int   `json:"rx_completions"`
	RXSamples     int64 `json:"rx_samples"`

	CapturePath string `gorm:"size:512" json:"capture_path"`
	Error       string `gorm:"size:1024" json:"error,omitempty"`
}

func (Session) TableName() string {
	return "sessions"
}

// OK reports whether both directions finished cleanly.
func (s Session) OK() bool {
	return s.Error == "" && s.TXCode == 0 && s.RXCode == 0
}

// Store wraps the session database.
type Store struct {
	db *gorm.DB
}

// Open opens or creates the database at path using the pure Go SQLite
// driver.
func Open(path string, log logging.Logger) (*Store, error) {
	gormLog := logger.New(
		logging.StdLogger(log, logging.Warn),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: path}, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open session store %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("session store handle: %w", err)
	}
	if err := configureSQLite(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.AutoMigrate(&Session{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate session store: %w", err)
	}
	logging.Or(log).Debug("session store ready", logging.Field{Key: "path", Value: path})
	return &Store{db: db}, nil
}

func configureSQLite(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=memory",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Record inserts or replaces s.
func (st *Store) Record(s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session needs an id")
	}
	return st.db.Save(s).Error
}

// Get returns the session with id.
func (st *Store) Get(id string) (*Session, error) {
	var s Session
	err := st.db.Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Recent returns up to limit sessions, newest first.
func (st *Store) Recent(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Session
	if err := st.db.Order("started_at desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (st *Store) Close() error {
	sqlDB, err := st.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
