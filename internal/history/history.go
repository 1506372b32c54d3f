// Package history keeps a local SQLite log of auth events so users can
// audit when accounts were added, refreshed, or removed.
package history

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// FileName is the event database inside the config directory.
const FileName = "events.db"

// Event kinds.
const (
	KindLogin    = "login"
	KindRefresh  = "refresh"
	KindLogout   = "logout"
	KindDiscover = "discover"
)

// Event is one recorded auth action.
type Event struct {
	ID        string `gorm:"primaryKey" json:"id"`
	Timestamp int64  `gorm:"index" json:"timestamp"`
	Kind      string `gorm:"index" json:"kind"`
	Email     string `json:"email,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Log is the event store. A nil *Log is valid and records nothing, so
// callers need no guards when history is disabled.
type Log struct {
	db *gorm.DB
}

// Open initializes the event database, migrating the schema.
func Open(path string) (*Log, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open event db: %w", err)
	}
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("migrate event db: %w", err)
	}
	return &Log{db: db}, nil
}

// Record stores one event. Failures are logged and swallowed; history
// must never break an auth flow.
func (l *Log) Record(kind, email, detail string, opErr error) {
	if l == nil {
		return
	}
	ev := Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UnixMilli(),
		Kind:      kind,
		Email:     email,
		Detail:    detail,
	}
	if opErr != nil {
		ev.Error = opErr.Error()
	}
	if err := l.db.Create(&ev).Error; err != nil {
		log.Debugf("record %s event: %v", kind, err)
	}
}

// Recent returns up to limit events, newest first.
func (l *Log) Recent(limit int) ([]Event, error) {
	if l == nil {
		return nil, nil
	}
	var events []Event
	err := l.db.Order("timestamp DESC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return events, nil
}
