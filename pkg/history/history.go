// Package history persists one row per conformance cycle so repeated runs
// against an SDK can be compared over time.
package history

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"holoncert/pkg/engine"
)

// Record is one persisted cycle.
type Record struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	Endpoint  string
	Method    string
	Status    string
	Check     string
	ErrorCode *int
	LatencyMS int64
	SDK       string
	ServerSDK string
	Reason    string
}

// Store is a sqlite-backed verdict log.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the history database at path and migrates
// the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db}, nil
}

// Append stores one verdict.
func (s *Store) Append(endpoint, sdk, serverSDK string, v engine.Verdict) (*Record, error) {
	rec := &Record{
		Endpoint:  endpoint,
		Method:    v.Method,
		Status:    string(v.Status),
		Check:     string(v.Check),
		ErrorCode: v.ErrorCode,
		LatencyMS: v.Latency.Milliseconds(),
		SDK:       sdk,
		ServerSDK: serverSDK,
		Reason:    v.Reason,
	}
	if err := s.db.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}
	return rec, nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	var out []Record
	if err := s.db.Order("id desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return out, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
