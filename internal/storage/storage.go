// Package storage is the record store boundary: scraped records flow out
// of operations and into one of the pluggable backends.
package storage

import (
	"time"

	"github.com/oaf-tools/scraperutils/internal/types"
)

// Record is one scraped item.
type Record struct {
	Authority types.Authority
	URL       string
	Fields    map[string]any
	ScrapedAt time.Time
}

// NewRecord creates a Record stamped with now.
func NewRecord(authority types.Authority, url string) *Record {
	return &Record{
		Authority: authority,
		URL:       url,
		Fields:    make(map[string]any),
		ScrapedAt: time.Now(),
	}
}

// Set assigns a field value and returns the record for chaining.
func (r *Record) Set(key string, value any) *Record {
	r.Fields[key] = value
	return r
}

// Storage is the interface for all record store backends.
type Storage interface {
	// Save persists a batch of records.
	Save(records []*Record) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the backend identifier.
	Name() string
}
