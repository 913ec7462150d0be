package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite drivers only; 0 means default
}

// RunEntry records one run outcome. Keep it compact and schema-stable.
type RunEntry struct {
	At     time.Time `json:"at"`
	JobID  string    `json:"job"`
	Parent string    `json:"parent,omitempty"`
	Event  string    `json:"event"` // "completed" | "failed"
	Error  string    `json:"err,omitempty"`
	TookMS int64     `json:"took_ms,omitempty"`
}

// Store is the persistence API used by the results cache.
// Payloads are JSON documents.
type Store interface {
	PutResult(ctx context.Context, jobID string, payload []byte) error
	GetResult(ctx context.Context, jobID string) (payload []byte, ok bool, err error)
	Results(ctx context.Context) (map[string][]byte, error)
	AppendRun(ctx context.Context, e RunEntry) error
	// Runs returns up to limit most recent entries for jobID (all jobs when
	// empty), newest first.
	Runs(ctx context.Context, jobID string, limit int) ([]RunEntry, error)
	Close() error
}
