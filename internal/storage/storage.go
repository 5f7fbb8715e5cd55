// Package storage selects the session store and run log implementation.
package storage

import (
	"fmt"
	"io"

	"github.com/tjfontaine/theory-council/internal/config"
	"github.com/tjfontaine/theory-council/internal/core/ports"
	"github.com/tjfontaine/theory-council/internal/storage/memory"
	"github.com/tjfontaine/theory-council/internal/storage/sqlite"
)

// Re-export storage interfaces from core/ports.
type (
	SessionStore = ports.SessionStore
	RunLog       = ports.RunLog
)

// Stores bundles the session store and run log with the resource that owns
// them.
type Stores struct {
	Sessions SessionStore
	Runs     RunLog
	closer   io.Closer
}

// Close releases the underlying resources.
func (s *Stores) Close() error {
	var firstErr error
	for _, c := range []io.Closer{s.Sessions, s.Runs, s.closer} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// New builds the stores named by cfg.Type ("memory" or "sqlite").
func New(cfg config.StorageConfig) (*Stores, error) {
	switch cfg.Type {
	case "", "memory":
		return &Stores{
			Sessions: memory.NewSessionStore(),
			Runs:     memory.NewRunLog(),
		}, nil
	case "sqlite":
		db, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Sessions: db.Sessions(),
			Runs:     db.Runs(),
			closer:   db,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
