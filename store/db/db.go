// Package db provides the database driver factory and runtime pool tuning.
package db

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/savorhq/tastecore/internal/profile"
	"github.com/savorhq/tastecore/store"
	"github.com/savorhq/tastecore/store/db/postgres"
	"github.com/savorhq/tastecore/store/db/sqlite"
)

// NewDBDriver creates a database driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "postgres":
		return postgres.NewDB(profile)
	case "sqlite":
		return sqlite.NewDB(profile)
	default:
		return nil, errors.Errorf("unsupported database driver: %s", profile.Driver)
	}
}

const (
	tuneInterval = 30 * time.Second
	pingTimeout  = 3 * time.Second
)

// PoolTuner resizes the connection pool between a floor and a ceiling based
// on observed contention, and pings the database so dead connections are
// evicted instead of being handed to callers.
type PoolTuner struct {
	db       *sql.DB
	floor    int
	ceiling  int
	current  int
	lastWait int64
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewPoolTuner starts with the floor size. Tuning only makes sense for
// drivers with a real pool; sqlite runs on a single connection and should
// not be tuned.
func NewPoolTuner(db *sql.DB, floor, ceiling int) *PoolTuner {
	if floor < 1 {
		floor = 1
	}
	if ceiling < floor {
		ceiling = floor
	}
	db.SetMaxOpenConns(floor)
	db.SetMaxIdleConns(floor)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PoolTuner{
		db:      db,
		floor:   floor,
		ceiling: ceiling,
		current: floor,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start runs the tuning loop until Stop is called.
func (t *PoolTuner) Start() {
	go func() {
		defer close(t.doneCh)
		ticker := time.NewTicker(tuneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stopCh:
				return
			case <-ticker.C:
				t.tune()
			}
		}
	}()
}

// Stop terminates the tuning loop and waits for it to exit.
func (t *PoolTuner) Stop() {
	close(t.stopCh)
	<-t.doneCh
}

// Size returns the current pool ceiling in effect.
func (t *PoolTuner) Size() int {
	return t.current
}

func (t *PoolTuner) tune() {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := t.db.PingContext(ctx); err != nil {
		slog.Warn("database ping failed", "error", err)
		return
	}

	stats := t.db.Stats()
	waited := stats.WaitCount - t.lastWait
	t.lastWait = stats.WaitCount

	switch {
	case waited > 0 && t.current < t.ceiling:
		// Callers blocked on the pool since the last tick; grow.
		t.current = min(t.current*2, t.ceiling)
		t.db.SetMaxOpenConns(t.current)
		slog.Info("grew database pool", "size", t.current, "waited", waited)
	case waited == 0 && t.current > t.floor && stats.InUse < t.current/2:
		t.current = max(t.current/2, t.floor)
		t.db.SetMaxOpenConns(t.current)
		slog.Debug("shrank database pool", "size", t.current)
	}
}
