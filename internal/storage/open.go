package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"carecue/internal/caregiving"
	logx "carecue/pkg/logx"
)

// Store is the persistence API used by the reminder engine.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error

	AppendEvent(ctx context.Context, e caregiving.Event) error
	// QueryEvents returns events for childID with At >= since. Order is unspecified.
	QueryEvents(ctx context.Context, childID string, since time.Time) ([]caregiving.Event, error)
	// LastEvent returns the most recent event of the given type.
	LastEvent(ctx context.Context, childID string, typ caregiving.EventType) (caregiving.Event, bool, error)

	PutVaccine(ctx context.Context, v caregiving.Vaccine) error
	UpcomingVaccines(ctx context.Context, childID string, from time.Time) ([]caregiving.Vaccine, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
