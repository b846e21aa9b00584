package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carecue/internal/caregiving"
	logx "carecue/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS carecue_kv (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS carecue_events (
	id       TEXT PRIMARY KEY,
	child_id TEXT NOT NULL,
	type     TEXT NOT NULL,
	sub_type TEXT,
	at       TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS carecue_events_child_at ON carecue_events(child_id, at);
CREATE TABLE IF NOT EXISTS carecue_vaccines (
	child_id TEXT NOT NULL,
	occasion TEXT NOT NULL,
	name     TEXT NOT NULL,
	due_date TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (child_id, occasion)
);`

type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgStore{pool: pool, log: log}, nil
}

func (s *pgStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *pgStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM carecue_kv WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *pgStore) Set(ctx context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("key required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO carecue_kv(key, value, updated_at) VALUES($1,$2,now())
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value,
	)
	return err
}

func (s *pgStore) AppendEvent(ctx context.Context, e caregiving.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var at *time.Time
	if !e.At.IsZero() {
		at = &e.At
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO carecue_events(id, child_id, type, sub_type, at) VALUES($1,$2,$3,$4,$5)`,
		e.ID, e.ChildID, string(e.Type), nullStr(e.SubType), at,
	)
	return err
}

func (s *pgStore) QueryEvents(ctx context.Context, childID string, since time.Time) ([]caregiving.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, child_id, type, sub_type, at FROM carecue_events
		 WHERE child_id = $1 AND (at IS NULL OR at >= $2)`,
		childID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPgEvents(rows)
}

func (s *pgStore) LastEvent(ctx context.Context, childID string, typ caregiving.EventType) (caregiving.Event, bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, child_id, type, sub_type, at FROM carecue_events
		 WHERE child_id = $1 AND type = $2 AND at IS NOT NULL
		 ORDER BY at DESC LIMIT 1`,
		childID, string(typ),
	)
	if err != nil {
		return caregiving.Event{}, false, err
	}
	defer rows.Close()
	evs, err := scanPgEvents(rows)
	if err != nil || len(evs) == 0 {
		return caregiving.Event{}, false, err
	}
	return evs[0], true, nil
}

func (s *pgStore) PutVaccine(ctx context.Context, v caregiving.Vaccine) error {
	if strings.TrimSpace(v.Occasion) == "" {
		return errors.New("vaccine occasion required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO carecue_vaccines(child_id, occasion, name, due_date) VALUES($1,$2,$3,$4)
		 ON CONFLICT(child_id, occasion) DO UPDATE SET name=excluded.name, due_date=excluded.due_date`,
		v.ChildID, v.Occasion, v.Name, v.DueDate,
	)
	return err
}

func (s *pgStore) UpcomingVaccines(ctx context.Context, childID string, from time.Time) ([]caregiving.Vaccine, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT child_id, occasion, name, due_date FROM carecue_vaccines
		 WHERE child_id = $1 AND due_date >= $2 ORDER BY due_date`,
		childID, from,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []caregiving.Vaccine
	for rows.Next() {
		var v caregiving.Vaccine
		if err := rows.Scan(&v.ChildID, &v.Occasion, &v.Name, &v.DueDate); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanPgEvents(rows pgx.Rows) ([]caregiving.Event, error) {
	var out []caregiving.Event
	for rows.Next() {
		var (
			e   caregiving.Event
			typ string
			sub *string
			at  *time.Time
		)
		if err := rows.Scan(&e.ID, &e.ChildID, &typ, &sub, &at); err != nil {
			return nil, err
		}
		e.Type = caregiving.EventType(typ)
		if sub != nil {
			e.SubType = *sub
		}
		if at != nil {
			e.At = *at
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
