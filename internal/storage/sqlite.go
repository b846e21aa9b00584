package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"carecue/internal/caregiving"
	logx "carecue/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrDisabled
	}
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *sqliteStore) Set(ctx context.Context, key string, value []byte) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("key required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) AppendEvent(ctx context.Context, e caregiving.Event) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(id, child_id, type, sub_type, at_ms) VALUES(?,?,?,?,?)`,
		e.ID, e.ChildID, string(e.Type), nullStr(e.SubType), nullMillis(e.At),
	)
	return err
}

func (s *sqliteStore) QueryEvents(ctx context.Context, childID string, since time.Time) ([]caregiving.Event, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, child_id, type, sub_type, at_ms FROM events
		 WHERE child_id = ? AND (at_ms IS NULL OR at_ms >= ?)`,
		childID, since.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *sqliteStore) LastEvent(ctx context.Context, childID string, typ caregiving.EventType) (caregiving.Event, bool, error) {
	if s == nil || s.db == nil {
		return caregiving.Event{}, false, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, child_id, type, sub_type, at_ms FROM events
		 WHERE child_id = ? AND type = ? AND at_ms IS NOT NULL
		 ORDER BY at_ms DESC LIMIT 1`,
		childID, string(typ),
	)
	if err != nil {
		return caregiving.Event{}, false, err
	}
	defer rows.Close()
	evs, err := scanEvents(rows)
	if err != nil || len(evs) == 0 {
		return caregiving.Event{}, false, err
	}
	return evs[0], true, nil
}

func (s *sqliteStore) PutVaccine(ctx context.Context, v caregiving.Vaccine) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(v.Occasion) == "" {
		return errors.New("vaccine occasion required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vaccines(child_id, occasion, name, due_ms) VALUES(?,?,?,?)
		 ON CONFLICT(child_id, occasion) DO UPDATE SET name=excluded.name, due_ms=excluded.due_ms`,
		v.ChildID, v.Occasion, v.Name, v.DueDate.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) UpcomingVaccines(ctx context.Context, childID string, from time.Time) ([]caregiving.Vaccine, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT child_id, occasion, name, due_ms FROM vaccines
		 WHERE child_id = ? AND due_ms >= ? ORDER BY due_ms`,
		childID, from.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []caregiving.Vaccine
	for rows.Next() {
		var (
			v     caregiving.Vaccine
			dueMS int64
		)
		if err := rows.Scan(&v.ChildID, &v.Occasion, &v.Name, &dueMS); err != nil {
			return nil, err
		}
		v.DueDate = time.UnixMilli(dueMS)
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]caregiving.Event, error) {
	var out []caregiving.Event
	for rows.Next() {
		var (
			e    caregiving.Event
			typ  string
			sub  sql.NullString
			atMS sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.ChildID, &typ, &sub, &atMS); err != nil {
			return nil, err
		}
		e.Type = caregiving.EventType(typ)
		e.SubType = sub.String
		if atMS.Valid {
			e.At = time.UnixMilli(atMS.Int64)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
