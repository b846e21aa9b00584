package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"carecue/internal/caregiving"
	logx "carecue/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.kv.json            (snapshot, rewritten on every Set)
//   - <prefix>.events.jsonl       (append-only JSON Lines)
//   - <prefix>.vaccines.json      (snapshot, rewritten on every PutVaccine)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	kvPath      string
	vaccinePath string
	eventsFile  *os.File

	kv       map[string][]byte
	events   []caregiving.Event
	vaccines map[string]caregiving.Vaccine
}

// eventRecord keeps the timestamp as text so one bad line can't hide the rest.
type eventRecord struct {
	ID      string `json:"id"`
	ChildID string `json:"child_id"`
	Type    string `json:"type"`
	SubType string `json:"sub_type,omitempty"`
	At      string `json:"at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	st := &fileStore{
		log:         log,
		kvPath:      prefix + ".kv.json",
		vaccinePath: prefix + ".vaccines.json",
		kv:          map[string][]byte{},
		vaccines:    map[string]caregiving.Vaccine{},
	}

	if err := loadJSONFile(st.kvPath, &st.kv); err != nil && !errors.Is(err, os.ErrNotExist) {
		// A corrupt snapshot must not prevent startup; settings fall back to defaults.
		log.Warn("kv snapshot unreadable; starting empty", logx.String("path", st.kvPath), logx.Err(err))
		st.kv = map[string][]byte{}
	}
	if err := loadJSONFile(st.vaccinePath, &st.vaccines); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("vaccine snapshot unreadable; starting empty", logx.String("path", st.vaccinePath), logx.Err(err))
		st.vaccines = map[string]caregiving.Vaccine{}
	}

	eventsPath := prefix + ".events.jsonl"
	events, err := replayEvents(eventsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	st.events = events

	ef, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	st.eventsFile = ef
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsFile == nil {
		return nil
	}
	err := s.eventsFile.Close()
	s.eventsFile = nil
	return err
}

func (s *fileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *fileStore) Set(ctx context.Context, key string, value []byte) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("key required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsFile == nil {
		return ErrClosed
	}
	prev, had := s.kv[key]
	s.kv[key] = append([]byte(nil), value...)
	if err := writeJSONFile(s.kvPath, s.kv); err != nil {
		// Keep memory consistent with disk.
		if had {
			s.kv[key] = prev
		} else {
			delete(s.kv, key)
		}
		return err
	}
	return nil
}

func (s *fileStore) AppendEvent(ctx context.Context, e caregiving.Event) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsFile == nil {
		return ErrClosed
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	rec := eventRecord{ID: e.ID, ChildID: e.ChildID, Type: string(e.Type), SubType: e.SubType}
	if !e.At.IsZero() {
		rec.At = e.At.Format(time.RFC3339Nano)
	}
	if err := json.NewEncoder(s.eventsFile).Encode(rec); err != nil {
		return err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *fileStore) QueryEvents(ctx context.Context, childID string, since time.Time) ([]caregiving.Event, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]caregiving.Event, 0, 32)
	for _, e := range s.events {
		if e.ChildID != childID {
			continue
		}
		// Keep events with unreadable timestamps; the analyzer decides what to skip.
		if !e.At.IsZero() && e.At.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *fileStore) LastEvent(ctx context.Context, childID string, typ caregiving.EventType) (caregiving.Event, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		last  caregiving.Event
		found bool
	)
	for _, e := range s.events {
		if e.ChildID != childID || e.Type != typ || e.At.IsZero() {
			continue
		}
		if !found || e.At.After(last.At) {
			last = e
			found = true
		}
	}
	return last, found, nil
}

func (s *fileStore) PutVaccine(ctx context.Context, v caregiving.Vaccine) error {
	_ = ctx
	if strings.TrimSpace(v.Occasion) == "" {
		return errors.New("vaccine occasion required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsFile == nil {
		return ErrClosed
	}
	key := v.ChildID + "|" + v.Occasion
	prev, had := s.vaccines[key]
	s.vaccines[key] = v
	if err := writeJSONFile(s.vaccinePath, s.vaccines); err != nil {
		if had {
			s.vaccines[key] = prev
		} else {
			delete(s.vaccines, key)
		}
		return err
	}
	return nil
}

func (s *fileStore) UpcomingVaccines(ctx context.Context, childID string, from time.Time) ([]caregiving.Vaccine, error) {
	_ = ctx
	s.mu.Lock()
	out := make([]caregiving.Vaccine, 0, len(s.vaccines))
	for _, v := range s.vaccines {
		if v.ChildID == childID && !v.DueDate.Before(from) {
			out = append(out, v)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func replayEvents(path string) ([]caregiving.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []caregiving.Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r eventRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.ChildID == "" || r.Type == "" {
			continue
		}
		e := caregiving.Event{ID: r.ID, ChildID: r.ChildID, Type: caregiving.EventType(r.Type), SubType: r.SubType}
		if at, err := time.Parse(time.RFC3339Nano, r.At); err == nil {
			e.At = at
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func loadJSONFile(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(out)
}

func writeJSONFile(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
