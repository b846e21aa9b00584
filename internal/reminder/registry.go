package reminder

import (
	"sort"
	"sync"
	"time"
)

// Entry is one reminder the dispatcher has confirmed.
type Entry struct {
	Kind        Kind      `json:"-"`
	Tag         string    `json:"kind"`
	TriggerID   string    `json:"trigger_id"`
	Trigger     Trigger   `json:"trigger"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// Registry maps each kind to the trigger the dispatcher holds for it.
// It holds at most one entry per Kind.
type Registry struct {
	mu sync.Mutex
	m  map[Kind]Entry
}

func NewRegistry() *Registry {
	return &Registry{m: map[Kind]Entry{}}
}

func (r *Registry) Get(k Kind) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.m[k]
	return e, ok
}

// Put replaces any entry for e.Kind.
func (r *Registry) Put(e Entry) {
	e.Tag = e.Kind.String()
	r.mu.Lock()
	r.m[e.Kind] = e
	r.mu.Unlock()
}

func (r *Registry) Delete(k Kind) {
	r.mu.Lock()
	delete(r.m, k)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

// Entries returns a copy sorted by tag.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.m))
	for _, e := range r.m {
		out = append(out, e)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// KindsOf returns the registered kinds of type t.
func (r *Registry) KindsOf(t KindType) []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Kind
	for k := range r.m {
		if k.Type == t {
			out = append(out, k)
		}
	}
	return out
}
