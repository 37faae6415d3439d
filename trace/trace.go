// Package trace implements the Episodic Trace (spec §4.12): an append-only,
// structured event log that is the primary audit record for the kernel.
// Every other component is handed a *Trace at construction time rather than
// reaching for a global — see spec §9's note on breaking the
// Trace-Memory-Gate cycle by ownership.
package trace

import (
	"bufio"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a single episodic record (spec §3).
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
	Refs      []string       `json:"refs"`
	ProblemID string         `json:"problem_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	// seq breaks ties between events sharing a wall-clock instant (spec §5:
	// "within the same wall-clock instant, insertion order breaks ties").
	seq int64
}

// Trace is the append-only episodic event log. All public methods are
// safe for concurrent use; mutators hold the same lock used to flush to the
// configured Writer (spec §5: "guards its append with the same lock
// discipline and flushes to persistent storage after each append").
type Trace struct {
	mu        sync.Mutex
	sessionID string
	seq       int64
	byID      map[string]Event
	ordered   []Event
	w         io.Writer
}

// Option configures a new Trace.
type Option func(*Trace)

// WithWriter durably persists each appended event as a line-delimited JSON
// record (the `episodic.jsonl` layout from spec §6). If unset, the Trace is
// in-memory only.
func WithWriter(w io.Writer) Option {
	return func(t *Trace) { t.w = w }
}

// WithSessionID auto-assigns SessionID to appended events that don't carry
// one already (spec §4.12: "Session id is auto-assigned if unset").
func WithSessionID(id string) Option {
	return func(t *Trace) { t.sessionID = id }
}

// New constructs an empty Trace.
func New(opts ...Option) *Trace {
	t := &Trace{byID: map[string]Event{}}
	for _, o := range opts {
		o(t)
	}
	if t.sessionID == "" {
		t.sessionID = uuid.NewString()
	}
	return t
}

// Load replays a previously persisted line-delimited record stream into a
// fresh in-memory index, matching spec §4.12: "on load the whole file is
// replayed into an in-memory index keyed by id."
func Load(r io.Reader, opts ...Option) (*Trace, error) {
	t := New(opts...)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var seq int64
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, err
		}
		e.seq = seq
		seq++
		t.byID[e.ID] = e
		t.ordered = append(t.ordered, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	t.seq = seq
	return t, nil
}

// Append writes an event to the trace, assigning an ID if unset. Returns the
// event's ID.
func (t *Trace) Append(e Event) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.SessionID == "" {
		e.SessionID = t.sessionID
	}
	e.seq = t.seq
	t.seq++

	t.byID[e.ID] = e
	t.ordered = append(t.ordered, e)

	if t.w != nil {
		enc := json.NewEncoder(t.w)
		if err := enc.Encode(e); err != nil {
			return e.ID, err
		}
		if f, ok := t.w.(interface{ Sync() error }); ok {
			_ = f.Sync()
		}
	}
	return e.ID, nil
}

// Log builds and appends an Event from loosely typed fields, the ergonomic
// entry point most kernel components use.
func (t *Trace) Log(eventType string, payload map[string]any, problemID string, refs []string) (string, error) {
	return t.Append(Event{
		Type:      eventType,
		Payload:   payload,
		ProblemID: problemID,
		Refs:      refs,
	})
}

// Get returns the event with the given id.
func (t *Trace) Get(id string) (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[id]
	return e, ok
}

// QueryFilter narrows a Query call. Zero-value fields are unconstrained.
type QueryFilter struct {
	Type      string
	ProblemID string
	Start     time.Time
	Limit     int
}

// Query returns events matching the filter, most recent first; a positive
// Limit keeps only the first Limit of them (spec §4.12: "limit returns the
// most recent N respecting filters").
func (t *Trace) Query(f QueryFilter) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	matches := make([]Event, 0, len(t.ordered))
	for _, e := range t.ordered {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.ProblemID != "" && e.ProblemID != f.ProblemID {
			continue
		}
		if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
			continue
		}
		matches = append(matches, e)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Timestamp.Equal(matches[j].Timestamp) {
			return matches[i].seq > matches[j].seq
		}
		return matches[i].Timestamp.After(matches[j].Timestamp)
	})
	if f.Limit > 0 && len(matches) > f.Limit {
		matches = matches[:f.Limit]
	}
	return matches
}

// GetRecent returns the n most recently appended events across all types.
func (t *Trace) GetRecent(n int) []Event {
	return t.Query(QueryFilter{Limit: n})
}

// Since returns events whose Timestamp is at or after cutoff, oldest first.
func (t *Trace) Since(cutoff time.Time) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, 0)
	for _, e := range t.ordered {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// SessionID returns the trace's auto-assigned or configured session id.
func (t *Trace) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}
