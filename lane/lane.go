// Package lane implements the Lane Store (spec §4.9): workstream tracking
// with a single-active-lane invariant and a capped number of paused lanes.
// Accessed only from the turn loop (spec §5) so it needs no internal
// locking beyond what's required for defensive-copy reads.
package lane

import (
	"time"

	"github.com/google/uuid"

	"github.com/ctrlplane/kernel/kernelerr"
)

// Status is a lane's lifecycle state.
type Status string

const (
	Active    Status = "active"
	Paused    Status = "paused"
	Completed Status = "completed"
)

// LeaseMode distinguishes whether a lane's lease was taken for execution or
// for evaluation.
type LeaseMode string

const (
	Execution  LeaseMode = "execution"
	Evaluation LeaseMode = "evaluation"
)

// Lease is the time-boxed grant backing a lane.
type Lease struct {
	Mode      LeaseMode
	Goal      string
	ExpiresAt time.Time
}

// Budgets caps per-turn resource use for a lane.
type Budgets struct {
	MaxToolRequestsPerTurn int
}

// Policy carries advisory constraints surfaced to the Executor but not
// enforced by the kernel (mirrors Commitment non-goals, spec §4.2).
type Policy struct {
	NonGoals []string
}

// Snapshot is the bookmark state captured when a lane is paused.
type Snapshot struct {
	Bookmark      string
	NextSteps     []string
	OpenQuestions []string
}

// Lane is a tracked workstream (spec glossary).
type Lane struct {
	ID        string
	Kind      string
	Status    Status
	Lease     Lease
	Policy    Policy
	Budgets   Budgets
	Snapshot  Snapshot
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultMaxPausedLanes is spec §4.9/§6's documented default.
const DefaultMaxPausedLanes = 5

// Store tracks all lanes and enforces the single-active-lane invariant.
// Not safe for concurrent use — the turn loop is single-threaded (spec §5).
type Store struct {
	lanes        map[string]*Lane
	activeLaneID string
	maxPaused    int
	defaultLease time.Duration
}

// New constructs an empty Store. maxPaused <= 0 defaults to
// DefaultMaxPausedLanes; defaultLease <= 0 defaults to 24h.
func New(maxPaused int, defaultLease time.Duration) *Store {
	if maxPaused <= 0 {
		maxPaused = DefaultMaxPausedLanes
	}
	if defaultLease <= 0 {
		defaultLease = 24 * time.Hour
	}
	return &Store{lanes: map[string]*Lane{}, maxPaused: maxPaused, defaultLease: defaultLease}
}

// GetActive returns the currently active lane, if any.
func (s *Store) GetActive() (Lane, bool) {
	if s.activeLaneID == "" {
		return Lane{}, false
	}
	l, ok := s.lanes[s.activeLaneID]
	if !ok {
		return Lane{}, false
	}
	return *l, true
}

// Get returns a defensive copy of the lane with the given id.
func (s *Store) Get(id string) (Lane, bool) {
	l, ok := s.lanes[id]
	if !ok {
		return Lane{}, false
	}
	return *l, true
}

// CountPaused returns the number of currently paused lanes.
func (s *Store) CountPaused() int {
	n := 0
	for _, l := range s.lanes {
		if l.Status == Paused {
			n++
		}
	}
	return n
}

// Create adds a new lane. If autoActivate is true and no lane is active,
// the new lane starts Active; if a lane is already active, the new lane
// starts Paused regardless of autoActivate (spec §4.9). Create fails once
// the number of paused lanes has reached the cap, even when the new lane
// would start Active.
func (s *Store) Create(kind, goal string, mode LeaseMode, leaseDuration time.Duration, policy Policy, budgets Budgets, autoActivate bool) (Lane, error) {
	if s.CountPaused() >= s.maxPaused {
		return Lane{}, kernelerr.New(kernelerr.LaneInvariant, "paused lane cap reached", map[string]any{"max_paused_lanes": s.maxPaused})
	}
	if leaseDuration <= 0 {
		leaseDuration = s.defaultLease
	}

	now := time.Now().UTC()
	l := &Lane{
		ID:        uuid.NewString(),
		Kind:      kind,
		Lease:     Lease{Mode: mode, Goal: goal, ExpiresAt: now.Add(leaseDuration)},
		Policy:    policy,
		Budgets:   budgets,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, hasActive := s.GetActive()
	switch {
	case hasActive:
		l.Status = Paused
	case autoActivate:
		l.Status = Active
		s.activeLaneID = l.ID
	default:
		l.Status = Paused
	}

	s.lanes[l.ID] = l
	return *l, nil
}

// Activate makes lane id Active. The currently active lane, if any and not
// the target itself, must already be Paused — Activate never auto-pauses
// it (spec §4.9: "requires the current one to be paused first").
func (s *Store) Activate(id string) (Lane, error) {
	l, ok := s.lanes[id]
	if !ok {
		return Lane{}, kernelerr.New(kernelerr.LaneInvariant, "lane not found", map[string]any{"lane_id": id})
	}
	if l.Status == Completed {
		return Lane{}, kernelerr.New(kernelerr.LaneInvariant, "cannot activate a completed lane", map[string]any{"lane_id": id})
	}
	if s.activeLaneID != "" && s.activeLaneID != id {
		return Lane{}, kernelerr.New(kernelerr.LaneInvariant, "another lane is active; pause it first", map[string]any{"active_lane_id": s.activeLaneID})
	}

	l.Status = Active
	l.UpdatedAt = time.Now().UTC()
	s.activeLaneID = id
	return *l, nil
}

// Pause pauses the Active lane id with a non-empty bookmark.
func (s *Store) Pause(id, bookmark string, nextSteps, openQuestions []string) (Lane, error) {
	l, ok := s.lanes[id]
	if !ok {
		return Lane{}, kernelerr.New(kernelerr.LaneInvariant, "lane not found", map[string]any{"lane_id": id})
	}
	if l.Status != Active {
		return Lane{}, kernelerr.New(kernelerr.LaneInvariant, "cannot pause a lane that is not active", map[string]any{"lane_id": id, "status": l.Status})
	}
	if bookmark == "" {
		return Lane{}, kernelerr.New(kernelerr.LaneInvariant, "pausing requires a non-empty bookmark", map[string]any{"lane_id": id})
	}

	l.Status = Paused
	l.Snapshot = Snapshot{Bookmark: bookmark, NextSteps: nextSteps, OpenQuestions: openQuestions}
	l.UpdatedAt = time.Now().UTC()
	if s.activeLaneID == id {
		s.activeLaneID = ""
	}
	return *l, nil
}

// Resume makes a Paused lane Active, requiring no other lane be active.
func (s *Store) Resume(id string) (Lane, error) {
	l, ok := s.lanes[id]
	if !ok {
		return Lane{}, kernelerr.New(kernelerr.LaneInvariant, "lane not found", map[string]any{"lane_id": id})
	}
	if l.Status != Paused {
		return Lane{}, kernelerr.New(kernelerr.LaneInvariant, "cannot resume a lane that is not paused", map[string]any{"lane_id": id, "status": l.Status})
	}
	if s.activeLaneID != "" {
		return Lane{}, kernelerr.New(kernelerr.LaneInvariant, "another lane is active; pause it first", map[string]any{"active_lane_id": s.activeLaneID})
	}

	l.Status = Active
	l.UpdatedAt = time.Now().UTC()
	s.activeLaneID = id
	return *l, nil
}

// Complete seals a lane, recording an optional final summary in its
// snapshot bookmark.
func (s *Store) Complete(id string, summary string) (Lane, error) {
	l, ok := s.lanes[id]
	if !ok {
		return Lane{}, kernelerr.New(kernelerr.LaneInvariant, "lane not found", map[string]any{"lane_id": id})
	}
	wasActive := s.activeLaneID == id
	l.Status = Completed
	if summary != "" {
		l.Snapshot.Bookmark = summary
	}
	l.UpdatedAt = time.Now().UTC()
	if wasActive {
		s.activeLaneID = ""
	}
	return *l, nil
}

// Remove deletes a Completed lane from the store.
func (s *Store) Remove(id string) bool {
	l, ok := s.lanes[id]
	if !ok || l.Status != Completed {
		return false
	}
	delete(s.lanes, id)
	return true
}

// CheckBudget reports whether toolRequests is within lane id's per-turn
// budget.
func (s *Store) CheckBudget(id string, toolRequests int) bool {
	l, ok := s.lanes[id]
	if !ok {
		return false
	}
	if l.Budgets.MaxToolRequestsPerTurn <= 0 {
		return true
	}
	return toolRequests <= l.Budgets.MaxToolRequestsPerTurn
}

// CheckExpiredLeases returns all Active lanes whose lease has expired.
// Expiry does not auto-expire a lane; spec §4.9 says it surfaces via the
// Evaluation gate instead.
func (s *Store) CheckExpiredLeases() []Lane {
	now := time.Now().UTC()
	var expired []Lane
	for _, l := range s.lanes {
		if l.Status == Active && now.After(l.Lease.ExpiresAt) {
			expired = append(expired, *l)
		}
	}
	return expired
}

// RenewLease extends lane id's lease by the given duration from now.
func (s *Store) RenewLease(id string, duration time.Duration) (Lane, error) {
	l, ok := s.lanes[id]
	if !ok {
		return Lane{}, kernelerr.New(kernelerr.LaneInvariant, "lane not found", map[string]any{"lane_id": id})
	}
	if duration <= 0 {
		duration = s.defaultLease
	}
	l.Lease.ExpiresAt = time.Now().UTC().Add(duration)
	l.UpdatedAt = time.Now().UTC()
	return *l, nil
}
