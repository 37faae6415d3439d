// Package memory implements the Memory Bus and Write Gate (spec §4.8):
// unified access to four tiers (Working, Shared, Episodic, Semantic) behind
// a single interface, each with a distinct write policy. All mutators take
// the Bus's lock; reads under lock return defensive copies (spec §5).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ctrlplane/kernel/kernelerr"
	"github.com/ctrlplane/kernel/memory/mongostore"
	"github.com/ctrlplane/kernel/memory/redisstore"
	"github.com/ctrlplane/kernel/trace"
)

// ConflictLevel ranks how much a candidate write conflicts with existing
// state, consumed by the Write Gate for Shared/Semantic decisions.
type ConflictLevel string

const (
	ConflictNone   ConflictLevel = "none"
	ConflictLow    ConflictLevel = "low"
	ConflictMedium ConflictLevel = "medium"
	ConflictHigh   ConflictLevel = "high"
)

// BlastRadius scopes how far a write's effects propagate.
type BlastRadius string

const (
	BlastLocal   BlastRadius = "local"
	BlastProblem BlastRadius = "problem"
	BlastGlobal  BlastRadius = "global"
)

// WriteSignals are the Write Gate's inputs (spec glossary).
type WriteSignals struct {
	ProgressDelta  float64
	ConflictLevel  ConflictLevel
	SourceQuality  float64
	AlignmentScore float64
	BlastRadius    BlastRadius
}

// GateConfig configures the Write Gate's thresholds (spec §4.8, §6).
type GateConfig struct {
	MinSourceQuality     float64
	MinAlignment         float64
	BlastRadiusThreshold float64
	SemanticMinQuality   float64
	SemanticMinAlignment float64
	SharedHistoryCap     int
	WorkingTTL           time.Duration
}

// DefaultGateConfig returns spec §6's documented defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinSourceQuality:     0.3,
		MinAlignment:         0.4,
		BlastRadiusThreshold: 0.7,
		SemanticMinQuality:   0.5,
		SemanticMinAlignment: 0.6,
		SharedHistoryCap:     20,
		WorkingTTL:           2 * time.Hour,
	}
}

// sharedVersion is one retained version of a Shared-tier value.
type sharedVersion struct {
	Value     any
	Version   int
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PatternRecord is a Semantic-tier entry (spec glossary).
type PatternRecord struct {
	ID                 string
	Type               string
	TriggerSignature   string
	RecommendedAction  string
	Confidence         float64
	EvidenceEventIDs   []string
	CreatedAt          time.Time
	LastStrengthenedAt time.Time
}

type workingEntry struct {
	value     any
	expiresAt time.Time
}

// Bus is the unified Memory Bus over all four tiers.
type Bus struct {
	mu sync.Mutex

	cfg GateConfig

	working map[string]map[string]workingEntry // problemID -> key -> entry
	shared  map[string][]sharedVersion         // key -> version history, latest last
	pattern map[string]*PatternRecord

	tr *trace.Trace

	// durable persists Shared/Semantic tiers as canonical documents after
	// every mutation (spec §4.8). Optional: nil means in-memory only.
	durable *mongostore.Store
	// workingStore write-throughs Working-tier entries to a distributed
	// cache. Optional: nil keeps Working entirely in-process.
	workingStore *redisstore.Store
}

// Option configures optional Bus dependencies.
type Option func(*Bus)

// WithDurableStore wires a Mongo-backed store that receives a copy of every
// Shared and Semantic mutation, satisfying spec §4.8's persistence
// requirement. The in-memory maps remain the Bus's authoritative read path;
// persistence failures are logged, not fatal.
func WithDurableStore(s *mongostore.Store) Option {
	return func(b *Bus) { b.durable = s }
}

// WithWorkingStore wires a Redis-backed store that mirrors Working-tier
// writes. ReadWorking reads only the in-process map; it never reads back
// from this store.
func WithWorkingStore(s *redisstore.Store) Option {
	return func(b *Bus) { b.workingStore = s }
}

// New constructs an empty Bus.
func New(cfg GateConfig, tr *trace.Trace, opts ...Option) *Bus {
	if cfg.WorkingTTL <= 0 {
		cfg.WorkingTTL = DefaultGateConfig().WorkingTTL
	}
	if cfg.SharedHistoryCap <= 0 {
		cfg.SharedHistoryCap = DefaultGateConfig().SharedHistoryCap
	}
	b := &Bus{
		cfg:     cfg,
		working: map[string]map[string]workingEntry{},
		shared:  map[string][]sharedVersion{},
		pattern: map[string]*PatternRecord{},
		tr:      tr,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WriteWorking always succeeds (spec §4.8: "Working: always allow"),
// isolated per problemID and TTL-bounded.
func (b *Bus) WriteWorking(problemID, key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, ok := b.working[problemID]
	if !ok {
		bucket = map[string]workingEntry{}
		b.working[problemID] = bucket
	}
	bucket[key] = workingEntry{value: value, expiresAt: time.Now().Add(b.cfg.WorkingTTL)}
	b.auditWrite("working", key, true, "always_allow", nil)

	if b.workingStore != nil {
		if err := b.workingStore.Write(context.Background(), problemID, key, value, b.cfg.WorkingTTL); err != nil {
			b.logPersistError("working", key, err)
		}
	}
}

// ReadWorking returns the value for (problemID, key), or false if absent or
// expired. Expired entries are lazily evicted.
func (b *Bus) ReadWorking(problemID, key string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, ok := b.working[problemID]
	if !ok {
		return nil, false
	}
	entry, ok := bucket[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(bucket, key)
		return nil, false
	}
	return entry.value, true
}

// WriteShared applies the Write Gate's Shared-tier policy (spec §4.8) and,
// if allowed, increments the key's monotonic version and retains history up
// to SharedHistoryCap.
func (b *Bus) WriteShared(key, source string, value any, sig WriteSignals) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkSharedGate(sig); err != nil {
		b.auditWrite("shared", key, false, err.Reason, nil)
		return 0, err
	}

	history := b.shared[key]
	version := 1
	if len(history) > 0 {
		version = history[len(history)-1].Version + 1
	}
	now := time.Now().UTC()
	history = append(history, sharedVersion{Value: value, Version: version, Source: source, CreatedAt: now, UpdatedAt: now})
	if len(history) > b.cfg.SharedHistoryCap {
		history = history[len(history)-b.cfg.SharedHistoryCap:]
	}
	b.shared[key] = history
	b.auditWrite("shared", key, true, "allowed", map[string]any{"version": version})

	if b.durable != nil {
		doc := mongostore.SharedDocument{
			Key: key, Value: value, Version: version, Source: source,
			CreatedAt: now, UpdatedAt: now,
		}
		if err := b.durable.PutShared(context.Background(), doc); err != nil {
			b.logPersistError("shared", key, err)
		}
	}
	return version, nil
}

func (b *Bus) checkSharedGate(sig WriteSignals) *kernelerr.Error {
	if sig.SourceQuality < b.cfg.MinSourceQuality {
		return kernelerr.New(kernelerr.WriteDenied, "source_quality below minimum", nil)
	}
	if sig.AlignmentScore < b.cfg.MinAlignment {
		return kernelerr.New(kernelerr.WriteDenied, "alignment_score below minimum", nil)
	}
	if sig.BlastRadius == BlastGlobal && sig.SourceQuality <= b.cfg.BlastRadiusThreshold {
		return kernelerr.New(kernelerr.WriteDenied, "global blast radius requires higher source_quality", nil)
	}
	return nil
}

// ReadShared returns the value at the given version, or the latest if
// version is nil.
func (b *Bus) ReadShared(key string, version *int) (any, int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	history := b.shared[key]
	if len(history) == 0 {
		return nil, 0, false
	}
	if version == nil {
		latest := history[len(history)-1]
		return latest.Value, latest.Version, true
	}
	for _, v := range history {
		if v.Version == *version {
			return v.Value, v.Version, true
		}
	}
	return nil, 0, false
}

// AddPattern applies the Semantic-tier Write Gate and, if allowed, creates a
// new pattern record with a generated id.
func (b *Bus) AddPattern(patternType, triggerSignature, recommendedAction string, sig WriteSignals, evidence ...string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkSemanticGate(sig); err != nil {
		b.auditWrite("semantic", "", false, err.Reason, nil)
		return "", err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	record := &PatternRecord{
		ID: id, Type: patternType, TriggerSignature: triggerSignature,
		RecommendedAction: recommendedAction, Confidence: sig.SourceQuality,
		EvidenceEventIDs: append([]string{}, evidence...), CreatedAt: now,
	}
	b.pattern[id] = record
	b.auditWrite("semantic", id, true, "allowed", nil)
	b.persistPattern(record)
	return id, nil
}

// persistPattern writes the current state of a pattern record to the
// durable store, if one is configured. Called after every Semantic-tier
// mutation so the persisted document tracks confidence changes, not just
// creation.
func (b *Bus) persistPattern(p *PatternRecord) {
	if b.durable == nil {
		return
	}
	doc := mongostore.SemanticDocument{
		ID:                 p.ID,
		PatternType:        p.Type,
		InputSignature:     p.TriggerSignature,
		RecommendedAction:  p.RecommendedAction,
		Confidence:         p.Confidence,
		EvidenceIDs:        append([]string{}, p.EvidenceEventIDs...),
		CreatedAt:          p.CreatedAt,
		LastStrengthenedAt: p.LastStrengthenedAt,
	}
	if err := b.durable.PutSemantic(context.Background(), doc); err != nil {
		b.logPersistError("semantic", p.ID, err)
	}
}

func (b *Bus) checkSemanticGate(sig WriteSignals) *kernelerr.Error {
	if sig.ConflictLevel != ConflictNone {
		return kernelerr.New(kernelerr.WriteDenied, "conflicting semantic pattern", nil)
	}
	if sig.SourceQuality < b.cfg.SemanticMinQuality {
		return kernelerr.New(kernelerr.WriteDenied, "source_quality below semantic minimum", nil)
	}
	if sig.AlignmentScore < b.cfg.SemanticMinAlignment {
		return kernelerr.New(kernelerr.WriteDenied, "alignment_score below semantic minimum", nil)
	}
	return nil
}

// StrengthenPattern increments confidence by +0.05 (clamped to 1.0) and
// appends evidenceID.
func (b *Bus) StrengthenPattern(id, evidenceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pattern[id]
	if !ok {
		return kernelerr.New(kernelerr.WriteDenied, "unknown pattern id", nil)
	}
	p.Confidence = clamp01(p.Confidence + 0.05)
	p.EvidenceEventIDs = append(p.EvidenceEventIDs, evidenceID)
	p.LastStrengthenedAt = time.Now().UTC()
	b.persistPattern(p)
	return nil
}

// WeakenPattern subtracts 0.1 from confidence (clamped to 0.0).
func (b *Bus) WeakenPattern(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pattern[id]
	if !ok {
		return kernelerr.New(kernelerr.WriteDenied, "unknown pattern id", nil)
	}
	p.Confidence = clamp01(p.Confidence - 0.1)
	b.persistPattern(p)
	return nil
}

// GetPattern returns a defensive copy of the pattern record.
func (b *Bus) GetPattern(id string) (PatternRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pattern[id]
	if !ok {
		return PatternRecord{}, false
	}
	return *p, true
}

func (b *Bus) auditWrite(tier, key string, allowed bool, reason string, extra map[string]any) {
	if b.tr == nil {
		return
	}
	eventType := "write_denied"
	if allowed {
		eventType = "write_completed"
	}
	payload := map[string]any{"tier": tier, "key": key, "reason": reason}
	for k, v := range extra {
		payload[k] = v
	}
	_, _ = b.tr.Log(eventType, payload, "", nil)
}

// logPersistError records a durable-store failure without touching the
// already-committed in-memory state: the Bus's maps remain authoritative,
// so a write-through failure is observability, not a rollback trigger.
func (b *Bus) logPersistError(tier, key string, err error) {
	if b.tr == nil {
		return
	}
	_, _ = b.tr.Log("durable_persist_failed", map[string]any{
		"tier": tier, "key": key, "error": err.Error(),
	}, "", nil)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
