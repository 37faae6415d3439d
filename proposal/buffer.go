package proposal

import "sort"

// priorityIndex builds a lookup from source tag to its rank in order, used
// to sort GateRequest proposals deterministically (spec §4.4).
func priorityIndex(order []string) map[Source]int {
	idx := make(map[Source]int, len(order))
	for i, s := range order {
		idx[Source(s)] = i
	}
	return idx
}

// Buffer is the write-once-per-turn store for proposals (spec §4.4). A new
// Buffer is constructed per turn; callers clear it explicitly after the
// Gate Controller finishes processing.
type Buffer struct {
	items []Proposal
}

// NewBuffer constructs an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Add appends a proposal, preserving insertion order within its source
// (spec §4.3: "Within a group, insertion order").
func (b *Buffer) Add(p Proposal) {
	b.items = append(b.items, p)
}

// GetByKind returns all buffered proposals of the given kind, in insertion
// order.
func (b *Buffer) GetByKind(k Kind) []Proposal {
	out := make([]Proposal, 0)
	for _, p := range b.items {
		if p.Kind == k {
			out = append(out, p)
		}
	}
	return out
}

// HasEmergency reports whether any buffered GateRequest carries
// SeverityEmergency (spec §4.3 rule 1).
func (b *Buffer) HasEmergency() bool {
	for _, p := range b.items {
		if p.Kind == KindGateRequest && p.GateRequest != nil && p.GateRequest.Severity == SeverityEmergency {
			return true
		}
	}
	return false
}

// GetGateProposals returns the buffered GateRequest proposals ordered per
// spec §4.3: grouped by source in priorityOrder, insertion order within a
// group, with duplicate (gate, source) pairs collapsed to the
// highest-severity occurrence (spec §4.3 rule 3, and SPEC_FULL.md's
// decision to assign dedupe to the Buffer rather than the controller).
// Emergency-severity proposals are excluded: the Gate Controller handles at
// most one Emergency gate per turn via a separate path (spec §4.3 rule 1).
func (b *Buffer) GetGateProposals(priorityOrder []string) []Proposal {
	idx := priorityIndex(priorityOrder)

	type key struct {
		gate   string
		source Source
	}
	seen := map[key]int{} // key -> index into deduped
	deduped := make([]Proposal, 0, len(b.items))

	for _, p := range b.items {
		if p.Kind != KindGateRequest || p.GateRequest == nil {
			continue
		}
		if p.GateRequest.Severity == SeverityEmergency {
			continue
		}
		k := key{gate: p.GateRequest.Gate, source: p.Source}
		if i, ok := seen[k]; ok {
			if severityRank(p.GateRequest.Severity) > severityRank(deduped[i].GateRequest.Severity) {
				deduped[i] = p
			}
			continue
		}
		seen[k] = len(deduped)
		deduped = append(deduped, p)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		ri, oki := idx[deduped[i].Source]
		rj, okj := idx[deduped[j].Source]
		if !oki {
			ri = len(priorityOrder)
		}
		if !okj {
			rj = len(priorityOrder)
		}
		return ri < rj
	})
	return deduped
}

// EmergencyProposals returns buffered GateRequest proposals with
// SeverityEmergency, in insertion order.
func (b *Buffer) EmergencyProposals() []Proposal {
	out := make([]Proposal, 0)
	for _, p := range b.items {
		if p.Kind == KindGateRequest && p.GateRequest != nil && p.GateRequest.Severity == SeverityEmergency {
			out = append(out, p)
		}
	}
	return out
}

// Clear empties the buffer. Called by the Turn Driver after the Gate
// Controller has processed the turn (spec §4.4).
func (b *Buffer) Clear() {
	b.items = nil
}

// Len reports how many proposals are currently buffered.
func (b *Buffer) Len() int {
	return len(b.items)
}

func severityRank(s Severity) int {
	switch s {
	case SeverityEmergency:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}
