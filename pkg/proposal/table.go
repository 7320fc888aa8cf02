package proposal

import (
	"fmt"
	"sync"
	"time"
)

// Table is the authoritative in-memory arena of proposals. A single coarse
// lock serializes all mutations so the no-duplicate-vote and single-active-
// dispute invariants hold under concurrent callers. Reads hand out deep
// copies; callers never see the stored records.
type Table struct {
	mu        sync.RWMutex
	proposals map[string]*ClawbackProposal
	order     []string
}

// NewTable creates an empty proposal table.
func NewTable() *Table {
	return &Table{
		proposals: make(map[string]*ClawbackProposal),
	}
}

// Insert stores a freshly created proposal.
func (t *Table) Insert(p *ClawbackProposal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.proposals[p.ID]; exists {
		return fmt.Errorf("proposal %s already exists", p.ID)
	}
	t.proposals[p.ID] = p.Clone()
	t.order = append(t.order, p.ID)
	return nil
}

// Snapshot returns a deep copy of the proposal with its status evaluated
// against now. The stored record is never mutated by reads.
func (t *Table) Snapshot(id string, now time.Time) (*ClawbackProposal, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: proposal %s", ErrNotFound, id)
	}
	out := p.Clone()
	out.Status = EffectiveStatus(p, now)
	return out, nil
}

// Update runs fn against the stored record under the exclusive lock and
// returns a deep copy of the result. Engines perform their check-and-mutate
// sequences inside fn; an error from fn leaves the record visible as-is and
// propagates unchanged.
func (t *Table) Update(id string, fn func(*ClawbackProposal) error) (*ClawbackProposal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: proposal %s", ErrNotFound, id)
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// All returns snapshots of every proposal in creation order.
func (t *Table) All(now time.Time) []*ClawbackProposal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*ClawbackProposal, 0, len(t.order))
	for _, id := range t.order {
		p := t.proposals[id]
		snap := p.Clone()
		snap.Status = EffectiveStatus(p, now)
		out = append(out, snap)
	}
	return out
}

// Len returns the number of proposals ever created.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.proposals)
}

// StatusCounts tallies proposals by effective status at now.
func (t *Table) StatusCounts(now time.Time) map[Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[Status]int)
	for _, p := range t.proposals {
		counts[EffectiveStatus(p, now)]++
	}
	return counts
}
