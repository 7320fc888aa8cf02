// Package ledger implements the append-only transparency ledger with
// hash chaining. Every governance action is mirrored here; the chain is
// seeded with a SYSTEM_INIT entry so verification always has a genesis
// link. Entries are never mutated or deleted for the process lifetime.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/castellan-labs/recourse/pkg/canonicalize"
)

var (
	ErrEntryNotFound    = errors.New("entry not found")
	ErrInvalidEntryType = errors.New("invalid entry type")
	ErrMalformedEntry   = errors.New("malformed entry")
	ErrBadExpression    = errors.New("bad filter expression")
)

// genesisHash anchors the chain before the first entry.
const genesisHash = "genesis"

// EntryType categorizes transparency ledger entries.
type EntryType string

const (
	EntryProposalCreated    EntryType = "PROPOSAL_CREATED"
	EntryCommentAdded       EntryType = "COMMENT_ADDED"
	EntryVoteCast           EntryType = "VOTE_CAST"
	EntryDisputeFiled       EntryType = "DISPUTE_FILED"
	EntryDisputeResolved    EntryType = "DISPUTE_RESOLVED"
	EntryClawbackCancelled  EntryType = "CLAWBACK_CANCELLED"
	EntryClawbackApproved   EntryType = "CLAWBACK_APPROVED"
	EntryClawbackExecuted   EntryType = "CLAWBACK_EXECUTED"
	EntrySystemInit         EntryType = "SYSTEM_INIT"
)

var validEntryTypes = map[EntryType]struct{}{
	EntryProposalCreated:   {},
	EntryCommentAdded:      {},
	EntryVoteCast:          {},
	EntryDisputeFiled:      {},
	EntryDisputeResolved:   {},
	EntryClawbackCancelled: {},
	EntryClawbackApproved:  {},
	EntryClawbackExecuted:  {},
	EntrySystemInit:        {},
}

// Entry is a single immutable ledger record. VerificationHash covers the
// canonical serialization of every other field, chaining to the previous
// entry through PreviousHash.
type Entry struct {
	ID               string                 `json:"id"`
	Sequence         uint64                 `json:"sequence"`
	Type             EntryType              `json:"type"`
	ProposalID       string                 `json:"proposal_id,omitempty"`
	Action           string                 `json:"action"`
	Actor            string                 `json:"actor"`
	Timestamp        time.Time              `json:"timestamp"`
	Details          map[string]interface{} `json:"details,omitempty"`
	PreviousHash     string                 `json:"previous_hash"`
	VerificationHash string                 `json:"verification_hash"`
}

func (e Entry) clone() Entry {
	out := e
	if e.Details != nil {
		out.Details = make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			out.Details[k] = v
		}
	}
	return out
}

// Mirror receives every appended entry, in order, for out-of-process
// archival. The in-memory chain stays authoritative; mirror failures are
// logged and never propagated to callers.
type Mirror interface {
	Record(ctx context.Context, entry Entry) error
}

// ChainReport is the result of a read-side integrity recomputation.
// Verification never repairs anything; problems surface as data.
type ChainReport struct {
	Valid   bool     `json:"valid"`
	Errors  []string `json:"errors,omitempty"`
	Head    string   `json:"head"`
	Entries int      `json:"entries"`
}

// Ledger is the append-only hash-chained transparency log. Append is the
// single global critical section: each hash depends on the previous entry.
type Ledger struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string]int
	head    string
	seq     uint64
	clock   func() time.Time
	logger  *slog.Logger
	mirror  Mirror

	exprOnce sync.Once
	expr     *exprEvaluator
	exprErr  error
}

// Option configures a Ledger at construction, before the genesis entry
// is appended.
type Option func(*Ledger)

// WithClock overrides the clock for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger.With("component", "ledger") }
}

// WithMirror attaches a write-behind archive consumer. The mirror also
// receives the genesis entry.
func WithMirror(m Mirror) Option {
	return func(l *Ledger) { l.mirror = m }
}

// New creates a ledger seeded with the SYSTEM_INIT genesis entry.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		byID:   make(map[string]int),
		head:   genesisHash,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if _, err := l.Append(EntrySystemInit, "", "system", "Transparency ledger initialized", nil); err != nil {
		// Static input; unreachable in practice.
		l.logger.Error("genesis append failed", "error", err)
	}
	return l
}

// Append validates, hashes, and stores a new entry, returning the stored
// value. It fails only on malformed input: an unknown entry type, a blank
// action, or a blank actor.
func (l *Ledger) Append(entryType EntryType, proposalID, actor, action string, details map[string]interface{}) (Entry, error) {
	if _, ok := validEntryTypes[entryType]; !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidEntryType, entryType)
	}
	if action == "" {
		return Entry{}, fmt.Errorf("%w: action is required", ErrMalformedEntry)
	}
	if actor == "" {
		return Entry{}, fmt.Errorf("%w: actor is required", ErrMalformedEntry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	entry := Entry{
		ID:           uuid.New().String(),
		Sequence:     l.seq,
		Type:         entryType,
		ProposalID:   proposalID,
		Action:       action,
		Actor:        actor,
		Timestamp:    l.clock().UTC(),
		Details:      details,
		PreviousHash: l.head,
	}

	hash, err := computeEntryHash(entry)
	if err != nil {
		l.seq--
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	entry.VerificationHash = hash
	l.head = hash

	l.entries = append(l.entries, entry)
	l.byID[entry.ID] = len(l.entries) - 1

	if l.mirror != nil {
		if err := l.mirror.Record(context.Background(), entry.clone()); err != nil {
			l.logger.Warn("ledger mirror record failed",
				"sequence", entry.Sequence,
				"type", string(entry.Type),
				"error", err)
		}
	}

	return entry.clone(), nil
}

// computeEntryHash digests the canonical serialization of the entry's
// fields, previous hash included, which chains it to its predecessor.
func computeEntryHash(e Entry) (string, error) {
	return canonicalize.CanonicalHash(map[string]interface{}{
		"id":            e.ID,
		"sequence":      e.Sequence,
		"type":          string(e.Type),
		"proposal_id":   e.ProposalID,
		"action":        e.Action,
		"actor":         e.Actor,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"details":       e.Details,
		"previous_hash": e.PreviousHash,
	})
}

// All returns every entry in insertion order.
func (l *Ledger) All() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.clone())
	}
	return out
}

// ForProposal returns the sub-sequence of entries referencing proposalID,
// preserving global order. Unknown ids yield an empty slice, never an error.
func (l *Ledger) ForProposal(proposalID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0)
	for _, e := range l.entries {
		if e.ProposalID == proposalID {
			out = append(out, e.clone())
		}
	}
	return out
}

// Get retrieves an entry by id.
func (l *Ledger) Get(id string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.byID[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return l.entries[idx].clone(), nil
}

// Head returns the current chain head hash.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

// Len returns the number of entries, genesis included.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// VerifyChain recomputes the full chain from the genesis link forward.
// Any broken link or hash mismatch is reported as data, never an error.
func (l *Ledger) VerifyChain() ChainReport {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyEntries(l.entries, l.head)
}

// VerifySubChain recomputes the stored hash of every entry referencing
// proposalID from its own fields and stored previous link. Cross-entry
// ordering is covered by VerifyChain; this detects field tampering within
// the proposal's records.
func (l *Ledger) VerifySubChain(proposalID string) ChainReport {
	l.mu.RLock()
	defer l.mu.RUnlock()

	report := ChainReport{Valid: true}
	for _, e := range l.entries {
		if e.ProposalID != proposalID {
			continue
		}
		report.Entries++
		report.Head = e.VerificationHash
		computed, err := computeEntryHash(e)
		if err != nil {
			report.Valid = false
			report.Errors = append(report.Errors,
				fmt.Sprintf("entry %d hash recomputation failed: %v", e.Sequence, err))
			continue
		}
		if computed != e.VerificationHash {
			report.Valid = false
			report.Errors = append(report.Errors,
				fmt.Sprintf("entry %d hash mismatch (computed %s, stored %s)", e.Sequence, computed, e.VerificationHash))
		}
	}
	return report
}

// VerifyExported checks a detached sequence of entries, as produced by All
// or an evidence pack, against its own internal chain.
func VerifyExported(entries []Entry) ChainReport {
	head := genesisHash
	if n := len(entries); n > 0 {
		head = entries[n-1].VerificationHash
	}
	return verifyEntries(entries, head)
}

func verifyEntries(entries []Entry, head string) ChainReport {
	report := ChainReport{Valid: true, Head: head, Entries: len(entries)}

	expectedPrev := genesisHash
	for i, e := range entries {
		if e.PreviousHash != expectedPrev {
			report.Valid = false
			report.Errors = append(report.Errors,
				fmt.Sprintf("entry %d has previous hash %s but expected %s", i, e.PreviousHash, expectedPrev))
		}
		computed, err := computeEntryHash(e)
		if err != nil {
			report.Valid = false
			report.Errors = append(report.Errors,
				fmt.Sprintf("entry %d hash recomputation failed: %v", i, err))
			expectedPrev = e.VerificationHash
			continue
		}
		if computed != e.VerificationHash {
			report.Valid = false
			report.Errors = append(report.Errors,
				fmt.Sprintf("entry %d hash mismatch (computed %s, stored %s)", i, computed, e.VerificationHash))
		}
		expectedPrev = e.VerificationHash
	}
	return report
}
