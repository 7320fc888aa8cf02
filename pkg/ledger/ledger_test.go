package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNew_SeedsGenesis(t *testing.T) {
	l := New()

	if l.Len() != 1 {
		t.Fatalf("expected 1 genesis entry, got %d", l.Len())
	}
	all := l.All()
	if all[0].Type != EntrySystemInit {
		t.Errorf("genesis type = %s", all[0].Type)
	}
	if all[0].PreviousHash != genesisHash {
		t.Errorf("genesis previous hash = %s", all[0].PreviousHash)
	}
	if all[0].Sequence != 1 {
		t.Errorf("genesis sequence = %d", all[0].Sequence)
	}
	if l.Head() != all[0].VerificationHash {
		t.Error("head must equal the genesis entry hash")
	}
}

func TestAppend_ChainsHashes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithClock(fixedClock(now)))

	e1, err := l.Append(EntryProposalCreated, "prop-1", "alice", "Clawback proposal created", map[string]interface{}{"asset": "USDC"})
	if err != nil {
		t.Fatal(err)
	}
	e2, err := l.Append(EntryVoteCast, "prop-1", "bob", "Vote cast: approve", nil)
	if err != nil {
		t.Fatal(err)
	}

	if e1.PreviousHash == "" || e1.VerificationHash == "" {
		t.Fatal("hashes must be populated")
	}
	if e2.PreviousHash != e1.VerificationHash {
		t.Error("entries must chain through previous hash")
	}
	if e2.Sequence != e1.Sequence+1 {
		t.Error("sequence must be monotonic")
	}
	if l.Head() != e2.VerificationHash {
		t.Error("head must track the last entry")
	}

	recomputed, err := computeEntryHash(e2)
	if err != nil {
		t.Fatal(err)
	}
	if recomputed != e2.VerificationHash {
		t.Error("stored hash must be reproducible from entry fields")
	}
}

func TestAppend_MalformedInput(t *testing.T) {
	l := New()

	if _, err := l.Append("NOT_A_TYPE", "", "alice", "action", nil); !errors.Is(err, ErrInvalidEntryType) {
		t.Errorf("expected ErrInvalidEntryType, got %v", err)
	}
	if _, err := l.Append(EntryVoteCast, "p", "alice", "", nil); !errors.Is(err, ErrMalformedEntry) {
		t.Errorf("expected ErrMalformedEntry for empty action, got %v", err)
	}
	if _, err := l.Append(EntryVoteCast, "p", "", "action", nil); !errors.Is(err, ErrMalformedEntry) {
		t.Errorf("expected ErrMalformedEntry for empty actor, got %v", err)
	}

	// Failed appends must not advance the chain.
	if l.Len() != 1 {
		t.Errorf("ledger grew on failed append: %d entries", l.Len())
	}
}

func TestForProposal_PreservesGlobalOrder(t *testing.T) {
	l := New()

	_, _ = l.Append(EntryProposalCreated, "prop-1", "alice", "created", nil)
	_, _ = l.Append(EntryProposalCreated, "prop-2", "bob", "created", nil)
	_, _ = l.Append(EntryVoteCast, "prop-1", "carol", "vote", nil)
	_, _ = l.Append(EntryCommentAdded, "prop-2", "dave", "comment", nil)
	_, _ = l.Append(EntryClawbackApproved, "prop-1", "system", "approved", nil)

	sub := l.ForProposal("prop-1")
	if len(sub) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(sub))
	}
	for i := 1; i < len(sub); i++ {
		if sub[i].Sequence <= sub[i-1].Sequence {
			t.Error("sub-sequence must preserve global order")
		}
	}
	if got := l.ForProposal("unknown"); len(got) != 0 {
		t.Errorf("unknown proposal should yield empty slice, got %d", len(got))
	}
}

func TestGet(t *testing.T) {
	l := New()
	e, _ := l.Append(EntryVoteCast, "prop-1", "alice", "vote", nil)

	got, err := l.Get(e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.VerificationHash != e.VerificationHash {
		t.Error("Get returned a different entry")
	}

	if _, err := l.Get("missing"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestVerifyChain_Valid(t *testing.T) {
	l := New()
	for i := 0; i < 10; i++ {
		_, _ = l.Append(EntryVoteCast, "prop-1", fmt.Sprintf("member-%d", i), "vote", nil)
	}

	report := l.VerifyChain()
	if !report.Valid {
		t.Fatalf("chain should verify: %v", report.Errors)
	}
	if report.Entries != 11 {
		t.Errorf("expected 11 entries, got %d", report.Entries)
	}
	if report.Head != l.Head() {
		t.Error("report head mismatch")
	}
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	l := New()
	_, _ = l.Append(EntryProposalCreated, "prop-1", "alice", "created", nil)
	_, _ = l.Append(EntryVoteCast, "prop-1", "bob", "vote", nil)
	_, _ = l.Append(EntryClawbackApproved, "prop-1", "system", "approved", nil)

	// Mutate a mid-chain field directly.
	l.entries[2].Actor = "mallory"

	report := l.VerifyChain()
	if report.Valid {
		t.Fatal("tampered chain must not verify")
	}
	if len(report.Errors) == 0 {
		t.Fatal("expected at least one error")
	}
}

func TestVerifySubChain(t *testing.T) {
	l := New()
	_, _ = l.Append(EntryProposalCreated, "prop-1", "alice", "created", nil)
	_, _ = l.Append(EntryVoteCast, "prop-2", "bob", "vote", nil)
	_, _ = l.Append(EntryVoteCast, "prop-1", "carol", "vote", nil)

	report := l.VerifySubChain("prop-1")
	if !report.Valid || report.Entries != 2 {
		t.Fatalf("sub-chain should verify with 2 entries, got valid=%v entries=%d", report.Valid, report.Entries)
	}

	l.entries[3].Action = "tampered"
	report = l.VerifySubChain("prop-1")
	if report.Valid {
		t.Fatal("tampered sub-chain must not verify")
	}

	// Unknown proposals verify trivially with zero entries.
	report = l.VerifySubChain("unknown")
	if !report.Valid || report.Entries != 0 {
		t.Error("unknown proposal sub-chain should be trivially valid")
	}
}

func TestVerifyExported(t *testing.T) {
	l := New()
	_, _ = l.Append(EntryProposalCreated, "prop-1", "alice", "created", nil)
	_, _ = l.Append(EntryVoteCast, "prop-1", "bob", "vote", nil)

	entries := l.All()
	if report := VerifyExported(entries); !report.Valid {
		t.Fatalf("exported chain should verify: %v", report.Errors)
	}

	entries[1].ProposalID = "prop-999"
	if report := VerifyExported(entries); report.Valid {
		t.Fatal("tampered export must not verify")
	}
}

type recordingMirror struct {
	mu      sync.Mutex
	entries []Entry
	fail    bool
}

func (m *recordingMirror) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("mirror down")
	}
	m.entries = append(m.entries, e)
	return nil
}

func TestMirror_ReceivesEntriesInOrder(t *testing.T) {
	mirror := &recordingMirror{}
	l := New(WithMirror(mirror))

	_, _ = l.Append(EntryProposalCreated, "prop-1", "alice", "created", nil)
	_, _ = l.Append(EntryVoteCast, "prop-1", "bob", "vote", nil)

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if len(mirror.entries) != 3 {
		t.Fatalf("mirror saw %d entries, want 3 including genesis", len(mirror.entries))
	}
	if mirror.entries[0].Type != EntrySystemInit {
		t.Error("mirror must receive the genesis entry first")
	}
	for i := 1; i < len(mirror.entries); i++ {
		if mirror.entries[i].Sequence != mirror.entries[i-1].Sequence+1 {
			t.Error("mirror must observe entries in append order")
		}
	}
}

func TestMirror_FailureDoesNotBlockAppend(t *testing.T) {
	mirror := &recordingMirror{fail: true}
	l := New(WithMirror(mirror))

	if _, err := l.Append(EntryVoteCast, "prop-1", "alice", "vote", nil); err != nil {
		t.Fatalf("mirror failure must not propagate: %v", err)
	}
	if l.Len() != 2 {
		t.Error("append must succeed despite mirror failure")
	}
}

func TestAppend_Concurrent(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = l.Append(EntryVoteCast, "prop-1", fmt.Sprintf("m-%d", n), "vote", nil)
		}(i)
	}
	wg.Wait()

	if l.Len() != 51 {
		t.Fatalf("expected 51 entries, got %d", l.Len())
	}
	if report := l.VerifyChain(); !report.Valid {
		t.Fatalf("concurrent appends broke the chain: %v", report.Errors)
	}

	seen := map[uint64]bool{}
	for _, e := range l.All() {
		if seen[e.Sequence] {
			t.Fatalf("duplicate sequence %d", e.Sequence)
		}
		seen[e.Sequence] = true
	}
}

func TestAll_ReturnsCopies(t *testing.T) {
	l := New()
	_, _ = l.Append(EntryVoteCast, "prop-1", "alice", "vote", map[string]interface{}{"choice": "approve"})

	out := l.All()
	out[1].Details["choice"] = "reject"
	out[1].Actor = "mallory"

	again := l.All()
	if again[1].Actor != "alice" || again[1].Details["choice"] != "approve" {
		t.Error("All must return copies, not aliases")
	}
	if report := l.VerifyChain(); !report.Valid {
		t.Error("external mutation of returned entries must not affect the chain")
	}
}
