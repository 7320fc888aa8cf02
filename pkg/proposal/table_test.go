package proposal

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestTable_InsertAndSnapshot(t *testing.T) {
	tbl := NewTable()
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := sampleProposal(created)

	if err := tbl.Insert(p); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Insert(p); err == nil {
		t.Fatal("duplicate insert should fail")
	}

	snap, err := tbl.Snapshot("prop-1", created.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != StatusCommentPeriod {
		t.Errorf("got %s", snap.Status)
	}

	// After the window the snapshot reads voting without rewriting the record.
	snap, err = tbl.Snapshot("prop-1", created.Add(48*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != StatusVoting {
		t.Errorf("got %s, want voting", snap.Status)
	}

	// Snapshots do not alias stored state.
	snap.Votes = append(snap.Votes, GovernanceVote{Voter: "alice", Choice: VoteApprove})
	again, _ := tbl.Snapshot("prop-1", created)
	if len(again.Votes) != 0 {
		t.Error("snapshot mutation leaked into the table")
	}
}

func TestTable_SnapshotNotFound(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Snapshot("missing", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTable_Update(t *testing.T) {
	tbl := NewTable()
	created := time.Now().UTC()
	if err := tbl.Insert(sampleProposal(created)); err != nil {
		t.Fatal(err)
	}

	out, err := tbl.Update("prop-1", func(p *ClawbackProposal) error {
		p.Status = StatusCancelled
		p.CancellationReason = "withdrawn"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusCancelled {
		t.Errorf("got %s", out.Status)
	}

	// A failing fn leaves the record unchanged.
	_, err = tbl.Update("prop-1", func(p *ClawbackProposal) error {
		p.Status = StatusVoting
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected error")
	}

	_, err = tbl.Update("missing", func(p *ClawbackProposal) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTable_AllAndCounts(t *testing.T) {
	tbl := NewTable()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		p := sampleProposal(now)
		p.ID = fmt.Sprintf("prop-%d", i)
		if i == 2 {
			p.Status = StatusCancelled
		}
		if err := tbl.Insert(p); err != nil {
			t.Fatal(err)
		}
	}

	all := tbl.All(now)
	if len(all) != 3 {
		t.Fatalf("expected 3 proposals, got %d", len(all))
	}
	if all[0].ID != "prop-0" || all[2].ID != "prop-2" {
		t.Error("All must preserve creation order")
	}

	counts := tbl.StatusCounts(now)
	if counts[StatusCommentPeriod] != 2 || counts[StatusCancelled] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}

	counts = tbl.StatusCounts(now.Add(48 * time.Hour))
	if counts[StatusVoting] != 2 {
		t.Errorf("elapsed windows should count as voting: %v", counts)
	}
}

func TestTable_ConcurrentUpdates(t *testing.T) {
	tbl := NewTable()
	created := time.Now().UTC()
	if err := tbl.Insert(sampleProposal(created)); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			voter := fmt.Sprintf("member-%d", n)
			_, _ = tbl.Update("prop-1", func(p *ClawbackProposal) error {
				if p.HasVoted(voter) {
					return ErrDuplicateVote
				}
				p.Votes = append(p.Votes, GovernanceVote{Voter: voter, Choice: VoteApprove})
				return nil
			})
		}(i % 8)
	}
	wg.Wait()

	snap, err := tbl.Snapshot("prop-1", created)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Votes) != 8 {
		t.Errorf("expected 8 distinct voters, got %d", len(snap.Votes))
	}
	seen := map[string]bool{}
	for _, v := range snap.Votes {
		if seen[v.Voter] {
			t.Errorf("voter %s recorded twice", v.Voter)
		}
		seen[v.Voter] = true
	}
}
