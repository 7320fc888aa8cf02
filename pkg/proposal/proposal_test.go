package proposal

import (
	"errors"
	"testing"
	"time"
)

func sampleProposal(created time.Time) *ClawbackProposal {
	return &ClawbackProposal{
		ID:                  "prop-1",
		Asset:               "USDC",
		TargetWallet:        "0xabc",
		Amount:              "2500.00",
		ReasonCategory:      ReasonFraudDetection,
		Justification:       "stolen funds traced to this wallet",
		ProposedBy:          "alice",
		Status:              StatusCommentPeriod,
		CreatedAt:           created,
		CommentPeriodEndsAt: created.Add(24 * time.Hour),
	}
}

func TestStatusTerminal(t *testing.T) {
	cases := map[Status]bool{
		StatusCommentPeriod: false,
		StatusVoting:        false,
		StatusDisputed:      false,
		StatusApproved:      true,
		StatusCancelled:     true,
		StatusExecuted:      true,
	}
	for s, want := range cases {
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, s.Terminal(), want)
		}
	}
}

func TestStatusCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusCommentPeriod, StatusVoting},
		{StatusCommentPeriod, StatusDisputed},
		{StatusCommentPeriod, StatusCancelled},
		{StatusVoting, StatusApproved},
		{StatusVoting, StatusCancelled},
		{StatusVoting, StatusDisputed},
		{StatusDisputed, StatusVoting},
		{StatusDisputed, StatusCancelled},
		{StatusApproved, StatusExecuted},
	}
	for _, e := range allowed {
		if !e.from.CanTransition(e.to) {
			t.Errorf("edge %s -> %s should be allowed", e.from, e.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusCancelled, StatusVoting},
		{StatusExecuted, StatusVoting},
		{StatusApproved, StatusVoting},
		{StatusApproved, StatusCancelled},
		{StatusDisputed, StatusApproved},
		{StatusVoting, StatusCommentPeriod},
	}
	for _, e := range denied {
		if e.from.CanTransition(e.to) {
			t.Errorf("edge %s -> %s should be denied", e.from, e.to)
		}
	}
}

func TestEffectiveStatus_LazyDeadline(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := sampleProposal(created)

	if got := EffectiveStatus(p, created.Add(time.Hour)); got != StatusCommentPeriod {
		t.Errorf("inside window: got %s", got)
	}
	if got := EffectiveStatus(p, created.Add(24*time.Hour)); got != StatusVoting {
		t.Errorf("at deadline: got %s, want voting", got)
	}
	if got := EffectiveStatus(p, created.Add(48*time.Hour)); got != StatusVoting {
		t.Errorf("after deadline: got %s, want voting", got)
	}

	// Lazy evaluation never rewrites other states.
	p.Status = StatusDisputed
	if got := EffectiveStatus(p, created.Add(48*time.Hour)); got != StatusDisputed {
		t.Errorf("disputed must stay disputed, got %s", got)
	}
}

func TestComputeCreationHash_Reproducible(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := sampleProposal(created)

	h1, err := p.ComputeCreationHash()
	if err != nil {
		t.Fatal(err)
	}

	// Mutable fields must not influence the creation hash.
	p.Status = StatusApproved
	p.Votes = append(p.Votes, GovernanceVote{Voter: "bob", Choice: VoteApprove})

	h2, err := p.ComputeCreationHash()
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("creation hash must depend only on immutable creation fields")
	}

	// Any immutable field change must change the hash.
	p.Amount = "2500.01"
	h3, err := p.ComputeCreationHash()
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Error("amount change must change the creation hash")
	}
}

func TestParseAmount(t *testing.T) {
	for _, ok := range []string{"1", "0.01", "2500.00", "1e3"} {
		if err := ParseAmount(ok); err != nil {
			t.Errorf("ParseAmount(%q) unexpected error: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "zero", "0", "-5", "0.0"} {
		if err := ParseAmount(bad); err == nil {
			t.Errorf("ParseAmount(%q) expected error", bad)
		}
	}
}

func TestVoteHelpers(t *testing.T) {
	p := sampleProposal(time.Now().UTC())
	p.Votes = []GovernanceVote{
		{Voter: "alice", Choice: VoteApprove},
		{Voter: "bob", Choice: VoteReject},
		{Voter: "carol", Choice: VoteApprove},
	}

	if !p.HasVoted("bob") || p.HasVoted("dave") {
		t.Error("HasVoted mismatch")
	}
	approve, reject := p.VoteCounts()
	if approve != 2 || reject != 1 {
		t.Errorf("VoteCounts = (%d, %d), want (2, 1)", approve, reject)
	}
}

func TestClone_Isolation(t *testing.T) {
	p := sampleProposal(time.Now().UTC())
	p.Votes = []GovernanceVote{{Voter: "alice", Choice: VoteApprove}}

	c := p.Clone()
	c.Votes[0].Voter = "tampered"
	c.Status = StatusCancelled

	if p.Votes[0].Voter != "alice" || p.Status != StatusCommentPeriod {
		t.Error("clone must not alias the original")
	}
}

func TestDisputeClone_Isolation(t *testing.T) {
	d := &Dispute{
		ID:          "disp-1",
		ProposalID:  "prop-1",
		Filer:       "holder",
		Evidence:    []string{"ipfs://evidence"},
		StakeAmount: 100,
		Status:      DisputeActive,
		Resolution: &DisputeResolution{
			Decision:  DecisionClawbackProceeds,
			Resolvers: []string{"alice"},
		},
	}

	c := d.Clone()
	c.Evidence[0] = "tampered"
	c.Resolution.Resolvers[0] = "tampered"

	if d.Evidence[0] != "ipfs://evidence" || d.Resolution.Resolvers[0] != "alice" {
		t.Error("dispute clone must not alias the original")
	}
}

func TestErrDisputeBlocked_MatchesInvalidState(t *testing.T) {
	if !errors.Is(ErrDisputeBlocked, ErrInvalidState) {
		t.Error("ErrDisputeBlocked must classify as ErrInvalidState")
	}
}

func TestReasonCategoryValid(t *testing.T) {
	for _, r := range []ReasonCategory{
		ReasonFraudDetection, ReasonCourtOrder, ReasonRegulatoryRequirement,
		ReasonSanctionsCompliance, ReasonInvestorProtection, ReasonErrorCorrection,
	} {
		if !r.Valid() {
			t.Errorf("%s should be valid", r)
		}
	}
	if ReasonCategory("PERSONAL_GRUDGE").Valid() {
		t.Error("unknown category should be invalid")
	}
}
