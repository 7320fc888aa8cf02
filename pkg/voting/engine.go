// Package voting tallies governance votes and decides proposal outcomes
// against the committee's quorum and required-majority policy.
package voting

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/castellan-labs/recourse/pkg/committee"
	"github.com/castellan-labs/recourse/pkg/ledger"
	"github.com/castellan-labs/recourse/pkg/proposal"
)

// Engine records votes on proposals and finalizes outcomes. All mutation
// happens through the table's exclusive update path, so vote recording and
// outcome evaluation are atomic with respect to concurrent callers.
type Engine struct {
	table     *proposal.Table
	ledger    *ledger.Ledger
	committee *committee.Committee
	clock     func() time.Time
	logger    *slog.Logger
}

// NewEngine creates a voting engine bound to the table, ledger, and roster.
func NewEngine(table *proposal.Table, led *ledger.Ledger, com *committee.Committee) *Engine {
	return &Engine{
		table:     table,
		ledger:    led,
		committee: com,
		clock:     time.Now,
		logger:    slog.Default(),
	}
}

// WithClock overrides the clock for deterministic tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithLogger sets the structured logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger.With("component", "voting")
	return e
}

// CastVote records one committee member's vote and evaluates the outcome.
//
// Preconditions, in order: the proposal exists; the voter sits on the
// committee; the proposal is open for voting, where an elapsed comment
// window transitions comment_period to voting implicitly; the voter has
// not voted before; no active dispute is pausing the proposal.
func (e *Engine) CastVote(proposalID, voter string, choice proposal.VoteChoice, reason string) (proposal.GovernanceVote, error) {
	if !choice.Valid() {
		return proposal.GovernanceVote{}, fmt.Errorf("%w: unknown vote choice %q", proposal.ErrValidation, choice)
	}

	now := e.clock().UTC()
	var vote proposal.GovernanceVote

	_, err := e.table.Update(proposalID, func(p *proposal.ClawbackProposal) error {
		if !e.committee.IsMember(voter) {
			return fmt.Errorf("%w: %s is not a governance committee member", proposal.ErrUnauthorized, voter)
		}

		switch p.Status {
		case proposal.StatusCommentPeriod:
			if now.Before(p.CommentPeriodEndsAt) {
				return fmt.Errorf("%w: comment period is open until %s",
					proposal.ErrInvalidState, p.CommentPeriodEndsAt.Format(time.RFC3339))
			}
			// Lazy deadline: the window elapsed, so voting opens now.
			p.Status = proposal.StatusVoting
		case proposal.StatusVoting, proposal.StatusDisputed:
			// The disputed gate is applied after the duplicate check.
		default:
			return fmt.Errorf("%w: cannot vote on a %s proposal", proposal.ErrInvalidState, p.Status)
		}

		if p.HasVoted(voter) {
			return fmt.Errorf("%w: %s already voted on this proposal", proposal.ErrDuplicateVote, voter)
		}
		if p.Status == proposal.StatusDisputed {
			return proposal.ErrDisputeBlocked
		}

		vote = proposal.GovernanceVote{
			Voter:  voter,
			Choice: choice,
			Reason: reason,
			CastAt: now,
		}
		p.Votes = append(p.Votes, vote)

		if _, err := e.ledger.Append(ledger.EntryVoteCast, p.ID, voter,
			fmt.Sprintf("Vote cast: %s", choice),
			map[string]interface{}{
				"choice": string(choice),
				"reason": reason,
			}); err != nil {
			return err
		}

		e.Reevaluate(p)
		return nil
	})
	if err != nil {
		return proposal.GovernanceVote{}, err
	}

	e.logger.Info("vote recorded",
		"proposal_id", proposalID,
		"voter", voter,
		"choice", string(choice))

	return vote, nil
}

// Reevaluate applies the outcome rules to the recorded votes and finalizes
// the proposal when a side has won. It must run inside the table's
// exclusive update path.
//
// With n votes cast and quorum met: a side reaching the required majority
// of n wins immediately. If neither side reaches it and the whole
// committee has voted, simple plurality decides, so every proposal
// terminates once all members have spoken.
func (e *Engine) Reevaluate(p *proposal.ClawbackProposal) {
	n := len(p.Votes)
	if n < e.committee.Quorum() {
		return
	}

	approve, reject := p.VoteCounts()
	approvePct := float64(approve) / float64(n) * 100
	rejectPct := float64(reject) / float64(n) * 100
	majority := e.committee.RequiredMajority()

	switch {
	case approvePct >= majority:
		e.finalize(p, proposal.StatusApproved, approve, reject)
	case rejectPct >= majority:
		e.finalize(p, proposal.StatusCancelled, approve, reject)
	case n == e.committee.Size():
		if approve > reject {
			e.finalize(p, proposal.StatusApproved, approve, reject)
		} else {
			e.finalize(p, proposal.StatusCancelled, approve, reject)
		}
	}
}

func (e *Engine) finalize(p *proposal.ClawbackProposal, outcome proposal.Status, approve, reject int) {
	if !p.Status.CanTransition(outcome) {
		e.logger.Error("illegal outcome transition",
			"proposal_id", p.ID,
			"from", string(p.Status),
			"to", string(outcome))
		return
	}
	p.Status = outcome

	details := map[string]interface{}{
		"approve_votes": approve,
		"reject_votes":  reject,
		"votes_cast":    approve + reject,
	}

	if outcome == proposal.StatusApproved {
		_, err := e.ledger.Append(ledger.EntryClawbackApproved, p.ID, "system",
			"Clawback approved by governance vote", details)
		if err != nil {
			e.logger.Error("failed to record approval", "proposal_id", p.ID, "error", err)
		}
		return
	}

	p.CancellationReason = "rejected by governance vote"
	_, err := e.ledger.Append(ledger.EntryClawbackCancelled, p.ID, "system",
		"Clawback rejected by governance vote", details)
	if err != nil {
		e.logger.Error("failed to record rejection", "proposal_id", p.ID, "error", err)
	}
}
