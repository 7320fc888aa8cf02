// Package proposal defines the clawback governance data model: proposals,
// votes, public comments, disputes, the lifecycle state machine, and the
// guarded table that owns all proposal records in a running instance.
package proposal

import (
	"fmt"
	"strconv"
	"time"

	"github.com/castellan-labs/recourse/pkg/canonicalize"
)

// Status defines the lifecycle of a clawback proposal.
type Status string

// Status constants.
const (
	StatusCommentPeriod Status = "comment_period"
	StatusVoting        Status = "voting"
	StatusDisputed      Status = "disputed"
	StatusApproved      Status = "approved"
	StatusCancelled     Status = "cancelled"
	StatusExecuted      Status = "executed"
)

// Terminal reports whether s is a final state. Approved proposals await
// external execution but accept no further governance actions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusCancelled || s == StatusExecuted
}

// CanTransition reports whether moving to next follows a lifecycle edge.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusCommentPeriod:
		return next == StatusVoting || next == StatusDisputed || next == StatusCancelled
	case StatusVoting:
		return next == StatusApproved || next == StatusCancelled || next == StatusDisputed
	case StatusDisputed:
		return next == StatusVoting || next == StatusCancelled
	case StatusApproved:
		return next == StatusExecuted
	default:
		return false
	}
}

// ReasonCategory is the closed set of grounds for a clawback.
type ReasonCategory string

// ReasonCategory constants.
const (
	ReasonFraudDetection        ReasonCategory = "FRAUD_DETECTION"
	ReasonCourtOrder            ReasonCategory = "COURT_ORDER"
	ReasonRegulatoryRequirement ReasonCategory = "REGULATORY_REQUIREMENT"
	ReasonSanctionsCompliance   ReasonCategory = "SANCTIONS_COMPLIANCE"
	ReasonInvestorProtection    ReasonCategory = "INVESTOR_PROTECTION"
	ReasonErrorCorrection       ReasonCategory = "ERROR_CORRECTION"
)

// Valid reports whether r belongs to the closed category set.
func (r ReasonCategory) Valid() bool {
	switch r {
	case ReasonFraudDetection, ReasonCourtOrder, ReasonRegulatoryRequirement,
		ReasonSanctionsCompliance, ReasonInvestorProtection, ReasonErrorCorrection:
		return true
	}
	return false
}

// VoteChoice is a governance member's position on a proposal.
type VoteChoice string

// VoteChoice constants.
const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
)

// Valid reports whether c is a recognized choice.
func (c VoteChoice) Valid() bool {
	return c == VoteApprove || c == VoteReject
}

// GovernanceVote is one member's recorded position. Votes are stored on the
// proposal in cast order, one per voter.
type GovernanceVote struct {
	Voter  string     `json:"voter"`
	Choice VoteChoice `json:"choice"`
	Reason string     `json:"reason,omitempty"`
	CastAt time.Time  `json:"cast_at"`
}

// ClawbackProposal is a committee-initiated forced recovery of an asset.
// It is created by the lifecycle controller and mutated only through the
// table's exclusive update path.
type ClawbackProposal struct {
	ID                  string           `json:"id"`
	Asset               string           `json:"asset"`
	TargetWallet        string           `json:"target_wallet"`
	Amount              string           `json:"amount"`
	ReasonCategory      ReasonCategory   `json:"reason_category"`
	Justification       string           `json:"justification"`
	ProposedBy          string           `json:"proposed_by"`
	Status              Status           `json:"status"`
	CreatedAt           time.Time        `json:"created_at"`
	CommentPeriodEndsAt time.Time        `json:"comment_period_ends_at"`
	Votes               []GovernanceVote `json:"votes"`
	VerificationHash    string           `json:"verification_hash"`
	ExecutorRef         string           `json:"executor_ref,omitempty"`
	ExecutionHash       string           `json:"execution_hash,omitempty"`
	CancellationReason  string           `json:"cancellation_reason,omitempty"`
}

// EffectiveStatus evaluates the comment-period deadline lazily: a proposal
// still in comment_period whose window has elapsed reads as voting. Pure
// function of the record and clock; the stored record is not touched.
func EffectiveStatus(p *ClawbackProposal, now time.Time) Status {
	if p.Status == StatusCommentPeriod && !now.Before(p.CommentPeriodEndsAt) {
		return StatusVoting
	}
	return p.Status
}

// ComputeCreationHash returns the SHA-256 digest over the canonical form of
// the proposal's immutable creation fields. The stored VerificationHash must
// always be reproducible by this function.
func (p *ClawbackProposal) ComputeCreationHash() (string, error) {
	return canonicalize.CanonicalHash(map[string]interface{}{
		"id":                     p.ID,
		"asset":                  p.Asset,
		"target_wallet":          p.TargetWallet,
		"amount":                 p.Amount,
		"reason_category":        string(p.ReasonCategory),
		"justification":          p.Justification,
		"proposed_by":            p.ProposedBy,
		"created_at":             p.CreatedAt.UTC().Format(time.RFC3339Nano),
		"comment_period_ends_at": p.CommentPeriodEndsAt.UTC().Format(time.RFC3339Nano),
	})
}

// HasVoted reports whether voter already appears in the vote record.
func (p *ClawbackProposal) HasVoted(voter string) bool {
	for _, v := range p.Votes {
		if v.Voter == voter {
			return true
		}
	}
	return false
}

// VoteCounts tallies the recorded votes.
func (p *ClawbackProposal) VoteCounts() (approve, reject int) {
	for _, v := range p.Votes {
		if v.Choice == VoteApprove {
			approve++
		} else {
			reject++
		}
	}
	return approve, reject
}

// Clone returns a deep copy safe to hand outside the table lock.
func (p *ClawbackProposal) Clone() *ClawbackProposal {
	out := *p
	if p.Votes != nil {
		out.Votes = make([]GovernanceVote, len(p.Votes))
		copy(out.Votes, p.Votes)
	}
	return &out
}

// ParseAmount validates the decimal amount string. Amounts must parse and
// be strictly positive.
func ParseAmount(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("amount %q is not a decimal number", s)
	}
	if v <= 0 {
		return fmt.Errorf("amount must be greater than zero, got %q", s)
	}
	return nil
}

// PublicComment is a non-binding public opinion registered during the
// comment window. Immutable once created.
type PublicComment struct {
	ID               string    `json:"id"`
	ProposalID       string    `json:"proposal_id"`
	Commenter        string    `json:"commenter"`
	Text             string    `json:"text"`
	SupportClawback  bool      `json:"support_clawback"`
	Timestamp        time.Time `json:"timestamp"`
	VerificationHash string    `json:"verification_hash"`
}

// ComputeCommentHash returns the digest over the comment's canonical form.
func (c *PublicComment) ComputeCommentHash() (string, error) {
	return canonicalize.CanonicalHash(map[string]interface{}{
		"id":               c.ID,
		"proposal_id":      c.ProposalID,
		"commenter":        c.Commenter,
		"text":             c.Text,
		"support_clawback": c.SupportClawback,
		"timestamp":        c.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// DisputeStatus tracks a staked challenge from filing to resolution.
type DisputeStatus string

// DisputeStatus constants.
const (
	DisputeActive               DisputeStatus = "active"
	DisputeResolvedAgainstFiler DisputeStatus = "resolved_against_filer"
	DisputeResolvedForFiler     DisputeStatus = "resolved_for_filer"
)

// DisputeDecision is the committee's verdict on a dispute.
type DisputeDecision string

// DisputeDecision constants.
const (
	DecisionClawbackProceeds  DisputeDecision = "clawback_proceeds"
	DecisionClawbackCancelled DisputeDecision = "clawback_cancelled"
)

// Valid reports whether d is a recognized verdict.
func (d DisputeDecision) Valid() bool {
	return d == DecisionClawbackProceeds || d == DecisionClawbackCancelled
}

// Dispute is a staked challenge that pauses its parent proposal until the
// committee resolves it. At most one active dispute exists per proposal.
type Dispute struct {
	ID          string             `json:"id"`
	ProposalID  string             `json:"proposal_id"`
	Filer       string             `json:"filer"`
	Reason      string             `json:"reason"`
	Evidence    []string           `json:"evidence,omitempty"`
	StakeAmount float64            `json:"stake_amount"`
	Status      DisputeStatus      `json:"status"`
	FiledAt     time.Time          `json:"filed_at"`
	Resolution  *DisputeResolution `json:"resolution,omitempty"`
}

// DisputeResolution records the committee verdict on a dispute.
type DisputeResolution struct {
	Decision      DisputeDecision `json:"decision"`
	Justification string          `json:"justification"`
	Resolvers     []string        `json:"resolvers"`
	ResolvedAt    time.Time       `json:"resolved_at"`
}

// Clone returns a deep copy of the dispute.
func (d *Dispute) Clone() *Dispute {
	out := *d
	if d.Evidence != nil {
		out.Evidence = make([]string, len(d.Evidence))
		copy(out.Evidence, d.Evidence)
	}
	if d.Resolution != nil {
		res := *d.Resolution
		if d.Resolution.Resolvers != nil {
			res.Resolvers = make([]string, len(d.Resolution.Resolvers))
			copy(res.Resolvers, d.Resolution.Resolvers)
		}
		out.Resolution = &res
	}
	return &out
}
