// Package observability provides recourse-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Recourse semantic convention attributes.
var (
	// Proposal attributes
	AttrProposalID     = attribute.Key("recourse.proposal.id")
	AttrProposalStatus = attribute.Key("recourse.proposal.status")
	AttrProposalAsset  = attribute.Key("recourse.proposal.asset")
	AttrReasonCategory = attribute.Key("recourse.proposal.reason")

	// Governance attributes
	AttrActor      = attribute.Key("recourse.actor")
	AttrVoteChoice = attribute.Key("recourse.vote.choice")

	// Dispute attributes
	AttrDisputeID       = attribute.Key("recourse.dispute.id")
	AttrDisputeDecision = attribute.Key("recourse.dispute.decision")
	AttrDisputeStake    = attribute.Key("recourse.dispute.stake")

	// Ledger attributes
	AttrLedgerSequence  = attribute.Key("recourse.ledger.sequence")
	AttrLedgerEntryType = attribute.Key("recourse.ledger.entry_type")

	// Evidence pack attributes
	AttrPackID = attribute.Key("recourse.pack.id")
)

// ProposalOperation creates attributes for proposal lifecycle operations.
func ProposalOperation(proposalID, status, asset, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrProposalID.String(proposalID),
		AttrProposalStatus.String(status),
		AttrProposalAsset.String(asset),
		AttrReasonCategory.String(reason),
	}
}

// VoteOperation creates attributes for vote casting.
func VoteOperation(proposalID, voter, choice string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrProposalID.String(proposalID),
		AttrActor.String(voter),
		AttrVoteChoice.String(choice),
	}
}

// DisputeOperation creates attributes for dispute filing and resolution.
func DisputeOperation(proposalID, disputeID, decision string, stake float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrProposalID.String(proposalID),
		AttrDisputeID.String(disputeID),
		AttrDisputeDecision.String(decision),
		AttrDisputeStake.Float64(stake),
	}
}

// LedgerOperation creates attributes for transparency ledger writes.
func LedgerOperation(entryType string, sequence uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrLedgerEntryType.String(entryType),
		AttrLedgerSequence.Int64(int64(sequence)),
	}
}

// PackOperation creates attributes for evidence pack export.
func PackOperation(proposalID, packID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrProposalID.String(proposalID),
		AttrPackID.String(packID),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
