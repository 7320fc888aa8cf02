// Package comments implements the public comment register. Comments are
// advisory: they never gate vote outcomes, but every submission is part of
// the permanent public record and is mirrored to the transparency ledger.
package comments

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/castellan-labs/recourse/pkg/canonicalize"
	"github.com/castellan-labs/recourse/pkg/ledger"
	"github.com/castellan-labs/recourse/pkg/proposal"
)

// Register stores public comments per proposal in submission order.
type Register struct {
	mu       sync.RWMutex
	comments map[string][]proposal.PublicComment

	table  *proposal.Table
	ledger *ledger.Ledger
	clock  func() time.Time
	logger *slog.Logger
}

// NewRegister creates a comment register over the proposal table and ledger.
func NewRegister(table *proposal.Table, led *ledger.Ledger) *Register {
	return &Register{
		comments: make(map[string][]proposal.PublicComment),
		table:    table,
		ledger:   led,
		clock:    time.Now,
		logger:   slog.Default(),
	}
}

// WithClock overrides the clock for deterministic tests.
func (r *Register) WithClock(clock func() time.Time) *Register {
	r.clock = clock
	return r
}

// WithLogger sets the structured logger.
func (r *Register) WithLogger(logger *slog.Logger) *Register {
	r.logger = logger.With("component", "comments")
	return r
}

// Add registers a public comment on a proposal. Anyone may comment while
// the comment window is open and the proposal is not cancelled or executed;
// a COMMENT_ADDED ledger entry is always written as a side effect.
func (r *Register) Add(proposalID, commenter, text string, supportClawback bool) (proposal.PublicComment, error) {
	if commenter == "" {
		return proposal.PublicComment{}, fmt.Errorf("%w: commenter is required", proposal.ErrValidation)
	}
	text = canonicalize.NormalizeText(text)
	if text == "" {
		return proposal.PublicComment{}, fmt.Errorf("%w: comment text is required", proposal.ErrValidation)
	}

	now := r.clock().UTC()
	snap, err := r.table.Snapshot(proposalID, now)
	if err != nil {
		return proposal.PublicComment{}, err
	}

	if !now.Before(snap.CommentPeriodEndsAt) {
		return proposal.PublicComment{}, fmt.Errorf("%w: comment period ended at %s",
			proposal.ErrInvalidState, snap.CommentPeriodEndsAt.Format(time.RFC3339))
	}
	if snap.Status == proposal.StatusCancelled || snap.Status == proposal.StatusExecuted {
		return proposal.PublicComment{}, fmt.Errorf("%w: cannot comment on a %s proposal",
			proposal.ErrInvalidState, snap.Status)
	}

	comment := proposal.PublicComment{
		ID:              uuid.New().String(),
		ProposalID:      proposalID,
		Commenter:       commenter,
		Text:            text,
		SupportClawback: supportClawback,
		Timestamp:       now,
	}
	hash, err := comment.ComputeCommentHash()
	if err != nil {
		return proposal.PublicComment{}, fmt.Errorf("failed to hash comment: %w", err)
	}
	comment.VerificationHash = hash

	stance := "against clawback"
	if supportClawback {
		stance = "supporting clawback"
	}
	if _, err := r.ledger.Append(ledger.EntryCommentAdded, proposalID, commenter,
		fmt.Sprintf("Public comment registered %s", stance),
		map[string]interface{}{
			"comment_id":       comment.ID,
			"support_clawback": supportClawback,
		}); err != nil {
		return proposal.PublicComment{}, err
	}

	r.mu.Lock()
	r.comments[proposalID] = append(r.comments[proposalID], comment)
	r.mu.Unlock()

	r.logger.Debug("comment registered",
		"proposal_id", proposalID,
		"comment_id", comment.ID,
		"support", supportClawback)

	return comment, nil
}

// ListFor returns the proposal's comments in submission order. Unknown
// proposals yield an empty slice.
func (r *Register) ListFor(proposalID string) []proposal.PublicComment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.comments[proposalID]
	out := make([]proposal.PublicComment, len(stored))
	copy(out, stored)
	return out
}

// CountFor returns the number of comments on a proposal.
func (r *Register) CountFor(proposalID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.comments[proposalID])
}
