// Package lifecycle orchestrates clawback proposal state transitions and
// talks to the external clawback executor at the creation and execution
// boundaries.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/castellan-labs/recourse/pkg/canonicalize"
	"github.com/castellan-labs/recourse/pkg/committee"
	"github.com/castellan-labs/recourse/pkg/executor"
	"github.com/castellan-labs/recourse/pkg/ledger"
	"github.com/castellan-labs/recourse/pkg/proposal"
)

// Controller creates, cancels, and executes clawback proposals. Votes and
// disputes are handled by their own engines; the controller owns the
// remaining lifecycle edges.
type Controller struct {
	table         *proposal.Table
	ledger        *ledger.Ledger
	committee     *committee.Committee
	exec          executor.Client
	commentPeriod time.Duration
	clock         func() time.Time
	logger        *slog.Logger
}

// NewController creates a lifecycle controller. A nil executor client is
// replaced with the no-op implementation.
func NewController(table *proposal.Table, led *ledger.Ledger, com *committee.Committee, commentPeriod time.Duration, exec executor.Client) *Controller {
	if exec == nil {
		exec = executor.Nop{}
	}
	return &Controller{
		table:         table,
		ledger:        led,
		committee:     com,
		exec:          exec,
		commentPeriod: commentPeriod,
		clock:         time.Now,
		logger:        slog.Default(),
	}
}

// WithClock overrides the clock for deterministic tests.
func (c *Controller) WithClock(clock func() time.Time) *Controller {
	c.clock = clock
	return c
}

// WithLogger sets the structured logger.
func (c *Controller) WithLogger(logger *slog.Logger) *Controller {
	c.logger = logger.With("component", "lifecycle")
	return c
}

// CreateClawbackProposal opens a new proposal in comment_period, registers
// the pending clawback with the executor, and writes PROPOSAL_CREATED.
// Only committee members may initiate.
func (c *Controller) CreateClawbackProposal(ctx context.Context, initiator, asset, targetWallet, amount string, reasonCategory proposal.ReasonCategory, justification string) (*proposal.ClawbackProposal, error) {
	if !c.committee.IsMember(initiator) {
		return nil, fmt.Errorf("%w: %s is not a governance committee member", proposal.ErrUnauthorized, initiator)
	}
	justification = canonicalize.NormalizeText(justification)
	if justification == "" {
		return nil, fmt.Errorf("%w: justification is required", proposal.ErrValidation)
	}
	if err := proposal.ParseAmount(amount); err != nil {
		return nil, fmt.Errorf("%w: %v", proposal.ErrValidation, err)
	}
	if asset == "" {
		return nil, fmt.Errorf("%w: asset is required", proposal.ErrValidation)
	}
	if targetWallet == "" {
		return nil, fmt.Errorf("%w: target wallet is required", proposal.ErrValidation)
	}
	if !reasonCategory.Valid() {
		return nil, fmt.Errorf("%w: unknown reason category %q", proposal.ErrValidation, reasonCategory)
	}

	now := c.clock().UTC()
	p := &proposal.ClawbackProposal{
		ID:                  uuid.New().String(),
		Asset:               asset,
		TargetWallet:        targetWallet,
		Amount:              amount,
		ReasonCategory:      reasonCategory,
		Justification:       justification,
		ProposedBy:          initiator,
		Status:              proposal.StatusCommentPeriod,
		CreatedAt:           now,
		CommentPeriodEndsAt: now.Add(c.commentPeriod),
	}

	hash, err := p.ComputeCreationHash()
	if err != nil {
		return nil, fmt.Errorf("failed to hash proposal: %w", err)
	}
	p.VerificationHash = hash

	init, err := c.exec.InitiateClawback(ctx, asset, targetWallet, amount, string(reasonCategory))
	if err != nil {
		return nil, fmt.Errorf("failed to initiate clawback with executor: %w", err)
	}
	p.ExecutorRef = init.ID

	if err := c.table.Insert(p); err != nil {
		return nil, err
	}

	if _, err := c.ledger.Append(ledger.EntryProposalCreated, p.ID, initiator,
		fmt.Sprintf("Clawback proposal created for %s from %s", asset, targetWallet),
		map[string]interface{}{
			"asset":                  asset,
			"target_wallet":          targetWallet,
			"amount":                 amount,
			"reason_category":        string(reasonCategory),
			"comment_period_ends_at": p.CommentPeriodEndsAt.Format(time.RFC3339Nano),
			"verification_hash":      p.VerificationHash,
		}); err != nil {
		return nil, err
	}

	c.logger.Info("proposal created",
		"proposal_id", p.ID,
		"asset", asset,
		"initiator", initiator)

	return p.Clone(), nil
}

// CancelProposal explicitly cancels a non-terminal proposal. The original
// initiator or any committee member may cancel.
func (c *Controller) CancelProposal(proposalID, actor, reason string) (*proposal.ClawbackProposal, error) {
	out, err := c.table.Update(proposalID, func(p *proposal.ClawbackProposal) error {
		if actor != p.ProposedBy && !c.committee.IsMember(actor) {
			return fmt.Errorf("%w: %s may not cancel this proposal", proposal.ErrUnauthorized, actor)
		}
		if p.Status.Terminal() {
			return fmt.Errorf("%w: proposal is already %s", proposal.ErrInvalidState, p.Status)
		}

		if _, err := c.ledger.Append(ledger.EntryClawbackCancelled, proposalID, actor,
			"Clawback proposal cancelled",
			map[string]interface{}{"reason": reason}); err != nil {
			return err
		}

		p.Status = proposal.StatusCancelled
		p.CancellationReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("proposal cancelled", "proposal_id", proposalID, "actor", actor)
	return out, nil
}

// ExecuteApproved is the hook the approved path exposes to operators: it
// hands the governance approval to the executor, drives the clawback, and
// marks the proposal executed. Only committee members may trigger it.
func (c *Controller) ExecuteApproved(ctx context.Context, proposalID, actor string) (*proposal.ClawbackProposal, error) {
	if !c.committee.IsMember(actor) {
		return nil, fmt.Errorf("%w: %s is not a governance committee member", proposal.ErrUnauthorized, actor)
	}

	out, err := c.table.Update(proposalID, func(p *proposal.ClawbackProposal) error {
		if p.Status != proposal.StatusApproved {
			return fmt.Errorf("%w: proposal is %s, execution requires approved", proposal.ErrInvalidState, p.Status)
		}

		if _, err := c.exec.AddGovernanceApproval(ctx, p.ExecutorRef); err != nil {
			return fmt.Errorf("failed to register governance approval: %w", err)
		}
		res, err := c.exec.ExecuteClawback(ctx, p.ExecutorRef)
		if err != nil {
			return fmt.Errorf("failed to execute clawback: %w", err)
		}
		if !res.Success {
			return fmt.Errorf("clawback execution reported failure for %s", p.ExecutorRef)
		}

		return c.recordExecution(p, actor, res.Hash)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("clawback executed", "proposal_id", proposalID, "actor", actor)
	return out, nil
}

// MarkExecuted records a settlement that happened outside ExecuteApproved,
// for deployments where the executor settles asynchronously and reports the
// transaction hash back. Only committee members may report.
func (c *Controller) MarkExecuted(proposalID, actor, executionHash string) (*proposal.ClawbackProposal, error) {
	if !c.committee.IsMember(actor) {
		return nil, fmt.Errorf("%w: %s is not a governance committee member", proposal.ErrUnauthorized, actor)
	}
	if executionHash == "" {
		return nil, fmt.Errorf("%w: execution hash is required", proposal.ErrValidation)
	}

	out, err := c.table.Update(proposalID, func(p *proposal.ClawbackProposal) error {
		if p.Status != proposal.StatusApproved {
			return fmt.Errorf("%w: proposal is %s, execution requires approved", proposal.ErrInvalidState, p.Status)
		}
		return c.recordExecution(p, actor, executionHash)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("clawback marked executed", "proposal_id", proposalID, "actor", actor)
	return out, nil
}

func (c *Controller) recordExecution(p *proposal.ClawbackProposal, actor, hash string) error {
	if _, err := c.ledger.Append(ledger.EntryClawbackExecuted, p.ID, actor,
		"Clawback executed",
		map[string]interface{}{
			"executor_ref":     p.ExecutorRef,
			"transaction_hash": hash,
		}); err != nil {
		return err
	}

	p.Status = proposal.StatusExecuted
	p.ExecutionHash = hash
	return nil
}
