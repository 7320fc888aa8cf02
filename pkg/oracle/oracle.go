// Package oracle is the composition root of the governance clawback oracle.
// It owns the proposal table, the committee, the transparency ledger, and
// the engines, and exposes every governance operation as a method.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/castellan-labs/recourse/pkg/comments"
	"github.com/castellan-labs/recourse/pkg/committee"
	"github.com/castellan-labs/recourse/pkg/config"
	"github.com/castellan-labs/recourse/pkg/disputes"
	"github.com/castellan-labs/recourse/pkg/executor"
	"github.com/castellan-labs/recourse/pkg/ledger"
	"github.com/castellan-labs/recourse/pkg/lifecycle"
	"github.com/castellan-labs/recourse/pkg/proposal"
	"github.com/castellan-labs/recourse/pkg/voting"
)

// Oracle wires the governance components behind a single facade.
type Oracle struct {
	cfg       *config.Config
	committee *committee.Committee
	table     *proposal.Table
	ledger    *ledger.Ledger

	comments  *comments.Register
	voting    *voting.Engine
	disputes  *disputes.Manager
	lifecycle *lifecycle.Controller

	clock  func() time.Time
	logger *slog.Logger
}

type options struct {
	clock  func() time.Time
	logger *slog.Logger
	exec   executor.Client
	mirror ledger.Mirror
}

// Option configures optional collaborators at construction.
type Option func(*options)

// WithClock overrides the clock for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger sets the structured logger shared by all components.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithExecutor attaches a clawback executor client.
func WithExecutor(exec executor.Client) Option {
	return func(o *options) { o.exec = exec }
}

// WithMirror attaches a write-behind ledger mirror.
func WithMirror(m ledger.Mirror) Option {
	return func(o *options) { o.mirror = m }
}

// New builds an oracle from the configuration. The transparency ledger is
// seeded with its genesis entry here, so construction is already an
// auditable event.
func New(cfg *config.Config, opts ...Option) (*Oracle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options{
		clock:  time.Now,
		logger: slog.Default(),
		exec:   executor.Nop{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	com, err := committee.New(cfg.CommitteeMembers, cfg.Quorum, cfg.RequiredMajority)
	if err != nil {
		return nil, err
	}

	ledgerOpts := []ledger.Option{
		ledger.WithClock(o.clock),
		ledger.WithLogger(o.logger),
	}
	if o.mirror != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithMirror(o.mirror))
	}
	led := ledger.New(ledgerOpts...)

	table := proposal.NewTable()
	votingEngine := voting.NewEngine(table, led, com).
		WithClock(o.clock).
		WithLogger(o.logger)

	orc := &Oracle{
		cfg:       cfg,
		committee: com,
		table:     table,
		ledger:    led,
		comments: comments.NewRegister(table, led).
			WithClock(o.clock).
			WithLogger(o.logger),
		voting: votingEngine,
		disputes: disputes.NewManager(table, led, com, cfg.MinDisputeStake).
			WithClock(o.clock).
			WithLogger(o.logger).
			WithReevaluator(votingEngine),
		lifecycle: lifecycle.NewController(table, led, com, cfg.CommentPeriod, o.exec).
			WithClock(o.clock).
			WithLogger(o.logger),
		clock:  o.clock,
		logger: o.logger.With("component", "oracle"),
	}

	orc.logger.Info("oracle initialized",
		"committee_size", com.Size(),
		"quorum", com.Quorum(),
		"required_majority", com.RequiredMajority(),
		"comment_period", cfg.CommentPeriod.String())

	return orc, nil
}

// CreateClawbackProposal opens a new clawback proposal.
func (o *Oracle) CreateClawbackProposal(ctx context.Context, initiator, asset, targetWallet, amount string, reasonCategory proposal.ReasonCategory, justification string) (*proposal.ClawbackProposal, error) {
	return o.lifecycle.CreateClawbackProposal(ctx, initiator, asset, targetWallet, amount, reasonCategory, justification)
}

// CancelProposal cancels a non-terminal proposal.
func (o *Oracle) CancelProposal(proposalID, actor, reason string) (*proposal.ClawbackProposal, error) {
	return o.lifecycle.CancelProposal(proposalID, actor, reason)
}

// ExecuteApproved drives an approved clawback through the executor.
func (o *Oracle) ExecuteApproved(ctx context.Context, proposalID, actor string) (*proposal.ClawbackProposal, error) {
	return o.lifecycle.ExecuteApproved(ctx, proposalID, actor)
}

// AddComment registers a public comment.
func (o *Oracle) AddComment(proposalID, commenter, text string, supportClawback bool) (proposal.PublicComment, error) {
	return o.comments.Add(proposalID, commenter, text, supportClawback)
}

// Comments lists a proposal's comments in submission order.
func (o *Oracle) Comments(proposalID string) []proposal.PublicComment {
	return o.comments.ListFor(proposalID)
}

// CastVote records a committee member's vote and evaluates the outcome.
func (o *Oracle) CastVote(proposalID, voter string, choice proposal.VoteChoice, reason string) (proposal.GovernanceVote, error) {
	return o.voting.CastVote(proposalID, voter, choice, reason)
}

// FileDispute opens a stake-backed dispute against a proposal.
func (o *Oracle) FileDispute(proposalID, filer, reason string, evidence []string, stakeAmount float64) (proposal.Dispute, error) {
	return o.disputes.FileDispute(proposalID, filer, reason, evidence, stakeAmount)
}

// ResolveDispute closes an active dispute with a committee decision.
func (o *Oracle) ResolveDispute(proposalID, disputeID string, resolvers []string, decision proposal.DisputeDecision, justification string) (proposal.Dispute, error) {
	return o.disputes.ResolveDispute(proposalID, disputeID, resolvers, decision, justification)
}

// Disputes lists a proposal's disputes in filing order.
func (o *Oracle) Disputes(proposalID string) []proposal.Dispute {
	return o.disputes.DisputesFor(proposalID)
}

// GetDispute retrieves a dispute by id.
func (o *Oracle) GetDispute(disputeID string) (proposal.Dispute, error) {
	return o.disputes.GetDispute(disputeID)
}

// GetProposal returns a snapshot of the proposal with its status evaluated
// against the current clock.
func (o *Oracle) GetProposal(proposalID string) (*proposal.ClawbackProposal, error) {
	return o.table.Snapshot(proposalID, o.clock().UTC())
}

// ListProposals returns snapshots of all proposals in creation order.
func (o *Oracle) ListProposals() []*proposal.ClawbackProposal {
	return o.table.All(o.clock().UTC())
}

// LedgerEntries returns the full transparency ledger.
func (o *Oracle) LedgerEntries() []ledger.Entry {
	return o.ledger.All()
}

// ProposalLedger returns the ledger sub-sequence for one proposal.
func (o *Oracle) ProposalLedger(proposalID string) []ledger.Entry {
	return o.ledger.ForProposal(proposalID)
}

// QueryLedger returns ledger entries matching the declarative filter.
func (o *Oracle) QueryLedger(filter ledger.QueryFilter) []ledger.Entry {
	return o.ledger.Query(filter)
}

// QueryLedgerExpr evaluates a CEL expression against every ledger entry.
// A malformed expression is a validation error.
func (o *Oracle) QueryLedgerExpr(expr string) ([]ledger.Entry, error) {
	out, err := o.ledger.QueryExpr(expr)
	if err != nil {
		if errors.Is(err, ledger.ErrBadExpression) {
			return nil, fmt.Errorf("%w: %v", proposal.ErrValidation, err)
		}
		return nil, err
	}
	return out, nil
}

// VerifyChain recomputes the whole hash chain.
func (o *Oracle) VerifyChain() ledger.ChainReport {
	return o.ledger.VerifyChain()
}

// MinDisputeStake reports the configured dispute stake floor.
func (o *Oracle) MinDisputeStake() float64 {
	return o.disputes.MinStake()
}

// Committee exposes the governance roster.
func (o *Oracle) Committee() *committee.Committee {
	return o.committee
}

// Ledger exposes the transparency ledger for read-side consumers such as
// checkpoint publishing.
func (o *Oracle) Ledger() *ledger.Ledger {
	return o.ledger
}
