// Package disputes files and resolves staked challenges against clawback
// proposals. An active dispute pauses its parent proposal; resolution
// either reinstates the clawback path or cancels it permanently.
package disputes

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/castellan-labs/recourse/pkg/committee"
	"github.com/castellan-labs/recourse/pkg/ledger"
	"github.com/castellan-labs/recourse/pkg/proposal"
)

// Reevaluator re-applies the voting outcome rules after a dispute returns
// a proposal to the voting path. Implemented by the voting engine.
type Reevaluator interface {
	Reevaluate(p *proposal.ClawbackProposal)
}

// Manager owns all dispute records and drives the disputed lifecycle
// edges. At most one active dispute exists per proposal.
type Manager struct {
	mu         sync.RWMutex
	disputes   map[string]*proposal.Dispute
	byProposal map[string][]string

	table     *proposal.Table
	ledger    *ledger.Ledger
	committee *committee.Committee
	minStake  float64
	reeval    Reevaluator
	clock     func() time.Time
	logger    *slog.Logger
}

// NewManager creates a dispute manager with the configured minimum stake.
func NewManager(table *proposal.Table, led *ledger.Ledger, com *committee.Committee, minStake float64) *Manager {
	return &Manager{
		disputes:   make(map[string]*proposal.Dispute),
		byProposal: make(map[string][]string),
		table:      table,
		ledger:     led,
		committee:  com,
		minStake:   minStake,
		clock:      time.Now,
		logger:     slog.Default(),
	}
}

// WithClock overrides the clock for deterministic tests.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// WithLogger sets the structured logger.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger.With("component", "disputes")
	return m
}

// WithReevaluator wires the voting engine used when a resolved dispute
// sends the proposal back to voting.
func (m *Manager) WithReevaluator(r Reevaluator) *Manager {
	m.reeval = r
	return m
}

// MinStake returns the configured minimum stake.
func (m *Manager) MinStake() float64 {
	return m.minStake
}

// FileDispute opens a staked challenge and forces the parent proposal into
// disputed. The stake must meet the configured minimum; terminal proposals
// and proposals already under dispute reject the filing.
func (m *Manager) FileDispute(proposalID, filer, reason string, evidence []string, stakeAmount float64) (proposal.Dispute, error) {
	if filer == "" {
		return proposal.Dispute{}, fmt.Errorf("%w: filer is required", proposal.ErrValidation)
	}
	if reason == "" {
		return proposal.Dispute{}, fmt.Errorf("%w: dispute reason is required", proposal.ErrValidation)
	}
	if stakeAmount < m.minStake {
		return proposal.Dispute{}, fmt.Errorf("%w: Minimum stake of %.2f required to file a dispute, got %.2f",
			proposal.ErrValidation, m.minStake, stakeAmount)
	}

	now := m.clock().UTC()
	var filed proposal.Dispute

	_, err := m.table.Update(proposalID, func(p *proposal.ClawbackProposal) error {
		if p.Status.Terminal() {
			return fmt.Errorf("%w: cannot dispute a %s proposal", proposal.ErrInvalidState, p.Status)
		}
		if m.hasActiveDispute(proposalID) {
			return fmt.Errorf("%w: proposal already has an active dispute", proposal.ErrInvalidState)
		}

		d := &proposal.Dispute{
			ID:          uuid.New().String(),
			ProposalID:  proposalID,
			Filer:       filer,
			Reason:      reason,
			Evidence:    append([]string(nil), evidence...),
			StakeAmount: stakeAmount,
			Status:      proposal.DisputeActive,
			FiledAt:     now,
		}

		if _, err := m.ledger.Append(ledger.EntryDisputeFiled, proposalID, filer,
			"Dispute filed against clawback proposal",
			map[string]interface{}{
				"dispute_id":   d.ID,
				"stake_amount": stakeAmount,
			}); err != nil {
			return err
		}

		p.Status = proposal.StatusDisputed

		m.mu.Lock()
		m.disputes[d.ID] = d
		m.byProposal[proposalID] = append(m.byProposal[proposalID], d.ID)
		m.mu.Unlock()

		filed = *d.Clone()
		return nil
	})
	if err != nil {
		return proposal.Dispute{}, err
	}

	m.logger.Info("dispute filed",
		"proposal_id", proposalID,
		"dispute_id", filed.ID,
		"filer", filer)

	return filed, nil
}

// ResolveDispute records the committee verdict. clawback_proceeds resolves
// against the filer and returns the proposal to the voting path, where the
// recorded votes are immediately re-evaluated; clawback_cancelled resolves
// for the filer and cancels the proposal permanently.
func (m *Manager) ResolveDispute(proposalID, disputeID string, resolvers []string, decision proposal.DisputeDecision, justification string) (proposal.Dispute, error) {
	if len(resolvers) == 0 {
		return proposal.Dispute{}, fmt.Errorf("%w: at least one resolver is required", proposal.ErrUnauthorized)
	}
	for _, r := range resolvers {
		if !m.committee.IsMember(r) {
			return proposal.Dispute{}, fmt.Errorf("%w: resolver %s is not a governance committee member", proposal.ErrUnauthorized, r)
		}
	}
	if !decision.Valid() {
		return proposal.Dispute{}, fmt.Errorf("%w: unknown dispute decision %q", proposal.ErrValidation, decision)
	}

	now := m.clock().UTC()
	var resolved proposal.Dispute

	_, err := m.table.Update(proposalID, func(p *proposal.ClawbackProposal) error {
		// Dispute writers are serialized by the table lock; m.mu only
		// excludes concurrent readers.
		m.mu.RLock()
		d, ok := m.disputes[disputeID]
		m.mu.RUnlock()
		if !ok || d.ProposalID != proposalID {
			return fmt.Errorf("%w: dispute %s", proposal.ErrNotFound, disputeID)
		}
		if d.Status != proposal.DisputeActive {
			return fmt.Errorf("%w: dispute already resolved %s", proposal.ErrInvalidState, d.Status)
		}
		if p.Status != proposal.StatusDisputed {
			// An explicit cancellation can outrun resolution; the proposal's
			// terminal state wins and the dispute stays moot.
			return fmt.Errorf("%w: proposal is %s, not disputed", proposal.ErrInvalidState, p.Status)
		}

		outcome := proposal.DisputeResolvedAgainstFiler
		if decision == proposal.DecisionClawbackCancelled {
			outcome = proposal.DisputeResolvedForFiler
		}

		if _, err := m.ledger.Append(ledger.EntryDisputeResolved, proposalID, resolvers[0],
			fmt.Sprintf("Dispute resolved: %s", decision),
			map[string]interface{}{
				"dispute_id": disputeID,
				"decision":   string(decision),
				"resolvers":  append([]string(nil), resolvers...),
			}); err != nil {
			return err
		}

		m.mu.Lock()
		d.Status = outcome
		d.Resolution = &proposal.DisputeResolution{
			Decision:      decision,
			Justification: justification,
			Resolvers:     append([]string(nil), resolvers...),
			ResolvedAt:    now,
		}
		m.mu.Unlock()

		if decision == proposal.DecisionClawbackProceeds {
			p.Status = proposal.StatusVoting
			if m.reeval != nil {
				m.reeval.Reevaluate(p)
			}
		} else {
			p.Status = proposal.StatusCancelled
			p.CancellationReason = "cancelled by dispute resolution"
			if _, err := m.ledger.Append(ledger.EntryClawbackCancelled, proposalID, resolvers[0],
				"Clawback cancelled by dispute resolution",
				map[string]interface{}{"dispute_id": disputeID}); err != nil {
				m.logger.Error("failed to record cancellation", "proposal_id", proposalID, "error", err)
			}
		}

		resolved = *d.Clone()
		return nil
	})
	if err != nil {
		return proposal.Dispute{}, err
	}

	m.logger.Info("dispute resolved",
		"proposal_id", proposalID,
		"dispute_id", disputeID,
		"decision", string(decision))

	return resolved, nil
}

// GetDispute retrieves a dispute by id.
func (m *Manager) GetDispute(disputeID string) (proposal.Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.disputes[disputeID]
	if !ok {
		return proposal.Dispute{}, fmt.Errorf("%w: dispute %s", proposal.ErrNotFound, disputeID)
	}
	return *d.Clone(), nil
}

// DisputesFor returns a proposal's disputes in filing order.
func (m *Manager) DisputesFor(proposalID string) []proposal.Dispute {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byProposal[proposalID]
	out := make([]proposal.Dispute, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.disputes[id].Clone())
	}
	return out
}

// hasActiveDispute reports whether the proposal has an unresolved dispute.
func (m *Manager) hasActiveDispute(proposalID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.byProposal[proposalID] {
		if m.disputes[id].Status == proposal.DisputeActive {
			return true
		}
	}
	return false
}
