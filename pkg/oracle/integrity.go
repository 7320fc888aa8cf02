package oracle

import (
	"errors"
	"fmt"
	"time"

	"github.com/castellan-labs/recourse/pkg/proposal"
)

// IntegrityReport is the auditor-facing result of verifying one proposal's
// record. Verification never fails as a call; problems are reported as data.
type IntegrityReport struct {
	ProposalID       string    `json:"proposal_id"`
	Valid            bool      `json:"valid"`
	Errors           []string  `json:"errors,omitempty"`
	VerificationHash string    `json:"verification_hash,omitempty"`
	LedgerEntries    int       `json:"ledger_entries"`
	CheckedAt        time.Time `json:"checked_at"`
}

// VerifyIntegrity recomputes the proposal's creation hash and the hashes of
// its ledger sub-sequence.
func (o *Oracle) VerifyIntegrity(proposalID string) IntegrityReport {
	now := o.clock().UTC()
	report := IntegrityReport{
		ProposalID: proposalID,
		Valid:      true,
		CheckedAt:  now,
	}

	snap, err := o.table.Snapshot(proposalID, now)
	if err != nil {
		if errors.Is(err, proposal.ErrNotFound) {
			report.Valid = false
			report.Errors = append(report.Errors, "Proposal not found")
			return report
		}
		report.Valid = false
		report.Errors = append(report.Errors, err.Error())
		return report
	}

	report.VerificationHash = snap.VerificationHash

	recomputed, err := snap.ComputeCreationHash()
	if err != nil {
		report.Valid = false
		report.Errors = append(report.Errors, fmt.Sprintf("failed to recompute creation hash: %v", err))
	} else if recomputed != snap.VerificationHash {
		report.Valid = false
		report.Errors = append(report.Errors,
			fmt.Sprintf("creation hash mismatch: stored %s, recomputed %s", snap.VerificationHash, recomputed))
	}

	chain := o.ledger.VerifySubChain(proposalID)
	report.LedgerEntries = chain.Entries
	if !chain.Valid {
		report.Valid = false
		report.Errors = append(report.Errors, chain.Errors...)
	}

	return report
}
