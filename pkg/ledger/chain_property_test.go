//go:build property
// +build property

// Package ledger_test contains property-based tests for the hash chain:
// arbitrary append sequences verify, and any single-field mutation breaks
// verification.
package ledger_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/castellan-labs/recourse/pkg/ledger"
)

var entryTypes = []ledger.EntryType{
	ledger.EntryProposalCreated,
	ledger.EntryCommentAdded,
	ledger.EntryVoteCast,
	ledger.EntryDisputeFiled,
	ledger.EntryDisputeResolved,
	ledger.EntryClawbackCancelled,
	ledger.EntryClawbackApproved,
	ledger.EntryClawbackExecuted,
}

func buildLedger(picks []int, actors []string) *ledger.Ledger {
	l := ledger.New()
	for i, p := range picks {
		actor := "member"
		if len(actors) > 0 {
			actor = actors[i%len(actors)]
			if actor == "" {
				actor = "member"
			}
		}
		typ := entryTypes[((p%len(entryTypes))+len(entryTypes))%len(entryTypes)]
		_, _ = l.Append(typ, "prop-1", actor, "recorded governance action", nil)
	}
	return l
}

// TestChainAlwaysVerifies: any append sequence yields a verifiable chain.
func TestChainAlwaysVerifies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("appended chains verify", prop.ForAll(
		func(picks []int, actors []string) bool {
			l := buildLedger(picks, actors)
			report := l.VerifyChain()
			return report.Valid && report.Entries == len(picks)+1
		},
		gen.SliceOf(gen.Int()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestTamperAlwaysDetected: mutating any single field of any exported entry
// makes verification fail.
func TestTamperAlwaysDetected(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("single-field tampering breaks the chain", prop.ForAll(
		func(picks []int, target, field int) bool {
			if len(picks) == 0 {
				return true
			}
			l := buildLedger(picks, nil)
			entries := l.All()

			idx := ((target % len(entries)) + len(entries)) % len(entries)
			switch ((field % 6) + 6) % 6 {
			case 0:
				entries[idx].Actor = entries[idx].Actor + "-tampered"
			case 1:
				entries[idx].Action = "rewritten history"
			case 2:
				entries[idx].ProposalID = entries[idx].ProposalID + "-x"
			case 3:
				entries[idx].Sequence = entries[idx].Sequence + 1000
			case 4:
				entries[idx].PreviousHash = "0000"
			case 5:
				entries[idx].Timestamp = entries[idx].Timestamp.Add(1)
			}

			return !ledger.VerifyExported(entries).Valid
		},
		gen.SliceOf(gen.Int()),
		gen.Int(),
		gen.Int(),
	))

	properties.TestingRun(t)
}
