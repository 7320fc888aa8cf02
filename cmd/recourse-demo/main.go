// Command recourse-demo walks the full governance arc against the
// in-process executor: a clawback approved and executed, one rejected by
// vote, an understaked dispute bounced, a staked dispute pausing the vote,
// and a resolution that cancels the clawback. It ends by verifying the
// transparency ledger it produced.
//
// The demo drives the oracle directly with a movable clock, so the comment
// windows elapse instantly and the transcript is reproducible.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/castellan-labs/recourse/pkg/config"
	"github.com/castellan-labs/recourse/pkg/executor"
	"github.com/castellan-labs/recourse/pkg/oracle"
	"github.com/castellan-labs/recourse/pkg/proposal"
)

// ANSI Colors
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[37m"
)

func main() {
	os.Exit(run(os.Stdout))
}

// demoClock is a movable clock so the walkthrough can skip the comment
// windows instead of waiting them out.
type demoClock struct {
	now time.Time
}

func (c *demoClock) Now() time.Time { return c.now }

func (c *demoClock) Skip(w io.Writer, d time.Duration) {
	c.now = c.now.Add(d)
	fmt.Fprintf(w, "%s   ⏩ %s pass; the comment window closes.%s\n", ColorGray, d, ColorReset)
}

func run(w io.Writer) int {
	clk := &demoClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	cfg := &config.Config{
		CommitteeMembers: []string{"alice", "bob", "carol"},
		Quorum:           2,
		RequiredMajority: 66,
		CommentPeriod:    72 * time.Hour,
		MinDisputeStake:  100,
	}

	exec := executor.NewMemory(nil)
	orc, err := oracle.New(cfg,
		oracle.WithClock(clk.Now),
		oracle.WithExecutor(exec),
		// Engine logs stay out of the transcript.
		oracle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return abort(w, "build oracle", err)
	}

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sRecourse Oracle Walkthrough%s\n", ColorBold+ColorBlue, ColorReset)
	fmt.Fprintf(w, "%sThe committee decides. The ledger remembers.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "   Committee:      alice, bob, carol (quorum %d, majority %.0f%%)\n", cfg.Quorum, cfg.RequiredMajority)
	fmt.Fprintf(w, "   Comment period: %s\n", cfg.CommentPeriod)
	fmt.Fprintf(w, "   Dispute stake:  %.0f minimum\n", orc.MinDisputeStake())

	// 1. A clawback the committee approves and executes.
	section(w, "1. Committee approval")

	fraud, err := orc.CreateClawbackProposal(ctx, "alice", "USDC", "0xmallory", "50000",
		proposal.ReasonFraudDetection, "Funds traced to a compromised custody key")
	if err != nil {
		return abort(w, "create proposal", err)
	}
	fmt.Fprintf(w, "   alice proposes clawing back 50000 USDC from 0xmallory\n")
	transition(w, fraud.ID, fraud.Status)

	comment, err := orc.AddComment(fraud.ID, "0xdana", "The on-chain trace checks out.", true)
	if err != nil {
		return abort(w, "add comment", err)
	}
	fmt.Fprintf(w, "   0xdana comments in support (%s)\n", short(comment.ID))

	clk.Skip(w, cfg.CommentPeriod)

	if _, err := orc.CastVote(fraud.ID, "alice", proposal.VoteApprove, "Evidence is conclusive"); err != nil {
		return abort(w, "alice votes", err)
	}
	fmt.Fprintf(w, "   alice votes approve\n")
	fraud, err = orc.GetProposal(fraud.ID)
	if err != nil {
		return abort(w, "reload proposal", err)
	}
	transition(w, fraud.ID, fraud.Status)

	if _, err := orc.CastVote(fraud.ID, "bob", proposal.VoteApprove, ""); err != nil {
		return abort(w, "bob votes", err)
	}
	fmt.Fprintf(w, "   bob votes approve\n")

	fraud, err = orc.GetProposal(fraud.ID)
	if err != nil {
		return abort(w, "reload proposal", err)
	}
	transition(w, fraud.ID, fraud.Status)

	fraud, err = orc.ExecuteApproved(ctx, fraud.ID, "alice")
	if err != nil {
		return abort(w, "execute clawback", err)
	}
	transition(w, fraud.ID, fraud.Status)
	fmt.Fprintf(w, "   %s✅ Settled by the executor: ref %s, hash %s%s\n",
		ColorGreen, short(fraud.ExecutorRef), short(fraud.ExecutionHash), ColorReset)

	// 2. A clawback the committee votes down.
	section(w, "2. Committee rejection")

	typo, err := orc.CreateClawbackProposal(ctx, "bob", "USDT", "0xexchange-hot", "12000",
		proposal.ReasonErrorCorrection, "Fat-fingered settlement, recipient unresponsive")
	if err != nil {
		return abort(w, "create proposal", err)
	}
	fmt.Fprintf(w, "   bob proposes clawing back 12000 USDT from 0xexchange-hot\n")
	transition(w, typo.ID, typo.Status)

	clk.Skip(w, cfg.CommentPeriod)

	if _, err := orc.CastVote(typo.ID, "alice", proposal.VoteReject, "Recipient replied during the window"); err != nil {
		return abort(w, "alice votes", err)
	}
	fmt.Fprintf(w, "   alice votes reject\n")
	if _, err := orc.CastVote(typo.ID, "carol", proposal.VoteReject, ""); err != nil {
		return abort(w, "carol votes", err)
	}
	fmt.Fprintf(w, "   carol votes reject\n")

	typo, err = orc.GetProposal(typo.ID)
	if err != nil {
		return abort(w, "reload proposal", err)
	}
	transition(w, typo.ID, typo.Status)
	fmt.Fprintf(w, "   %sℹ️  Recorded reason: %s%s\n", ColorGray, typo.CancellationReason, ColorReset)

	// 3. A dispute below the minimum stake changes nothing.
	section(w, "3. Understaked dispute")

	sanction, err := orc.CreateClawbackProposal(ctx, "carol", "EURC", "0xshell-co", "900000",
		proposal.ReasonSanctionsCompliance, "Wallet named in the latest designation list")
	if err != nil {
		return abort(w, "create proposal", err)
	}
	fmt.Fprintf(w, "   carol proposes clawing back 900000 EURC from 0xshell-co\n")
	transition(w, sanction.ID, sanction.Status)

	_, err = orc.FileDispute(sanction.ID, "0xmallory", "Wrong wallet, I am a different shell company", nil, 25)
	if !errors.Is(err, proposal.ErrValidation) {
		return abort(w, "understaked dispute should fail validation", err)
	}
	fmt.Fprintf(w, "   0xmallory disputes with a stake of 25\n")
	fmt.Fprintf(w, "   %s❌ Rejected: %v%s\n", ColorYellow, err, ColorReset)

	sanction, err = orc.GetProposal(sanction.ID)
	if err != nil {
		return abort(w, "reload proposal", err)
	}
	transition(w, sanction.ID, sanction.Status)

	// 4. A properly staked dispute pauses the vote.
	section(w, "4. Dispute pauses voting")

	disp, err := orc.FileDispute(sanction.ID, "0xmallory", "Designation is under appeal, case attached",
		[]string{"ipfs://QmAppealDocket"}, 250)
	if err != nil {
		return abort(w, "file dispute", err)
	}
	fmt.Fprintf(w, "   0xmallory disputes again with a stake of 250 (%s)\n", short(disp.ID))

	sanction, err = orc.GetProposal(sanction.ID)
	if err != nil {
		return abort(w, "reload proposal", err)
	}
	transition(w, sanction.ID, sanction.Status)

	clk.Skip(w, cfg.CommentPeriod)

	_, err = orc.CastVote(sanction.ID, "alice", proposal.VoteApprove, "")
	if !errors.Is(err, proposal.ErrInvalidState) {
		return abort(w, "vote on a disputed proposal should be blocked", err)
	}
	fmt.Fprintf(w, "   alice tries to vote approve\n")
	fmt.Fprintf(w, "   %s❌ Blocked: %v%s\n", ColorYellow, err, ColorReset)

	// 5. The committee sides with the filer.
	section(w, "5. Resolution for the filer")

	disp, err = orc.ResolveDispute(sanction.ID, disp.ID, []string{"alice", "bob"},
		proposal.DecisionClawbackCancelled, "Appeal docket is genuine; designation stayed")
	if err != nil {
		return abort(w, "resolve dispute", err)
	}
	fmt.Fprintf(w, "   alice and bob resolve the dispute: clawback cancelled\n")
	fmt.Fprintf(w, "   → dispute %s: %s%s%s\n", short(disp.ID), ColorCyan, disp.Status, ColorReset)

	sanction, err = orc.GetProposal(sanction.ID)
	if err != nil {
		return abort(w, "reload proposal", err)
	}
	transition(w, sanction.ID, sanction.Status)

	// Every decision above is already on the ledger. Prove it.
	section(w, "Transparency ledger")

	stats := orc.Stats()
	fmt.Fprintf(w, "   %d proposals:", stats.TotalProposals)
	for _, st := range []proposal.Status{proposal.StatusExecuted, proposal.StatusCancelled} {
		if n := stats.ByStatus[st]; n > 0 {
			fmt.Fprintf(w, " %d %s", n, st)
		}
	}
	fmt.Fprintln(w, "")

	for _, e := range orc.LedgerEntries() {
		fmt.Fprintf(w, "   %s#%02d %-20s %-10s %s%s\n", ColorGray, e.Sequence, e.Type, e.Actor, e.Action, ColorReset)
	}

	report := orc.VerifyChain()
	if !report.Valid {
		fmt.Fprintf(w, "\n   ❌ Ledger verification FAILED: %v\n", report.Errors)
		return 1
	}
	fmt.Fprintf(w, "\n   %s✅ Ledger verified: %d entries, head %s%s\n",
		ColorGreen, report.Entries, short(report.Head), ColorReset)
	fmt.Fprintln(w, "")
	return 0
}

func section(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s%s%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func transition(w io.Writer, proposalID string, status proposal.Status) {
	fmt.Fprintf(w, "   → proposal %s: %s%s%s\n", short(proposalID), ColorCyan, status, ColorReset)
}

// short truncates IDs and hashes so the transcript stays readable.
func short(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:12] + "…"
}

func abort(w io.Writer, step string, err error) int {
	fmt.Fprintf(w, "\n❌ Demo aborted at %q: %v\n", step, err)
	return 1
}
