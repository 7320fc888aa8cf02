package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/castellan-labs/recourse/pkg/config"
	"github.com/castellan-labs/recourse/pkg/ledger"
	"github.com/castellan-labs/recourse/pkg/oracle"
)

// runStatsCmd implements `recourse stats`.
//
// Without flags it reports the statistics of an oracle freshly built from
// the environment (committee size, an empty table, the genesis entry).
// With --ledger it summarizes an exported ledger file instead.
func runStatsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("stats", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var ledgerPath string
	cmd.StringVar(&ledgerPath, "ledger", "", "Summarize an exported ledger file instead of the live configuration")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if ledgerPath == "" && cmd.NArg() > 0 {
		ledgerPath = cmd.Arg(0)
	}
	if ledgerPath != "" {
		return ledgerStats(ledgerPath, stdout, stderr)
	}

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return 2
	}
	orc, err := oracle.New(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Failed to init oracle: %v\n", err)
		return 2
	}

	data, _ := json.MarshalIndent(orc.Stats(), "", "  ")
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}

func ledgerStats(path string, stdout, stderr io.Writer) int {
	data, err := os.ReadFile(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read %s: %v\n", path, err)
		return 2
	}

	var entries []ledger.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %s is not a ledger export: %v\n", path, err)
		return 2
	}

	report := ledger.VerifyExported(entries)
	byType := make(map[string]int)
	proposals := make(map[string]struct{})
	for _, e := range entries {
		byType[string(e.Type)]++
		if e.ProposalID != "" {
			proposals[e.ProposalID] = struct{}{}
		}
	}

	out := map[string]any{
		"entries":     len(entries),
		"by_type":     byType,
		"proposals":   len(proposals),
		"chain_valid": report.Valid,
		"head":        report.Head,
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(b))
	return 0
}
