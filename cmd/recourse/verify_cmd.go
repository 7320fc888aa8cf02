package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/castellan-labs/recourse/pkg/ledger"
)

// runVerifyCmd implements `recourse verify`.
//
// Revalidates an exported transparency ledger offline: hash recomputation
// over every entry plus the previous-hash linkage, with no server needed.
//
// Exit codes:
//
//	0 = chain verified
//	1 = chain invalid
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ledgerPath string
		jsonOutput bool
	)

	cmd.StringVar(&ledgerPath, "ledger", "", "Path to an exported ledger JSON file (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the chain report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if ledgerPath == "" && cmd.NArg() > 0 {
		ledgerPath = cmd.Arg(0)
	}
	if ledgerPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --ledger (or a positional path) is required")
		return 2
	}

	data, err := os.ReadFile(ledgerPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read %s: %v\n", ledgerPath, err)
		return 2
	}

	var entries []ledger.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %s is not a ledger export: %v\n", ledgerPath, err)
		return 2
	}

	report := ledger.VerifyExported(entries)

	if jsonOutput {
		out, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(out))
	} else if report.Valid {
		_, _ = fmt.Fprintf(stdout, "✅ Ledger verification PASSED\n")
		_, _ = fmt.Fprintf(stdout, "File:    %s\n", ledgerPath)
		_, _ = fmt.Fprintf(stdout, "Entries: %d\n", report.Entries)
		_, _ = fmt.Fprintf(stdout, "Head:    %s\n", report.Head)
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ Ledger verification FAILED\n")
		_, _ = fmt.Fprintf(stdout, "File:    %s\n", ledgerPath)
		for _, e := range report.Errors {
			_, _ = fmt.Fprintf(stdout, "  - %s\n", e)
		}
	}

	if !report.Valid {
		return 1
	}
	return 0
}
