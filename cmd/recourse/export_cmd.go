package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/castellan-labs/recourse/pkg/archive"
	"github.com/castellan-labs/recourse/pkg/config"
	"github.com/castellan-labs/recourse/pkg/export"
	"github.com/castellan-labs/recourse/pkg/ledger"
)

// runExportCmd implements `recourse export`.
//
// Replays the SQL archive, verifies the full chain, and seals the
// proposal's sub-chain into an evidence pack. With --out the zip lands on
// disk; otherwise it uploads to the configured pack store.
//
// Exit codes:
//
//	0 = pack built, chain verified
//	1 = pack built, archived chain failed verification
//	2 = runtime error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		proposalID string
		outPath    string
		tokenTTL   time.Duration
		jsonOutput bool
	)

	cmd.StringVar(&proposalID, "proposal", "", "Proposal ID to export (REQUIRED)")
	cmd.StringVar(&outPath, "out", "", "Write the pack zip to this path instead of uploading")
	cmd.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "Lifetime of the printed download token")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if proposalID == "" && cmd.NArg() > 0 {
		proposalID = cmd.Arg(0)
	}
	if proposalID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --proposal (or a positional id) is required")
		return 2
	}

	cfg := config.FromEnv()
	if cfg.ArchiveDriver == "" {
		_, _ = fmt.Fprintln(stderr, "Error: export reads the SQL archive; set RECOURSE_ARCHIVE_DRIVER and RECOURSE_ARCHIVE_DSN")
		return 2
	}

	ctx := context.Background()
	db, err := archive.Open(archive.Dialect(cfg.ArchiveDriver), cfg.ArchiveDSN)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open archive: %v\n", err)
		return 2
	}
	defer db.Close()

	mirror := archive.NewSQLMirror(db, archive.Dialect(cfg.ArchiveDriver))
	entries, err := mirror.Replay(ctx, 0)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: replay archive: %v\n", err)
		return 2
	}

	report := ledger.VerifyExported(entries)

	var chain []ledger.Entry
	for _, e := range entries {
		if e.ProposalID == proposalID {
			chain = append(chain, e)
		}
	}

	pack, err := export.BuildLedgerPack(proposalID, chain, report)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	result := map[string]any{
		"proposal_id":   proposalID,
		"pack_id":       pack.ID,
		"checksum":      pack.Checksum,
		"chain_entries": len(chain),
		"chain_valid":   report.Valid,
	}

	if outPath != "" {
		if err := os.WriteFile(outPath, pack.Data, 0o644); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: write %s: %v\n", outPath, err)
			return 2
		}
		result["out"] = outPath
	} else {
		store, err := export.NewStore(ctx, cfg.PackStore, cfg.PackDir, cfg.PackBucket)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		key, err := export.StorePack(ctx, store, pack)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: store pack: %v\n", err)
			return 2
		}
		result["key"] = key
	}

	if cfg.TokenSecret != "" {
		token, err := export.NewExporter(nil, nil, cfg.TokenSecret).AccessToken(pack.ID, tokenTTL)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: mint download token: %v\n", err)
			return 2
		}
		result["token"] = token
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "✅ Evidence pack sealed: %s\n", pack.ID)
		_, _ = fmt.Fprintf(stdout, "   Proposal: %s\n", proposalID)
		_, _ = fmt.Fprintf(stdout, "   Entries:  %d\n", len(chain))
		_, _ = fmt.Fprintf(stdout, "   Checksum: %s\n", pack.Checksum)
		if out, ok := result["out"]; ok {
			_, _ = fmt.Fprintf(stdout, "   Written:  %s\n", out)
		}
		if key, ok := result["key"]; ok {
			_, _ = fmt.Fprintf(stdout, "   Stored:   %s\n", key)
		}
		if token, ok := result["token"]; ok {
			_, _ = fmt.Fprintf(stdout, "   Token:    %s (valid %s)\n", token, tokenTTL)
		}
		if !report.Valid {
			_, _ = fmt.Fprintf(stdout, "⚠️  Archived chain FAILED verification; the pack documents the archive as found.\n")
		}
	}

	if !report.Valid {
		return 1
	}
	return 0
}
