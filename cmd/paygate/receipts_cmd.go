package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/agentis-labs/paygate/pkg/config"
)

// runReceiptsCmd implements `paygate receipts`: list committed receipts for
// a principal over a time range. Compliance reporting surface.
//
// Exit codes:
//
//	0 = query succeeded
//	2 = usage or runtime error
func runReceiptsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("receipts", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		principal  string
		fromStr    string
		toStr      string
		jsonOutput bool
	)

	cmd.StringVar(&principal, "principal", "", "Principal ID to report on (REQUIRED)")
	cmd.StringVar(&fromStr, "from", "", "Range start, RFC 3339 (default: 24h ago)")
	cmd.StringVar(&toStr, "to", "", "Range end, RFC 3339 (default: now)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output receipts as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if principal == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -principal is required")
		return 2
	}

	now := time.Now().UTC()
	from, to := now.Add(-24*time.Hour), now
	if fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: bad -from: %v\n", err)
			return 2
		}
		from = t
	}
	if toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: bad -to: %v\n", err)
			return 2
		}
		to = t
	}

	cfg := config.Load()
	setupLogger(cfg.LogLevel, stderr)

	led, closeLedger, err := openLedger(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = closeLedger() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	receipts, err := led.Query(ctx, principal, from, to)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: query failed: %v\n", err)
		return 2
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(receipts); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		return 0
	}

	if len(receipts) == 0 {
		_, _ = fmt.Fprintf(stdout, "No receipts for %s in [%s, %s)\n",
			principal, from.Format(time.RFC3339), to.Format(time.RFC3339))
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "%-20s %-12s %-10s %-25s %s\n", "VERIFIED", "AMOUNT", "STATUS", "COUNTERPARTY", "PROOF")
	for _, r := range receipts {
		_, _ = fmt.Fprintf(stdout, "%-20s %-12s %-10s %-25s %s\n",
			r.VerifiedAt.Format("2006-01-02 15:04:05"),
			r.Amount.String(),
			r.Status,
			r.Counterparty,
			r.ProofID)
	}
	return 0
}
