// Command paygate is the operator surface for the payment-required
// protocol handler: fetch a resource paying on demand, and query the
// receipt ledger for compliance.
package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentis-labs/paygate/pkg/config"
	"github.com/agentis-labs/paygate/pkg/ledger"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "fetch":
		return runFetchCmd(args[2:], stdout, stderr)
	case "receipts":
		return runReceiptsCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "paygate - payment-required protocol handler")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  paygate fetch -url <url> -max <amount> [flags]   Fetch a resource, paying if challenged")
	fmt.Fprintln(w, "  paygate receipts -principal <id> [flags]         Query committed receipts")
	fmt.Fprintln(w, "  paygate help                                     Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Environment: PAYGATE_LEDGER_DRIVER, PAYGATE_DATABASE_URL, PAYGATE_SQLITE_PATH,")
	fmt.Fprintln(w, "  PAYGATE_REDIS_ADDR, PAYGATE_SIGNING_KEY, PAYGATE_PAYER_IDENTITY,")
	fmt.Fprintln(w, "  PAYGATE_PROFILES_DIR, PAYGATE_OTEL_ENABLED, PAYGATE_OTLP_ENDPOINT")
	fmt.Fprintln(w, "")
}

func setupLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// openLedger builds the receipt store selected by configuration, layering
// the Redis first-writer guard on top when an address is configured.
func openLedger(cfg *config.Config) (ledger.Ledger, func() error, error) {
	var (
		inner  ledger.Ledger
		closer = func() error { return nil }
	)

	switch cfg.LedgerDriver {
	case "sqlite":
		l, err := ledger.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		inner, closer = l, l.Close
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		inner, closer = ledger.NewPostgresLedger(db), db.Close
	case "memory", "":
		inner = ledger.NewMemoryLedger()
	default:
		return nil, nil, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		guarded := ledger.NewRedisGuard(client, inner, 24*time.Hour)
		prev := closer
		return guarded, func() error {
			_ = client.Close()
			return prev()
		}, nil
	}
	return inner, closer, nil
}
