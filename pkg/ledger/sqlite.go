package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentis-labs/paygate/pkg/money"
	"github.com/agentis-labs/paygate/pkg/protocol"
)

// SQLiteLedger persists receipts in SQLite. The primary key on proof_id with
// ON CONFLICT DO NOTHING makes Commit first-writer-wins without any
// application-level lock.
type SQLiteLedger struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite-backed ledger at dsn, e.g.
// "file:receipts.db" or "file::memory:?cache=shared".
func OpenSQLite(dsn string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}
	l := &SQLiteLedger{db: db}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// NewSQLiteLedger wraps an existing handle (tests, shared pools).
func NewSQLiteLedger(db *sql.DB) (*SQLiteLedger, error) {
	l := &SQLiteLedger{db: db}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS receipts (
		proof_id       TEXT PRIMARY KEY,
		principal      TEXT NOT NULL,
		counterparty   TEXT NOT NULL,
		amount_minor   INTEGER NOT NULL,
		currency       TEXT NOT NULL,
		scale          INTEGER NOT NULL,
		status         TEXT NOT NULL,
		verified_at    TEXT NOT NULL,
		settlement_ref TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_receipts_principal_time
		ON receipts (principal, verified_at);`
	_, err := l.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) Close() error { return l.db.Close() }

func (l *SQLiteLedger) Commit(ctx context.Context, proof *protocol.PaymentProof, meta CommitMeta) (*protocol.Receipt, error) {
	proofID, err := ProofID(proof)
	if err != nil {
		return nil, err
	}
	r := newReceipt(proofID, proof, meta)

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO receipts (proof_id, principal, counterparty, amount_minor, currency, scale, status, verified_at, settlement_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (proof_id) DO NOTHING`,
		r.ProofID, r.Principal, r.Counterparty,
		r.Amount.AmountMinor, r.Amount.Currency, r.Amount.Scale,
		string(r.Status), r.VerifiedAt.UTC().Format(time.RFC3339Nano), r.SettlementRef,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: commit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("ledger: commit rows: %w", err)
	}
	if n == 0 {
		return nil, errAlreadyUsed(proofID)
	}
	return r, nil
}

func (l *SQLiteLedger) Get(ctx context.Context, proofID string) (*protocol.Receipt, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT proof_id, principal, counterparty, amount_minor, currency, scale, status, verified_at, settlement_ref
		FROM receipts WHERE proof_id = ?`, proofID)
	r, err := scanReceipt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (l *SQLiteLedger) Query(ctx context.Context, principal string, from, to time.Time) ([]*protocol.Receipt, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT proof_id, principal, counterparty, amount_minor, currency, scale, status, verified_at, settlement_ref
		FROM receipts
		WHERE principal = ? AND verified_at >= ? AND verified_at < ?
		ORDER BY verified_at DESC`,
		principal, from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("ledger: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*protocol.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*protocol.Receipt, error) {
	var (
		r         protocol.Receipt
		status    string
		verified  string
		minor     int64
		currency  string
		scaleUnit int
	)
	if err := row.Scan(&r.ProofID, &r.Principal, &r.Counterparty, &minor, &currency, &scaleUnit, &status, &verified, &r.SettlementRef); err != nil {
		return nil, err
	}
	r.Amount = money.Money{AmountMinor: minor, Currency: currency, Scale: scaleUnit}
	r.Status = protocol.ReceiptStatus(status)
	t, err := time.Parse(time.RFC3339Nano, verified)
	if err != nil {
		return nil, fmt.Errorf("ledger: bad verified_at %q: %w", verified, err)
	}
	r.VerifiedAt = t
	return &r, nil
}
