package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/agentis-labs/paygate/pkg/money"
	"github.com/agentis-labs/paygate/pkg/protocol"
)

// PostgresLedger persists receipts in PostgreSQL for multi-instance
// deployments. Same first-writer-wins discipline as SQLite, via the
// proof_id primary key.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger wraps an existing pool. Schema is managed externally
// (migrations), matching the receipts table below:
//
//	CREATE TABLE receipts (
//	    proof_id       TEXT PRIMARY KEY,
//	    principal      TEXT NOT NULL,
//	    counterparty   TEXT NOT NULL,
//	    amount_minor   BIGINT NOT NULL,
//	    currency       TEXT NOT NULL,
//	    scale          INT NOT NULL,
//	    status         TEXT NOT NULL,
//	    verified_at    TIMESTAMPTZ NOT NULL,
//	    settlement_ref TEXT NOT NULL DEFAULT ''
//	);
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Commit(ctx context.Context, proof *protocol.PaymentProof, meta CommitMeta) (*protocol.Receipt, error) {
	proofID, err := ProofID(proof)
	if err != nil {
		return nil, err
	}
	r := newReceipt(proofID, proof, meta)

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO receipts (proof_id, principal, counterparty, amount_minor, currency, scale, status, verified_at, settlement_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (proof_id) DO NOTHING`,
		r.ProofID, r.Principal, r.Counterparty,
		r.Amount.AmountMinor, r.Amount.Currency, r.Amount.Scale,
		string(r.Status), r.VerifiedAt.UTC(), r.SettlementRef,
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

func (l *PostgresLedger) Get(ctx context.Context, proofID string) (*protocol.Receipt, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT proof_id, principal, counterparty, amount_minor, currency, scale, status, verified_at, settlement_ref
		FROM receipts WHERE proof_id = $1`, proofID)
	r, err := scanReceiptPG(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (l *PostgresLedger) Query(ctx context.Context, principal string, from, to time.Time) ([]*protocol.Receipt, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT proof_id, principal, counterparty, amount_minor, currency, scale, status, verified_at, settlement_ref
		FROM receipts
		WHERE principal = $1 AND verified_at >= $2 AND verified_at < $3
		ORDER BY verified_at DESC`, principal, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("ledger: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*protocol.Receipt
	for rows.Next() {
		r, err := scanReceiptPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReceiptPG(row rowScanner) (*protocol.Receipt, error) {
	var (
		r         protocol.Receipt
		status    string
		minor     int64
		currency  string
		scaleUnit int
	)
	if err := row.Scan(&r.ProofID, &r.Principal, &r.Counterparty, &minor, &currency, &scaleUnit, &status, &r.VerifiedAt, &r.SettlementRef); err != nil {
		return nil, err
	}
	r.Amount = money.Money{AmountMinor: minor, Currency: currency, Scale: scaleUnit}
	r.Status = protocol.ReceiptStatus(status)
	return &r, nil
}
