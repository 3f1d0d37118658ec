package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentis-labs/paygate/pkg/money"
	"github.com/agentis-labs/paygate/pkg/protocol"
)

func proofFor(offerID string) *protocol.PaymentProof {
	return &protocol.PaymentProof{
		OfferID:       offerID,
		Method:        "exact",
		Signature:     "sig-" + offerID,
		PayerIdentity: "agent-1",
		Amount:        money.MustNew(250, "USD"),
	}
}

func meta(principal string, at time.Time) CommitMeta {
	return CommitMeta{
		Principal:    principal,
		Counterparty: "api.example.com",
		Status:       protocol.ReceiptVerified,
		VerifiedAt:   at,
	}
}

func TestProofIDDeterministic(t *testing.T) {
	a, err := ProofID(proofFor("offer-1"))
	require.NoError(t, err)
	b, err := ProofID(proofFor("offer-1"))
	require.NoError(t, err)
	c, err := ProofID(proofFor("offer-2"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "sha256:")
}

func TestMemoryCommitAndGet(t *testing.T) {
	l := NewMemoryLedger()
	now := time.Now().UTC()

	r, err := l.Commit(context.Background(), proofFor("offer-1"), meta("agent-1", now))
	require.NoError(t, err)
	assert.Equal(t, "agent-1", r.Principal)
	assert.Equal(t, int64(250), r.Amount.AmountMinor)

	got, err := l.Get(context.Background(), r.ProofID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, r.ProofID, got.ProofID)

	missing, err := l.Get(context.Background(), "sha256:nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryCommitRejectsReplay(t *testing.T) {
	l := NewMemoryLedger()
	now := time.Now().UTC()

	_, err := l.Commit(context.Background(), proofFor("offer-1"), meta("agent-1", now))
	require.NoError(t, err)

	_, err = l.Commit(context.Background(), proofFor("offer-1"), meta("agent-1", now))
	require.Error(t, err)
	assert.Equal(t, protocol.CodeAlreadyUsed, protocol.CodeOf(err))
}

// Under concurrency exactly one commit of the same proof succeeds.
func TestMemoryCommitFirstWriterWins(t *testing.T) {
	l := NewMemoryLedger()
	now := time.Now().UTC()

	const writers = 32
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Commit(context.Background(), proofFor("offer-contested"), meta("agent-1", now))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, replayed int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case protocol.CodeOf(err) == protocol.CodeAlreadyUsed:
			replayed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, replayed)
}

func TestMemoryQuery(t *testing.T) {
	l := NewMemoryLedger()
	base := time.Date(2026, 8, 18, 12, 0, 0, 0, time.UTC)

	for i, offerID := range []string{"o1", "o2", "o3"} {
		_, err := l.Commit(context.Background(), proofFor(offerID), meta("agent-1", base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	_, err := l.Commit(context.Background(), proofFor("other"), meta("agent-2", base))
	require.NoError(t, err)

	// [base, base+2h) excludes o3 and agent-2's receipt.
	out, err := l.Query(context.Background(), "agent-1", base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].VerifiedAt.After(out[1].VerifiedAt), "newest first")
}

func TestMemoryChainVerify(t *testing.T) {
	l := NewMemoryLedger()
	now := time.Now().UTC()
	for _, offerID := range []string{"o1", "o2", "o3"} {
		_, err := l.Commit(context.Background(), proofFor(offerID), meta("agent-1", now))
		require.NoError(t, err)
	}

	ok, detail := l.Verify()
	assert.True(t, ok, detail)

	// Receipts handed out are copies; mutating one must not break the chain.
	r, err := l.Get(context.Background(), mustProofID(t, proofFor("o2")))
	require.NoError(t, err)
	r.Amount.AmountMinor = 999999
	ok, _ = l.Verify()
	assert.True(t, ok)

	// Tampering with the stored entry breaks it.
	l.chain[1].receipt.Amount.AmountMinor = 999999
	ok, detail = l.Verify()
	assert.False(t, ok)
	assert.Contains(t, detail, "mismatch")
}

func mustProofID(t *testing.T, p *protocol.PaymentProof) string {
	t.Helper()
	id, err := ProofID(p)
	require.NoError(t, err)
	return id
}
