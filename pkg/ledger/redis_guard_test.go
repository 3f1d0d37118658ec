package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentis-labs/paygate/pkg/protocol"
)

// Integration test; runs only against a live Redis.
func TestRedisGuard(t *testing.T) {
	addr := os.Getenv("PAYGATE_TEST_REDIS")
	if addr == "" {
		t.Skip("PAYGATE_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.FlushDB(ctx).Err())

	g := NewRedisGuard(client, NewMemoryLedger(), time.Minute)
	now := time.Now().UTC()

	r, err := g.Commit(ctx, proofFor("offer-redis"), meta("agent-1", now))
	require.NoError(t, err)
	assert.NotEmpty(t, r.ProofID)

	_, err = g.Commit(ctx, proofFor("offer-redis"), meta("agent-1", now))
	require.Error(t, err)
	assert.Equal(t, protocol.CodeAlreadyUsed, protocol.CodeOf(err))

	// A second instance sharing the index sees the marker even though its
	// local store is empty.
	g2 := NewRedisGuard(client, NewMemoryLedger(), time.Minute)
	_, err = g2.Commit(ctx, proofFor("offer-redis"), meta("agent-1", now))
	assert.Equal(t, protocol.CodeAlreadyUsed, protocol.CodeOf(err))
}

// Commit failing downstream must release the marker so a retry can win.
func TestRedisGuardReleasesMarkerOnInnerFailure(t *testing.T) {
	addr := os.Getenv("PAYGATE_TEST_REDIS")
	if addr == "" {
		t.Skip("PAYGATE_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.FlushDB(ctx).Err())

	inner := NewMemoryLedger()
	// Seed the inner store so its commit fails with ALREADY_USED while the
	// Redis marker is fresh.
	_, err := inner.Commit(ctx, proofFor("offer-x"), meta("agent-1", time.Now().UTC()))
	require.NoError(t, err)

	g := NewRedisGuard(client, inner, time.Minute)
	_, err = g.Commit(ctx, proofFor("offer-x"), meta("agent-1", time.Now().UTC()))
	require.Error(t, err)

	id := mustProofID(t, proofFor("offer-x"))
	n, err := client.Exists(ctx, "paygate:proof:"+id).Result()
	require.NoError(t, err)
	assert.Zero(t, n, "marker released after inner failure")
}
