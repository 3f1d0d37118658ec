package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentis-labs/paygate/pkg/protocol"
)

// RedisGuard fronts a Ledger with a shared replay index for load-balanced
// deployments: SETNX on the proof ID decides the winner across instances
// before the local store commits. If the inner commit fails the marker is
// removed so a legitimate retry can proceed.
type RedisGuard struct {
	client *redis.Client
	inner  Ledger
	ttl    time.Duration
	prefix string
}

// NewRedisGuard wraps inner with a Redis replay index. ttl bounds how long
// markers outlive their receipt; zero means no expiry (full audit horizon).
func NewRedisGuard(client *redis.Client, inner Ledger, ttl time.Duration) *RedisGuard {
	return &RedisGuard{
		client: client,
		inner:  inner,
		ttl:    ttl,
		prefix: "paygate:proof:",
	}
}

func (g *RedisGuard) Commit(ctx context.Context, proof *protocol.PaymentProof, meta CommitMeta) (*protocol.Receipt, error) {
	proofID, err := ProofID(proof)
	if err != nil {
		return nil, err
	}

	ok, err := g.client.SetNX(ctx, g.prefix+proofID, meta.Principal, g.ttl).Result()
	if err != nil {
		// Fail closed: without the shared index we cannot guarantee
		// exactly-once, so the payment does not go through.
		return nil, protocol.WrapErr(protocol.CodeNetworkError, err, "replay index unavailable")
	}
	if !ok {
		return nil, errAlreadyUsed(proofID)
	}

	r, err := g.inner.Commit(ctx, proof, meta)
	if err != nil {
		if delErr := g.client.Del(ctx, g.prefix+proofID).Err(); delErr != nil {
			return nil, fmt.Errorf("ledger: commit failed and marker not released: %w", err)
		}
		return nil, err
	}
	return r, nil
}

func (g *RedisGuard) Get(ctx context.Context, proofID string) (*protocol.Receipt, error) {
	return g.inner.Get(ctx, proofID)
}

func (g *RedisGuard) Query(ctx context.Context, principal string, from, to time.Time) ([]*protocol.Receipt, error) {
	return g.inner.Query(ctx, principal, from, to)
}
