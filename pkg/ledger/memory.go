package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/agentis-labs/paygate/pkg/protocol"
)

// chainEntry hash-chains a receipt to its predecessor so the audit log is
// tamper-evident without external storage.
type chainEntry struct {
	receipt  *protocol.Receipt
	hash     string
	prevHash string
}

// MemoryLedger is the in-process receipt store. The proof index doubles as
// the replay guard; index and chain share one mutex.
type MemoryLedger struct {
	mu       sync.RWMutex
	byProof  map[string]*chainEntry
	chain    []*chainEntry
	headHash string
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byProof:  make(map[string]*chainEntry),
		headHash: "genesis",
	}
}

func (l *MemoryLedger) Commit(ctx context.Context, proof *protocol.PaymentProof, meta CommitMeta) (*protocol.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proofID, err := ProofID(proof)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, used := l.byProof[proofID]; used {
		return nil, errAlreadyUsed(proofID)
	}

	r := newReceipt(proofID, proof, meta)
	entry := &chainEntry{
		receipt:  r,
		prevHash: l.headHash,
		hash:     entryHash(r, l.headHash),
	}
	l.byProof[proofID] = entry
	l.chain = append(l.chain, entry)
	l.headHash = entry.hash

	out := *r
	return &out, nil
}

func (l *MemoryLedger) Get(ctx context.Context, proofID string) (*protocol.Receipt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.byProof[proofID]
	if !ok {
		return nil, nil
	}
	out := *entry.receipt
	return &out, nil
}

func (l *MemoryLedger) Query(ctx context.Context, principal string, from, to time.Time) ([]*protocol.Receipt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*protocol.Receipt
	for i := len(l.chain) - 1; i >= 0; i-- {
		r := l.chain[i].receipt
		if r.Principal != principal {
			continue
		}
		if r.VerifiedAt.Before(from) || !r.VerifiedAt.Before(to) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

// Verify walks the hash chain. Returns false with the first broken sequence.
func (l *MemoryLedger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	prev := "genesis"
	for i, entry := range l.chain {
		if entry.prevHash != prev {
			return false, "chain broken at index " + strconv.Itoa(i)
		}
		if entryHash(entry.receipt, entry.prevHash) != entry.hash {
			return false, "entry hash mismatch at index " + strconv.Itoa(i)
		}
		prev = entry.hash
	}
	return true, ""
}

func entryHash(r *protocol.Receipt, prevHash string) string {
	raw, _ := json.Marshal(struct {
		Receipt  *protocol.Receipt `json:"receipt"`
		PrevHash string            `json:"prev"`
	}{r, prevHash})
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:])
}
