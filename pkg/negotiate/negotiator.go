package negotiate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentis-labs/paygate/pkg/ledger"
	"github.com/agentis-labs/paygate/pkg/money"
	"github.com/agentis-labs/paygate/pkg/offer"
	"github.com/agentis-labs/paygate/pkg/policy"
	"github.com/agentis-labs/paygate/pkg/protocol"
	"github.com/agentis-labs/paygate/pkg/signer"
	"github.com/agentis-labs/paygate/pkg/wire"
)

// HTTPDoer is the transport dependency; *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AttemptOutcome is what one machine run reports to the orchestrator.
type AttemptOutcome struct {
	State    State
	Code     protocol.Code
	Reason   protocol.PolicyReason
	Err      error
	Receipt  *protocol.Receipt
	Response *http.Response
	Paid     money.Money

	// RateLimited distinguishes 429 outcomes; RetryAfter carries the
	// server hint when present.
	RateLimited bool
	RetryAfter  time.Duration
}

// Negotiator runs one negotiation attempt against one target. It is safe
// for concurrent use; every attempt gets its own machine.
type Negotiator struct {
	Client     HTTPDoer
	Policy     *policy.Engine
	Signer     signer.Signer
	Ledger     ledger.Ledger
	Settlement SettlementLedger
	Approvals  *ApprovalRegistry

	// VerifyTimeout bounds settlement polling; PollInterval is the poll
	// cadence while a settlement is pending.
	VerifyTimeout time.Duration
	PollInterval  time.Duration

	Logger *slog.Logger
	Clock  func() time.Time
}

func (n *Negotiator) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default().With("component", "negotiate")
}

func (n *Negotiator) now() time.Time {
	if n.Clock != nil {
		return n.Clock()
	}
	return time.Now().UTC()
}

func (n *Negotiator) settlement() SettlementLedger {
	if n.Settlement != nil {
		return n.Settlement
	}
	return InstantSettlement{}
}

// Run drives one attempt: detect, evaluate, authorize, sign, resend,
// verify. The returned outcome is terminal (COMPLETE or FAILED) unless the
// initial response needed no payment, in which case State is COMPLETE with
// the response attached and nothing paid.
func (n *Negotiator) Run(ctx context.Context, req *http.Request, intent offer.Intent) *AttemptOutcome {
	m := newMachine()
	log := n.logger().With("target", req.URL.Host, "principal", intent.Principal)

	// INIT: issue the original request.
	resp, err := n.send(ctx, req, nil, nil)
	if err != nil {
		return n.fail(m, classifySendErr(err), err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		drain(resp)
		out := n.fail(m, protocol.CodeNetworkError, protocol.Errorf(protocol.CodeNetworkError, "rate limited"))
		out.RateLimited = true
		out.RetryAfter = retryAfter(resp)
		return out
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		// Nothing to pay. Hand the response back untouched.
		_ = m.advance(StateComplete)
		return &AttemptOutcome{State: StateComplete, Response: resp}
	}

	// OFFER_DETECTED: extract the offer from headers, falling back to a
	// JSON offer document body.
	if err := m.advance(StateOfferDetected); err != nil {
		return n.fail(m, protocol.CodeNetworkError, err)
	}
	po, perr := wire.ParseOffer(resp.Header)
	if perr != nil && strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if body, rerr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)); rerr == nil {
			if doc, derr := wire.ParseOfferDocument(body); derr == nil {
				po, perr = doc, nil
			}
		}
	}
	drain(resp)
	if perr != nil {
		return n.fail(m, protocol.CodeOf(perr), perr)
	}
	po.Counterparty = req.URL.Host
	log = log.With("offer", po.OfferID, "amount", po.Amount.String())

	// EVALUATING
	if err := m.advance(StateEvaluating); err != nil {
		return n.fail(m, protocol.CodeNetworkError, err)
	}
	sel, err := offer.Evaluate(po, intent, n.now())
	if err != nil {
		log.Info("offer rejected", "err", err)
		return n.fail(m, protocol.CodeOf(err), err)
	}

	// POLICY_CHECK
	if err := m.advance(StatePolicyCheck); err != nil {
		return n.fail(m, protocol.CodeNetworkError, err)
	}
	decision, err := n.Policy.Authorize(ctx, intent.Principal, po.Amount, po.Counterparty, n.now())
	if err != nil {
		return n.fail(m, classifySendErr(err), err)
	}
	if decision.Outcome == policy.Denied {
		derr := decision.Err()
		log.Info("policy denied", "reason", decision.Reason, "msg", decision.Message)
		out := n.fail(m, protocol.CodePolicyViolation, derr)
		out.Reason = decision.Reason
		return out
	}

	// AWAITING_APPROVAL
	if decision.Outcome == policy.RequiresApproval {
		if err := m.advance(StateAwaitingApproval); err != nil {
			decision.Release()
			return n.fail(m, protocol.CodeNetworkError, err)
		}
		approved, aerr := n.awaitApproval(ctx, po, intent)
		if aerr != nil {
			decision.Release()
			return n.fail(m, classifySendErr(aerr), aerr)
		}
		if !approved {
			decision.Release()
			return n.fail(m, protocol.CodePolicyViolation,
				protocol.Errorf(protocol.CodePolicyViolation, "approval denied for %s", po.Amount))
		}
	}

	// AUTHORIZED → SIGNING. Cancellation is honored up to here without side
	// effects; past Sign a produced proof is voided best-effort.
	if err := m.advance(StateAuthorized); err != nil {
		decision.Release()
		return n.fail(m, protocol.CodeNetworkError, err)
	}
	if err := ctx.Err(); err != nil {
		decision.Release()
		return n.fail(m, protocol.CodeTimeout, err)
	}
	if err := m.advance(StateSigning); err != nil {
		decision.Release()
		return n.fail(m, protocol.CodeNetworkError, err)
	}
	proof, err := n.Signer.Sign(ctx, sel)
	if err != nil {
		decision.Release()
		return n.fail(m, protocol.CodeSigningError, err)
	}

	// RESENDING: original request plus proof.
	if err := m.advance(StateResending); err != nil {
		n.voidProof(proof)
		decision.Release()
		return n.fail(m, protocol.CodeNetworkError, err)
	}
	resp2, err := n.send(ctx, req, proof, nil)
	if err != nil {
		n.voidProof(proof)
		decision.Release()
		return n.fail(m, classifySendErr(err), err)
	}

	switch {
	case resp2.StatusCode == http.StatusTooManyRequests:
		hint := retryAfter(resp2)
		drain(resp2)
		n.voidProof(proof)
		decision.Release()
		out := n.fail(m, protocol.CodeNetworkError, protocol.Errorf(protocol.CodeNetworkError, "rate limited on resend"))
		out.RateLimited = true
		out.RetryAfter = hint
		return out
	case resp2.StatusCode == http.StatusPaymentRequired:
		ferr := n.proofRejected(resp2)
		drain(resp2)
		n.voidProof(proof)
		decision.Release()
		return n.fail(m, protocol.CodeOf(ferr), ferr)
	case resp2.StatusCode >= 400:
		drain(resp2)
		n.voidProof(proof)
		decision.Release()
		return n.fail(m, protocol.CodeNetworkError,
			protocol.Errorf(protocol.CodeNetworkError, "resend returned %d", resp2.StatusCode))
	}

	// VERIFYING: external settlement, then the replay guard, then the
	// committed-spend counters — in that order, so a replayed proof never
	// counts against policy.
	if err := m.advance(StateVerifying); err != nil {
		drain(resp2)
		decision.Release()
		return n.fail(m, protocol.CodeNetworkError, err)
	}
	ref, err := n.awaitSettlement(ctx, proof)
	if err != nil {
		drain(resp2)
		decision.Release()
		return n.fail(m, classifySendErr(err), err)
	}

	receipt, err := n.Ledger.Commit(ctx, proof, ledger.CommitMeta{
		Principal:     intent.Principal,
		Counterparty:  po.Counterparty,
		Status:        protocol.ReceiptVerified,
		SettlementRef: ref.Ref,
		VerifiedAt:    n.now(),
	})
	if err != nil {
		drain(resp2)
		decision.Release()
		if protocol.CodeOf(err) == protocol.CodeAlreadyUsed {
			// Exactly-once violated upstream of us. Treat as an attack signal.
			log.Warn("proof replay detected at commit", "offer", po.OfferID)
		}
		return n.fail(m, protocol.CodeOf(err), err)
	}
	decision.Commit(n.now())

	if err := m.advance(StateComplete); err != nil {
		return n.fail(m, protocol.CodeNetworkError, err)
	}
	log.Info("payment complete", "proof", receipt.ProofID, "settlement", ref.Ref)
	return &AttemptOutcome{
		State:    StateComplete,
		Receipt:  receipt,
		Response: resp2,
		Paid:     po.Amount,
	}
}

// send clones the request so the original stays replayable across attempts.
func (n *Negotiator) send(ctx context.Context, req *http.Request, proof *protocol.PaymentProof, receipt *protocol.Receipt) (*http.Response, error) {
	clone := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, protocol.WrapErr(protocol.CodeNetworkError, err, "request body not replayable")
		}
		clone.Body = body
	}
	if proof != nil {
		wire.AttachProof(clone.Header, proof, receipt)
	}
	return n.Client.Do(clone)
}

func (n *Negotiator) awaitApproval(ctx context.Context, po *protocol.PaymentOffer, intent offer.Intent) (bool, error) {
	if n.Approvals == nil {
		return false, protocol.Errorf(protocol.CodePolicyViolation,
			"amount %s requires approval but no approver is configured", po.Amount)
	}
	h := n.Approvals.create(intent.Principal, po.Counterparty, po.Amount, n.now())
	n.logger().Info("awaiting approval", "handle", h.ID, "amount", po.Amount.String())
	return n.Approvals.wait(ctx, h)
}

// awaitSettlement submits the proof and polls while the settlement is
// pending, bounded by VerifyTimeout.
func (n *Negotiator) awaitSettlement(ctx context.Context, proof *protocol.PaymentProof) (*protocol.SettlementRef, error) {
	verifyCtx := ctx
	if n.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		verifyCtx, cancel = context.WithTimeout(ctx, n.VerifyTimeout)
		defer cancel()
	}

	ref, err := n.settlement().Commit(verifyCtx, proof)
	if err != nil {
		return nil, protocol.WrapErr(protocol.CodeNetworkError, err, "settlement commit failed")
	}
	if !ref.Pending {
		return ref, nil
	}

	interval := n.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-verifyCtx.Done():
			return nil, protocol.WrapErr(protocol.CodeTimeout, verifyCtx.Err(), "settlement not confirmed in time")
		case <-ticker.C:
			status, err := n.settlement().Status(verifyCtx, ref.Ref)
			if err != nil {
				return nil, protocol.WrapErr(protocol.CodeNetworkError, err, "settlement status poll failed")
			}
			switch status {
			case SettlementConfirmed:
				ref.Pending = false
				return ref, nil
			case SettlementFailed:
				return nil, protocol.Errorf(protocol.CodeNetworkError, "settlement %s failed", ref.Ref)
			}
		}
	}
}

// proofRejected decodes the seller's structured invalid-proof body.
func (n *Negotiator) proofRejected(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return protocol.Errorf(protocol.CodeInsufficientAmount, "proof rejected, body unreadable")
	}
	body, perr := wire.ParseErrorBody(raw)
	if perr != nil || body.Code == "" {
		return protocol.Errorf(protocol.CodeInsufficientAmount, "proof rejected without diagnostic body")
	}
	e := protocol.Errorf(body.Code, "%s", body.Message)
	if body.RequiredAmount != "" {
		e = e.WithDiag("required_amount", body.RequiredAmount)
	}
	if body.ReceivedAmount != "" {
		e = e.WithDiag("received_amount", body.ReceivedAmount)
	}
	return e
}

func (n *Negotiator) voidProof(proof *protocol.PaymentProof) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Signer.Void(ctx, proof); err != nil {
		n.logger().Warn("proof void failed", "offer", proof.OfferID, "err", err)
	}
}

func (n *Negotiator) fail(m *machine, code protocol.Code, err error) *AttemptOutcome {
	if !m.state.Terminal() {
		_ = m.advance(StateFailed)
	}
	if code == "" {
		code = protocol.CodeNetworkError
	}
	return &AttemptOutcome{State: StateFailed, Code: code, Reason: protocol.ReasonOf(err), Err: err}
}

// classifySendErr maps transport failures onto the taxonomy.
func classifySendErr(err error) protocol.Code {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return protocol.CodeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return protocol.CodeTimeout
	}
	if c := protocol.CodeOf(err); c != "" {
		return c
	}
	return protocol.CodeNetworkError
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func drain(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
	}
}
