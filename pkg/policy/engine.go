package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentis-labs/paygate/pkg/money"
	"github.com/agentis-labs/paygate/pkg/protocol"
)

// Outcome of an authorization.
type Outcome string

const (
	Authorized       Outcome = "AUTHORIZED"
	Denied           Outcome = "DENIED"
	RequiresApproval Outcome = "REQUIRES_APPROVAL"
)

// Decision is the result of Authorize. An Authorized (or RequiresApproval)
// decision holds a reservation against the principal's window counters;
// exactly one of Commit or Release must be called on it.
type Decision struct {
	Outcome Outcome
	Reason  protocol.PolicyReason
	Message string

	res *reservation
}

// Err converts a denial into the typed taxonomy error.
func (d *Decision) Err() error {
	if d.Outcome != Denied {
		return nil
	}
	return protocol.Errorf(protocol.CodePolicyViolation, "%s", d.Message).WithReason(d.Reason)
}

// counter tracks one window's committed and reserved spend.
type counter struct {
	start     time.Time
	committed int64
	reserved  int64
}

// principalState is the arena record for one principal. All mutation happens
// under mu; the policy pointer is swapped atomically under the same lock.
type principalState struct {
	mu        sync.Mutex
	policy    *PolicySet
	allowlist map[string]bool
	counters  map[Window]*counter
	limiter   *rate.Limiter
	guard     *guardProgram
	loc       *time.Location
}

// Engine is the policy decision and spend-accounting core.
type Engine struct {
	mu         sync.RWMutex
	principals map[string]*principalState
	logger     *slog.Logger
}

// NewEngine creates an empty policy engine.
func NewEngine() *Engine {
	return &Engine{
		principals: make(map[string]*principalState),
		logger:     slog.Default().With("component", "policy"),
	}
}

// SetPrincipal registers or atomically replaces a principal's policy.
// The CEL guard, timezone, and velocity limiter are prepared here so the
// Authorize hot path never compiles or parses anything.
func (e *Engine) SetPrincipal(p Principal) error {
	ps := p.Policy
	loc := time.UTC
	if ps.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(ps.Timezone)
		if err != nil {
			return fmt.Errorf("policy: principal %s: bad timezone %q: %w", p.ID, ps.Timezone, err)
		}
	}

	var guard *guardProgram
	if ps.Guard != "" {
		var err error
		guard, err = compileGuard(ps.Guard)
		if err != nil {
			return fmt.Errorf("policy: principal %s: %w", p.ID, err)
		}
	}

	var limiter *rate.Limiter
	if ps.VelocityLimit > 0 {
		window := ps.VelocityWindow
		if window <= 0 {
			window = time.Minute
		}
		limiter = rate.NewLimiter(rate.Limit(float64(ps.VelocityLimit)/window.Seconds()), ps.VelocityLimit)
	}

	allow := make(map[string]bool, len(p.Allowlist))
	for _, c := range p.Allowlist {
		allow[c] = true
	}

	e.mu.Lock()
	state, ok := e.principals[p.ID]
	if !ok {
		state = &principalState{counters: make(map[Window]*counter)}
		e.principals[p.ID] = state
	}
	e.mu.Unlock()

	state.mu.Lock()
	state.policy = &ps
	state.allowlist = allow
	state.limiter = limiter
	state.guard = guard
	state.loc = loc
	state.mu.Unlock()
	return nil
}

// Authorize checks a proposed payment for a principal. The check and the
// counter reservation happen inside one critical section so concurrent
// negotiations for the same principal cannot jointly breach a limit.
//
// Check order, short-circuiting on first failure: allowlist, time window,
// per-transaction limit, velocity, periodic limits, guard expression.
// RequiresApproval (amount >= threshold) dominates a passing run.
func (e *Engine) Authorize(ctx context.Context, principalID string, amount money.Money, counterparty string, now time.Time) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	state, ok := e.principals[principalID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("policy: unknown principal %q", principalID)
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	ps := state.policy

	if ps.Currency != "" && ps.Currency != amount.Currency {
		return deny(protocol.PolicyReasonLimit,
			fmt.Sprintf("amount currency %s not denominated in policy currency %s", amount.Currency, ps.Currency)), nil
	}

	// (1) allowlist
	if !state.allowlist[counterparty] {
		return deny(protocol.PolicyReasonAllowlist,
			fmt.Sprintf("counterparty %q not on allowlist", counterparty)), nil
	}

	// (2) time window
	open, err := ps.timeWindowOpen(now)
	if err != nil {
		return nil, err
	}
	if !open {
		return deny(protocol.PolicyReasonTimeWindow,
			fmt.Sprintf("payments not allowed at %s in %s", now.In(state.loc).Format("Mon 15:04"), state.loc)), nil
	}

	// (3) per-transaction limit
	if ps.PerTransactionLimit > 0 && amount.AmountMinor > ps.PerTransactionLimit {
		return deny(protocol.PolicyReasonLimit,
			fmt.Sprintf("amount %s exceeds per-transaction limit %d", amount, ps.PerTransactionLimit)), nil
	}

	// (4) velocity. The token is taken here, inside the critical section,
	// and handed back on Release so unpaid attempts are not penalized.
	var velocityRes *rate.Reservation
	if state.limiter != nil {
		r := state.limiter.ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			if r.OK() {
				r.CancelAt(now)
			}
			return deny(protocol.PolicyReasonVelocity,
				fmt.Sprintf("velocity limit %d per %s reached", ps.VelocityLimit, ps.VelocityWindow)), nil
		}
		velocityRes = r
	}

	// (5) periodic limits, counters reset on wall-clock boundaries
	for _, w := range []Window{WindowDay, WindowWeek, WindowMonth} {
		limit, limited := ps.PeriodicLimits[w]
		if !limited || limit <= 0 {
			continue
		}
		c := state.counterFor(w, now)
		if c.committed+c.reserved+amount.AmountMinor > limit {
			if velocityRes != nil {
				velocityRes.CancelAt(now)
			}
			return deny(protocol.PolicyReasonLimit,
				fmt.Sprintf("%s limit %d would be exceeded (committed %d, reserved %d, amount %d)",
					w, limit, c.committed, c.reserved, amount.AmountMinor)), nil
		}
	}

	// (6) guard expression
	if state.guard != nil {
		ok, err := state.guard.eval(principalID, counterparty, amount, now.In(state.loc))
		if err != nil {
			// Fail closed.
			e.logger.Warn("guard evaluation failed, denying", "principal", principalID, "err", err)
			if velocityRes != nil {
				velocityRes.CancelAt(now)
			}
			return deny(protocol.PolicyReasonLimit, "guard evaluation failed"), nil
		}
		if !ok {
			if velocityRes != nil {
				velocityRes.CancelAt(now)
			}
			return deny(protocol.PolicyReasonLimit, "guard expression denied payment"), nil
		}
	}

	// Reserve in every configured window.
	res := &reservation{
		state:    state,
		amount:   amount.AmountMinor,
		now:      now,
		velocity: velocityRes,
	}
	for w := range ps.PeriodicLimits {
		c := state.counterFor(w, now)
		c.reserved += amount.AmountMinor
		res.windows = append(res.windows, w)
	}

	outcome := Authorized
	if ps.RequireApprovalAbove > 0 && amount.AmountMinor >= ps.RequireApprovalAbove {
		outcome = RequiresApproval
	}
	return &Decision{Outcome: outcome, res: res}, nil
}

// Commit converts the decision's reservation into committed spend.
// Only committed payments count toward periodic and velocity limits.
func (d *Decision) Commit(now time.Time) {
	if d.res != nil {
		d.res.commit(now)
		d.res = nil
	}
}

// Release frees the reservation after a failed or abandoned negotiation,
// returning the velocity token as well.
func (d *Decision) Release() {
	if d.res != nil {
		d.res.release()
		d.res = nil
	}
}

// Spent returns the committed spend for a principal's window. Zero if the
// principal or window is unknown.
func (e *Engine) Spent(principalID string, w Window, now time.Time) int64 {
	e.mu.RLock()
	state, ok := e.principals[principalID]
	e.mu.RUnlock()
	if !ok {
		return 0
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.counterFor(w, now).committed
}

// counterFor returns the live counter for a window, resetting it when the
// wall-clock boundary has passed. Caller holds state.mu.
func (s *principalState) counterFor(w Window, now time.Time) *counter {
	c, ok := s.counters[w]
	if !ok {
		c = &counter{start: windowStart(w, now, s.loc)}
		s.counters[w] = c
	}
	if start := windowStart(w, now, s.loc); start.After(c.start) {
		c.start = start
		c.committed = 0
	}
	return c
}

type reservation struct {
	state    *principalState
	windows  []Window
	amount   int64
	now      time.Time
	velocity *rate.Reservation
}

func (r *reservation) commit(now time.Time) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	for _, w := range r.windows {
		c := r.state.counterFor(w, now)
		c.reserved -= r.amount
		if c.reserved < 0 {
			c.reserved = 0
		}
		c.committed += r.amount
	}
}

func (r *reservation) release() {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	for _, w := range r.windows {
		if c, ok := r.state.counters[w]; ok {
			c.reserved -= r.amount
			if c.reserved < 0 {
				c.reserved = 0
			}
		}
	}
	if r.velocity != nil {
		r.velocity.CancelAt(r.now)
	}
}

func deny(reason protocol.PolicyReason, msg string) *Decision {
	return &Decision{Outcome: Denied, Reason: reason, Message: msg}
}
