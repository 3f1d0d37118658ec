// Package retry drives backoff and service substitution around failed
// negotiation attempts. It owns the Attempt log and the caller's overall
// budget ceiling; per-attempt policy lives in pkg/policy.
package retry

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentis-labs/paygate/pkg/protocol"
)

// Target is one service/price tier in the fallback chain. Targets are
// configured cheapest-substitute-next: when a target is rejected on amount
// or policy grounds the orchestrator moves down the list.
type Target struct {
	URL string `yaml:"url" json:"url"`

	// FloorMinor is the target's known minimum price in minor units, used
	// to refuse attempts that would breach the budget ceiling before any
	// traffic is sent. Zero means unknown.
	FloorMinor int64 `yaml:"floor_minor" json:"floor_minor"`
}

// Outcome is the classified result of one attempt, supplied by the runner.
type Outcome struct {
	Success     bool
	Code        protocol.Code
	Reason      protocol.PolicyReason
	Err         error
	RateLimited bool
	RetryAfter  time.Duration
	PaidMinor   int64
	Receipt     *protocol.Receipt
	Response    *http.Response
}

// Runner executes one negotiation attempt against a target with the given
// remaining per-offer ceiling.
type Runner func(ctx context.Context, target Target, maxAmountMinor int64) *Outcome

// Config tunes the orchestrator.
type Config struct {
	// MaxRetries caps same-target retries after the initial attempt.
	MaxRetries int
	// BaseDelay seeds exponential backoff; MaxDelay caps a single delay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter is added to every exponential delay.
	Jitter time.Duration
	// LinearStep paces rate-limited retries absent a Retry-After hint.
	LinearStep time.Duration

	BreakerThreshold int
	BreakerReset     time.Duration
}

// DefaultConfig matches the documented backoff table: 3 retries, 2s base.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		BaseDelay:        2 * time.Second,
		MaxDelay:         30 * time.Second,
		Jitter:           250 * time.Millisecond,
		LinearStep:       time.Second,
		BreakerThreshold: 5,
		BreakerReset:     30 * time.Second,
	}
}

// Orchestrator coordinates attempts across the fallback chain for many
// concurrent logical requests. Breakers are shared per target URL.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	// Sleep is injectable for tests. Defaults to a ctx-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	Clock func() time.Time

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.MaxRetries == 0 {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		cfg:      cfg,
		logger:   slog.Default().With("component", "retry"),
		breakers: make(map[string]*CircuitBreaker),
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) breaker(target string) *CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.breakers[target]
	if !ok {
		b = NewCircuitBreaker(target, o.cfg.BreakerThreshold, o.cfg.BreakerReset)
		o.breakers[target] = b
	}
	return b
}

// Execute walks the fallback chain for one logical request. ceilingMinor
// bounds cumulative committed spend across every attempt; zero means
// unbounded. The returned response, when non-nil, is the successful
// resource response and is the caller's to close.
func (o *Orchestrator) Execute(ctx context.Context, targets []Target, ceilingMinor int64, run Runner) (*protocol.PaymentResult, *http.Response) {
	var (
		attempts       []protocol.Attempt
		committedMinor int64
		lastCode       = protocol.CodeNetworkError
		lastErr        error
	)

	record := func(target, strategy string, out *Outcome, started time.Time) {
		a := protocol.Attempt{
			ID:        uuid.New().String(),
			Target:    target,
			Strategy:  strategy,
			Timestamp: started,
			Elapsed:   o.now().Sub(started),
		}
		if out != nil {
			a.Outcome = out.Code
			if out.Success {
				a.Outcome = ""
			}
			if out.Err != nil {
				a.Err = out.Err.Error()
			}
		}
		attempts = append(attempts, a)
	}

	fail := func(code protocol.Code, err error) *protocol.PaymentResult {
		res := &protocol.PaymentResult{Status: protocol.ResultFailed, Attempts: attempts, Code: code}
		if err != nil {
			res.Err = err.Error()
		}
		return res
	}

	for ti := 0; ti < len(targets); ti++ {
		target := targets[ti]
		strategy := StrategyInitial
		if ti > 0 {
			strategy = StrategyFallback
		}

		// Budget pre-check: never start an attempt whose offer would
		// breach the overall ceiling.
		if ceilingMinor > 0 {
			remaining := ceilingMinor - committedMinor
			if remaining <= 0 || (target.FloorMinor > 0 && target.FloorMinor > remaining) {
				o.logger.Info("skipping target over budget ceiling",
					"target", target.URL, "remaining", ceilingMinor-committedMinor, "floor", target.FloorMinor)
				lastCode = protocol.CodeBudgetExceeded
				lastErr = protocol.Errorf(protocol.CodeBudgetExceeded,
					"target %s floor %d exceeds remaining budget %d", target.URL, target.FloorMinor, ceilingMinor-committedMinor)
				continue
			}
		}

		if !o.breaker(target.URL).Allow() {
			lastCode = protocol.CodeNetworkError
			lastErr = protocol.Errorf(protocol.CodeNetworkError, "circuit open for %s", target.URL)
			record(target.URL, strategy, &Outcome{Code: lastCode, Err: lastErr}, o.now())
			continue
		}

		retries := 0
		for {
			if err := ctx.Err(); err != nil {
				record(target.URL, strategy, &Outcome{Code: protocol.CodeTimeout, Err: err}, o.now())
				return fail(protocol.CodeTimeout, err), nil
			}

			maxAmount := int64(0) // unbounded marker; runner applies its own intent ceiling
			if ceilingMinor > 0 {
				maxAmount = ceilingMinor - committedMinor
			}

			started := o.now()
			out := run(ctx, target, maxAmount)
			record(target.URL, strategy, out, started)

			if out.Success {
				o.breaker(target.URL).Success()
				committedMinor += out.PaidMinor
				return &protocol.PaymentResult{
					Status:   protocol.ResultPaid,
					Receipt:  out.Receipt,
					Attempts: attempts,
				}, out.Response
			}
			lastCode, lastErr = out.Code, out.Err

			switch classify(out) {
			case classTerminal:
				o.logger.Info("terminal failure, no fallback", "target", target.URL, "code", out.Code, "reason", out.Reason)
				return fail(out.Code, out.Err), nil

			case classRetrySameTarget:
				o.breaker(target.URL).Failure()
				if retries >= o.cfg.MaxRetries {
					// Transient failures exhaust into a terminal outcome,
					// not a fallback.
					return fail(out.Code, out.Err), nil
				}
				var delay time.Duration
				if out.RateLimited {
					strategy = StrategyLinear
					delay = linearDelay(o.cfg.LinearStep, retries, out.RetryAfter)
				} else {
					strategy = StrategyExponential
					delay = backoffDelay(o.cfg.BaseDelay, o.cfg.MaxDelay, retries, o.cfg.Jitter)
				}
				if err := o.sleep(ctx, delay); err != nil {
					return fail(protocol.CodeTimeout, err), nil
				}
				retries++
				continue

			default: // classNextTarget
				o.logger.Info("switching fallback target", "from", target.URL, "code", out.Code)
			}
			break // next target, retry count resets with the loop
		}
	}

	if lastErr == nil {
		lastErr = protocol.Errorf(lastCode, "no fallback targets remaining")
	}
	return fail(lastCode, lastErr), nil
}

type failureClass int

const (
	classNextTarget failureClass = iota
	classRetrySameTarget
	classTerminal
)

// classify maps an attempt outcome onto the strategy table. Allowlist and
// time-window denials are terminal everywhere; replay detection and budget
// exhaustion always are; transient transport failures retry in place;
// everything else moves down the fallback chain.
func classify(out *Outcome) failureClass {
	if out.RateLimited {
		return classRetrySameTarget
	}
	switch out.Code {
	case protocol.CodeNetworkError, protocol.CodeTimeout:
		return classRetrySameTarget
	case protocol.CodeAlreadyUsed, protocol.CodeBudgetExceeded:
		return classTerminal
	case protocol.CodePolicyViolation:
		if out.Reason == protocol.PolicyReasonAllowlist || out.Reason == protocol.PolicyReasonTimeWindow {
			return classTerminal
		}
		return classNextTarget
	}
	return classNextTarget
}
