package negotiate

import (
	"context"
	"net/http"
	"net/url"

	"github.com/agentis-labs/paygate/pkg/money"
	"github.com/agentis-labs/paygate/pkg/offer"
	"github.com/agentis-labs/paygate/pkg/protocol"
	"github.com/agentis-labs/paygate/pkg/retry"
)

// Service is the embedding surface: one call that makes an HTTP request,
// pays if challenged, and walks the fallback chain on failure.
type Service struct {
	Negotiator   *Negotiator
	Orchestrator *retry.Orchestrator

	// Fallbacks are tried in order after the request's own URL fails over.
	Fallbacks []retry.Target
}

// NewService wires a service with default orchestration.
func NewService(n *Negotiator, fallbacks []retry.Target) *Service {
	return &Service{
		Negotiator:   n,
		Orchestrator: retry.New(retry.DefaultConfig()),
		Fallbacks:    fallbacks,
	}
}

// Negotiate performs the logical request. The primary target is the
// request's own URL; configured fallbacks follow. The returned response,
// when non-nil, is the resource response and is the caller's to close.
// The PaymentResult is always non-nil and carries the full attempt log.
func (s *Service) Negotiate(ctx context.Context, req *http.Request, intent offer.Intent) (*protocol.PaymentResult, *http.Response, error) {
	targets := make([]retry.Target, 0, len(s.Fallbacks)+1)
	targets = append(targets, retry.Target{URL: req.URL.String()})
	targets = append(targets, s.Fallbacks...)

	run := func(ctx context.Context, target retry.Target, maxAmountMinor int64) *retry.Outcome {
		treq, err := s.retarget(ctx, req, target.URL)
		if err != nil {
			return &retry.Outcome{Code: protocol.CodeInvalidFormat, Err: err}
		}
		out := s.Negotiator.Run(ctx, treq, capIntent(intent, maxAmountMinor))
		return adaptOutcome(out)
	}

	result, resp := s.Orchestrator.Execute(ctx, targets, intent.BudgetCeiling.AmountMinor, run)
	if result.Status == protocol.ResultFailed {
		return result, nil, protocol.Errorf(result.Code, "%s", result.Err)
	}
	return result, resp, nil
}

// retarget rebuilds the request against a fallback URL, keeping method,
// headers and the replayable body.
func (s *Service) retarget(ctx context.Context, req *http.Request, rawURL string) (*http.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, protocol.WrapErr(protocol.CodeInvalidFormat, err, "fallback target URL")
	}
	clone := req.Clone(ctx)
	clone.URL = u
	clone.Host = u.Host
	return clone, nil
}

// capIntent folds the orchestrator's remaining budget into the per-offer
// ceiling so a single offer can never breach the overall cap.
func capIntent(intent offer.Intent, remainingMinor int64) offer.Intent {
	if remainingMinor <= 0 {
		return intent
	}
	if intent.MaxAmount.AmountMinor == 0 || intent.MaxAmount.AmountMinor > remainingMinor {
		capped := money.Money{
			AmountMinor: remainingMinor,
			Currency:    intent.MaxAmount.Currency,
			Scale:       intent.MaxAmount.Scale,
		}
		if capped.Currency == "" {
			capped.Currency = intent.BudgetCeiling.Currency
			capped.Scale = intent.BudgetCeiling.Scale
		}
		intent.MaxAmount = capped
	}
	return intent
}

func adaptOutcome(out *AttemptOutcome) *retry.Outcome {
	return &retry.Outcome{
		Success:     out.State == StateComplete,
		Code:        out.Code,
		Reason:      out.Reason,
		Err:         out.Err,
		RateLimited: out.RateLimited,
		RetryAfter:  out.RetryAfter,
		PaidMinor:   out.Paid.AmountMinor,
		Receipt:     out.Receipt,
		Response:    out.Response,
	}
}
