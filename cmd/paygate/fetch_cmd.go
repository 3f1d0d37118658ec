package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/agentis-labs/paygate/pkg/config"
	"github.com/agentis-labs/paygate/pkg/money"
	"github.com/agentis-labs/paygate/pkg/negotiate"
	"github.com/agentis-labs/paygate/pkg/observability"
	"github.com/agentis-labs/paygate/pkg/offer"
	"github.com/agentis-labs/paygate/pkg/policy"
	"github.com/agentis-labs/paygate/pkg/retry"
	"github.com/agentis-labs/paygate/pkg/signer"
)

// runFetchCmd implements `paygate fetch`: issue the request, pay on a 402
// challenge within policy, and write the resource body to stdout or a file.
//
// Exit codes:
//
//	0 = resource fetched (paid or free)
//	1 = negotiation failed
//	2 = usage or runtime error
func runFetchCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("fetch", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		rawURL      string
		method      string
		data        string
		maxAmount   string
		currency    string
		principal   string
		profileName string
		output      string
		autoApprove bool
		jsonResult  bool
	)

	cmd.StringVar(&rawURL, "url", "", "Resource URL (REQUIRED)")
	cmd.StringVar(&method, "method", http.MethodGet, "HTTP method")
	cmd.StringVar(&data, "data", "", "Request body")
	cmd.StringVar(&maxAmount, "max", "", "Maximum amount to pay for one offer, decimal (REQUIRED)")
	cmd.StringVar(&currency, "currency", "USD", "Currency of -max, ISO 4217")
	cmd.StringVar(&principal, "principal", "", "Paying principal ID (defaults to payer identity)")
	cmd.StringVar(&profileName, "profile", "", "Deployment profile providing policy and fallbacks")
	cmd.StringVar(&output, "output", "-", "Write the resource body here, - for stdout")
	cmd.BoolVar(&autoApprove, "yes", false, "Approve above-threshold payments without prompting")
	cmd.BoolVar(&jsonResult, "json", false, "Print the payment result as JSON to stderr")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if rawURL == "" || maxAmount == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -url and -max are required")
		return 2
	}

	cfg := config.Load()
	setupLogger(cfg.LogLevel, stderr)

	maxMoney, err := money.ParseDecimal(maxAmount, currency)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: bad -max: %v\n", err)
		return 2
	}
	if principal == "" {
		principal = cfg.PayerIdentity
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout+cfg.VerifyTimeout)
	defer cancel()

	obs, err := observability.New(ctx, &observability.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "paygate",
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
		Insecure:     true,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: observability: %v\n", err)
		return 2
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	led, closeLedger, err := openLedger(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = closeLedger() }()

	key := []byte(cfg.SigningKey)
	if len(key) == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: PAYGATE_SIGNING_KEY is required")
		return 2
	}

	intent := offer.Intent{
		MaxAmount: maxMoney,
		Principal: principal,
	}

	var fallbacks []retry.Target
	methods := []string{"exact"}
	engine := policy.NewEngine()
	registered := false

	if profileName != "" {
		profile, perr := config.LoadProfile(cfg.ProfilesDir, profileName)
		if perr != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", perr)
			return 2
		}
		fallbacks = profile.Fallbacks
		if len(profile.Methods) > 0 {
			methods = profile.Methods
		}
		if profile.BudgetCeilingMinor > 0 {
			ceiling, cerr := money.New(profile.BudgetCeilingMinor, profile.BudgetCurrency)
			if cerr != nil {
				_, _ = fmt.Fprintf(stderr, "Error: profile budget: %v\n", cerr)
				return 2
			}
			intent.BudgetCeiling = ceiling
		}
		for _, pr := range profile.Principals {
			if serr := engine.SetPrincipal(pr); serr != nil {
				_, _ = fmt.Fprintf(stderr, "Error: principal %s: %v\n", pr.ID, serr)
				return 2
			}
			if pr.ID == principal {
				registered = true
			}
		}
	}
	intent.SupportedMethods = methods

	sgn := signer.NewJWSSigner(key, cfg.PayerIdentity, methods)
	approvals := negotiate.NewApprovalRegistry()
	if autoApprove {
		go approveAll(ctx, approvals)
	}

	negotiator := &negotiate.Negotiator{
		Client:        &http.Client{Timeout: cfg.HTTPTimeout},
		Policy:        engine,
		Signer:        sgn,
		Ledger:        led,
		Approvals:     approvals,
		VerifyTimeout: cfg.VerifyTimeout,
	}
	rcfg := retry.DefaultConfig()
	rcfg.MaxRetries = cfg.MaxRetries
	svc := &negotiate.Service{
		Negotiator:   negotiator,
		Orchestrator: retry.New(rcfg),
		Fallbacks:    fallbacks,
	}

	var body io.Reader
	if data != "" {
		body = strings.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), rawURL, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	// Without a profile the policy arena is empty; allowlist exactly the
	// hosts the operator named on the command line.
	if !registered {
		hosts := []string{req.URL.Host}
		for _, t := range fallbacks {
			if u, uerr := url.Parse(t.URL); uerr == nil && u.Host != "" {
				hosts = append(hosts, u.Host)
			}
		}
		if serr := engine.SetPrincipal(policy.Principal{
			ID:        principal,
			Allowlist: hosts,
			Policy:    policy.PolicySet{Currency: currency},
		}); serr != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", serr)
			return 2
		}
	}

	obsCtx, done := obs.TrackNegotiation(ctx, req.URL.Host,
		observability.NegotiationAttrs(principal, req.URL.Host, currency, maxMoney.AmountMinor)...)
	result, resp, err := svc.Negotiate(obsCtx, req, intent)
	done(err)

	if jsonResult && result != nil {
		enc := json.NewEncoder(stderr)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: negotiation failed: %v\n", err)
		return 1
	}
	if result.Receipt != nil {
		obs.RecordSpend(obsCtx, result.Receipt.Amount.AmountMinor,
			observability.AttrCurrency.String(result.Receipt.Amount.Currency))
		_, _ = fmt.Fprintf(stderr, "Paid %s to %s (proof %s)\n",
			result.Receipt.Amount, result.Receipt.Counterparty, result.Receipt.ProofID)
	}

	defer func() { _ = resp.Body.Close() }()
	out := stdout
	if output != "-" {
		f, ferr := os.Create(output)
		if ferr != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", ferr)
			return 2
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: reading resource body: %v\n", err)
		return 2
	}
	return 0
}

// approveAll resolves pending approval handles until the context ends.
func approveAll(ctx context.Context, approvals *negotiate.ApprovalRegistry) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, h := range approvals.Pending() {
				_ = approvals.Resolve(h.ID, true)
			}
		}
	}
}
