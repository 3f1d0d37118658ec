package protocol

// Code is the failure taxonomy shared by every component. Codes are stable
// wire-level identifiers; callers branch on them, logs and error bodies carry them.
type Code string

const (
	CodeInvalidFormat        Code = "INVALID_FORMAT"
	CodePaymentExpired       Code = "PAYMENT_EXPIRED"
	CodeInsufficientAmount   Code = "INSUFFICIENT_AMOUNT"
	CodeUnsupportedMethod    Code = "UNSUPPORTED_METHOD"
	CodePolicyViolation      Code = "POLICY_VIOLATION"
	CodeAlreadyUsed          Code = "ALREADY_USED"
	CodeNetworkError         Code = "NETWORK_ERROR"
	CodeTimeout              Code = "TIMEOUT"
	CodeSigningError         Code = "SIGNING_ERROR"
	CodeBudgetExceeded       Code = "BUDGET_EXCEEDED"
	CodeAmountExceedsCeiling Code = "AMOUNT_EXCEEDS_CEILING"
)

// PolicyReason is the sub-reason carried by CodePolicyViolation.
type PolicyReason string

const (
	PolicyReasonLimit      PolicyReason = "limit"
	PolicyReasonAllowlist  PolicyReason = "allowlist"
	PolicyReasonTimeWindow PolicyReason = "time_window"
	PolicyReasonVelocity   PolicyReason = "velocity"
)

// Terminal reports whether a failure with this code aborts the whole logical
// request. Allowlist and time-window denials are terminal (a disallowed
// counterparty is disallowed everywhere); replay detection is always terminal.
// The orchestrator refines this with the policy sub-reason.
func (c Code) Terminal() bool {
	switch c {
	case CodeAlreadyUsed, CodeBudgetExceeded:
		return true
	}
	return false
}

// Retryable reports whether same-target retries are worth attempting.
func (c Code) Retryable() bool {
	switch c {
	case CodeNetworkError, CodeTimeout:
		return true
	}
	return false
}
