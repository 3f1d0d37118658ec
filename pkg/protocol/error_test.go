package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	e := Errorf(CodePolicyViolation, "daily limit reached").WithReason(PolicyReasonLimit)
	assert.Equal(t, "POLICY_VIOLATION/limit: daily limit reached", e.Error())

	e = Errorf(CodeTimeout, "no response in %s", "30s")
	assert.Equal(t, "TIMEOUT: no response in 30s", e.Error())
}

func TestCodeOfThroughChain(t *testing.T) {
	cause := errors.New("connection refused")
	e := WrapErr(CodeNetworkError, cause, "send failed")
	wrapped := fmt.Errorf("attempt 3: %w", e)

	assert.Equal(t, CodeNetworkError, CodeOf(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, Code(""), CodeOf(errors.New("untyped")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestReasonOf(t *testing.T) {
	e := Errorf(CodePolicyViolation, "off hours").WithReason(PolicyReasonTimeWindow)
	assert.Equal(t, PolicyReasonTimeWindow, ReasonOf(fmt.Errorf("wrap: %w", e)))
	assert.Equal(t, PolicyReason(""), ReasonOf(errors.New("untyped")))
}

func TestDiag(t *testing.T) {
	e := Errorf(CodeInsufficientAmount, "short").
		WithDiag("required_amount", "3.00").
		WithDiag("received_amount", "2.50")
	require.NotNil(t, e.Diag)
	assert.Equal(t, "3.00", e.Diag["required_amount"])
}

func TestTerminalAndRetryable(t *testing.T) {
	assert.True(t, CodeAlreadyUsed.Terminal())
	assert.True(t, CodeBudgetExceeded.Terminal())
	assert.False(t, CodeNetworkError.Terminal())

	assert.True(t, CodeNetworkError.Retryable())
	assert.True(t, CodeTimeout.Retryable())
	assert.False(t, CodePolicyViolation.Retryable())
}
