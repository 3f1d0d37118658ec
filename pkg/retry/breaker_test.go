package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker("api.example.com", 3, time.Hour)

	for i := 0; i < 2; i++ {
		cb.Failure()
		assert.True(t, cb.Allow())
	}
	cb.Failure()
	assert.False(t, cb.Allow(), "open after threshold failures")
}

func TestBreakerHalfOpenAfterReset(t *testing.T) {
	cb := NewCircuitBreaker("api.example.com", 1, 10*time.Millisecond)
	cb.Failure()
	assert.False(t, cb.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.Allow(), "half-open probe allowed after reset timeout")

	cb.Success()
	assert.True(t, cb.Allow())
	cb.Failure() // counter reset by success, a single failure reopens at threshold 1
	assert.False(t, cb.Allow())
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker("api.example.com", 2, time.Hour)
	cb.Failure()
	cb.Success()
	cb.Failure()
	assert.True(t, cb.Allow(), "success resets the failure count")
}
