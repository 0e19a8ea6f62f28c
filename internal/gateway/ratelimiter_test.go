package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterConcurrentLimit(t *testing.T) {
	rl := NewClientRateLimiterWithLimits(100, 2)

	allowed, _ := rl.CheckRequestAllowed()
	assert.True(t, allowed)
	rl.RecordRequestStart()
	rl.RecordRequestStart()

	allowed, reason := rl.CheckRequestAllowed()
	assert.False(t, allowed)
	assert.Equal(t, "too many concurrent requests", reason)

	rl.RecordRequestEnd()
	allowed, _ = rl.CheckRequestAllowed()
	assert.True(t, allowed)
}

func TestRateLimiterPerMinuteLimit(t *testing.T) {
	rl := NewClientRateLimiterWithLimits(3, 100)

	for i := 0; i < 3; i++ {
		allowed, _ := rl.CheckRequestAllowed()
		assert.True(t, allowed)
		rl.RecordRequestStart()
		rl.RecordRequestEnd()
	}

	allowed, reason := rl.CheckRequestAllowed()
	assert.False(t, allowed)
	assert.Equal(t, "rate limit exceeded", reason)
}

func TestRateLimiterStats(t *testing.T) {
	rl := NewClientRateLimiterWithLimits(10, 10)

	rl.RecordRequestStart()
	rl.RecordRequestStart()
	rl.RecordRequestEnd()

	requests, concurrent := rl.GetStats()
	assert.Equal(t, 2, requests)
	assert.Equal(t, 1, concurrent)
}

func TestRateLimiterEndWithoutStart(t *testing.T) {
	rl := NewClientRateLimiter()
	rl.RecordRequestEnd()

	_, concurrent := rl.GetStats()
	assert.Equal(t, 0, concurrent)
}
