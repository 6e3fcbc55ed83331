package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketLimiter_AllowsBurstThenBlocks(t *testing.T) {
	limiter := NewTokenBucketLimiter(3, time.Hour)
	defer limiter.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("acme"), "request %d within burst", i)
	}
	assert.False(t, limiter.Allow("acme"))
}

func TestTokenBucketLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewTokenBucketLimiter(1, time.Hour)
	defer limiter.Close()

	assert.True(t, limiter.Allow("acme"))
	assert.False(t, limiter.Allow("acme"))
	assert.True(t, limiter.Allow("globex"))
}

func TestTokenBucketLimiter_Refills(t *testing.T) {
	limiter := NewTokenBucketLimiter(1, 10*time.Millisecond)
	defer limiter.Close()

	assert.True(t, limiter.Allow("acme"))
	assert.False(t, limiter.Allow("acme"))

	time.Sleep(25 * time.Millisecond)
	assert.True(t, limiter.Allow("acme"))
}

func TestTokenBucketLimiter_RefillCapsAtMax(t *testing.T) {
	limiter := NewTokenBucketLimiter(2, time.Millisecond)
	defer limiter.Close()

	assert.True(t, limiter.Allow("acme"))
	time.Sleep(20 * time.Millisecond)

	// Tokens refill to the cap, not beyond it
	assert.True(t, limiter.Allow("acme"))
	assert.True(t, limiter.Allow("acme"))
	assert.False(t, limiter.Allow("acme"))
}

func TestTokenBucketLimiter_CloseIsIdempotent(t *testing.T) {
	limiter := NewTokenBucketLimiter(1, time.Second)
	limiter.Close()
	limiter.Close()
}
