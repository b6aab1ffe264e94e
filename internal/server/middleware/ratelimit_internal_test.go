package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientLimitersSweepForgetsIdleAddresses(t *testing.T) {
	t.Parallel()

	l := newClientLimiters(0.001, 1)
	t0 := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	assert.True(t, l.allow("10.0.0.1", t0))
	assert.True(t, l.allow("10.0.0.2", t0.Add(time.Hour)))
	assert.False(t, l.allow("10.0.0.2", t0.Add(time.Hour)))

	l.sweep(t0.Add(30 * time.Minute))

	l.mu.Lock()
	_, keptOld := l.buckets["10.0.0.1"]
	_, keptRecent := l.buckets["10.0.0.2"]
	l.mu.Unlock()
	assert.False(t, keptOld)
	assert.True(t, keptRecent)

	// A forgotten address starts with a full bucket again.
	assert.True(t, l.allow("10.0.0.1", t0.Add(2*time.Hour)))
}
