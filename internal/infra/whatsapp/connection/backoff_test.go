package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	domain "zapgate/internal/domain/session"
)

func testPolicy() BackoffPolicy {
	return BackoffPolicy{
		FastAttempts:    5,
		FastBase:        2 * time.Second,
		FastMax:         32 * time.Second,
		ResilienceSteps: []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
		MaxDuration:     60 * time.Minute,
	}
}

func TestNextDelayFastPhase(t *testing.T) {
	policy := testPolicy()

	expected := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
	}

	for i, want := range expected {
		delay, mode := policy.NextDelay(i + 1)
		assert.Equal(t, want, delay, "attempt %d", i+1)
		assert.Equal(t, domain.ReconnectFast, mode)
	}
}

func TestNextDelayFastPhaseCapped(t *testing.T) {
	policy := testPolicy()
	policy.FastAttempts = 8

	delay, mode := policy.NextDelay(6)
	assert.Equal(t, 32*time.Second, delay)
	assert.Equal(t, domain.ReconnectFast, mode)

	delay, _ = policy.NextDelay(8)
	assert.Equal(t, 32*time.Second, delay)
}

func TestNextDelayResiliencePhase(t *testing.T) {
	policy := testPolicy()

	delay, mode := policy.NextDelay(6)
	assert.Equal(t, time.Minute, delay)
	assert.Equal(t, domain.ReconnectResilience, mode)

	delay, _ = policy.NextDelay(7)
	assert.Equal(t, 5*time.Minute, delay)

	delay, _ = policy.NextDelay(8)
	assert.Equal(t, 15*time.Minute, delay)
}

func TestNextDelayResilienceScheduleCycles(t *testing.T) {
	policy := testPolicy()

	schedule := policy.ResilienceSteps
	for attempt := 6; attempt <= 20; attempt++ {
		delay, mode := policy.NextDelay(attempt)
		want := schedule[(attempt-policy.FastAttempts-1)%len(schedule)]
		assert.Equal(t, want, delay, "attempt %d", attempt)
		assert.Equal(t, domain.ReconnectResilience, mode)
	}

	// Primeira volta completa do ciclo após o fim da agenda
	delay, _ := policy.NextDelay(9)
	assert.Equal(t, time.Minute, delay)
	delay, _ = policy.NextDelay(10)
	assert.Equal(t, 5*time.Minute, delay)
}

func TestNextDelayClampsInvalidAttempt(t *testing.T) {
	policy := testPolicy()

	delay, mode := policy.NextDelay(0)
	assert.Equal(t, 2*time.Second, delay)
	assert.Equal(t, domain.ReconnectFast, mode)
}

func TestExhausted(t *testing.T) {
	policy := testPolicy()
	now := time.Now()

	assert.False(t, policy.Exhausted(time.Time{}, now), "fast phase never exhausts")
	assert.False(t, policy.Exhausted(now.Add(-30*time.Minute), now))
	assert.True(t, policy.Exhausted(now.Add(-60*time.Minute), now))
	assert.True(t, policy.Exhausted(now.Add(-2*time.Hour), now))
}
