package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinWindow(t *testing.T) {
	l := NewLimiter(2, time.Minute)
	defer l.Stop()

	assert.True(t, l.Allow("13800000000"))
	assert.True(t, l.Allow("13800000000"))
	assert.False(t, l.Allow("13800000000"))
	assert.True(t, l.Allow("13900000000"), "keys are limited independently")
}

func TestWindowSlides(t *testing.T) {
	l := NewLimiter(1, 50*time.Millisecond)
	defer l.Stop()

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	time.Sleep(80 * time.Millisecond)
	assert.True(t, l.Allow("a"))
}

func TestUnlimited(t *testing.T) {
	l := NewLimiter(0, time.Minute)
	defer l.Stop()
	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("a"))
	}
	assert.True(t, NewLimiter(1, time.Minute).Allow(""))
}
