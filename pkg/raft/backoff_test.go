package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_NextDoublesUpToMax(t *testing.T) {
	b := Backoff{Initial: 10 * time.Millisecond, Max: 100 * time.Millisecond, Multiplier: 2.0}

	assert.Equal(t, 10*time.Millisecond, b.Next())
	assert.Equal(t, 20*time.Millisecond, b.Next())
	assert.Equal(t, 40*time.Millisecond, b.Next())
	assert.Equal(t, 80*time.Millisecond, b.Next())
	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestBackoff_ResetReturnsToInitial(t *testing.T) {
	b := Backoff{Initial: 10 * time.Millisecond, Max: 100 * time.Millisecond, Multiplier: 2.0}
	b.Next()
	b.Next()
	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.Next())
}

func TestDefaultBackoff_HasSaneBounds(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, 50*time.Millisecond, b.Initial)
	assert.Equal(t, 2*time.Second, b.Max)
	assert.Equal(t, 2.0, b.Multiplier)
}
