package renicer

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestAddIsIdempotentPerPID(t *testing.T) {
	r := New(zerolog.Nop(), time.Millisecond)

	assert.True(t, r.Add(100, 1, 1))
	assert.False(t, r.Add(100, 2, 1), "a pid already registered must not be re-added")
}

func TestWatchNoopWithNothingRegistered(t *testing.T) {
	r := New(zerolog.Nop(), time.Millisecond)
	assert.False(t, r.Watch())
	assert.False(t, r.IsWatching())
}

func TestWatchStopsOnceTrackedPIDIsGone(t *testing.T) {
	const nonexistentPID = 999999

	r := New(zerolog.Nop(), time.Millisecond)
	r.Add(nonexistentPID, 0, 1)

	assert.True(t, r.Watch())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && r.IsWatching() {
		time.Sleep(5 * time.Millisecond)
	}

	assert.False(t, r.IsWatching(), "a tracked pid that was never alive must be dropped and stop the loop")
}
