package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("anything-else"))
}

func TestDefaultDisplayFallsBackWhenUnset(t *testing.T) {
	t.Setenv("DISPLAY", "")
	assert.Equal(t, ":0", defaultDisplay())

	t.Setenv("DISPLAY", ":42")
	assert.Equal(t, ":42", defaultDisplay())
}

func TestCurrentUserNameFallsBackToRoot(t *testing.T) {
	t.Setenv("USER", "")
	assert.Equal(t, "root", currentUserName())

	t.Setenv("USER", "alice")
	assert.Equal(t, "alice", currentUserName())
}

func TestNowSecondsIsPositiveAndMonotonicEnough(t *testing.T) {
	a := nowSeconds()
	b := nowSeconds()
	assert.GreaterOrEqual(t, b, a)
	assert.Greater(t, a, 0.0)
}
