package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
)

func TestEncodeDecodeRequestRoundtrip(t *testing.T) {
	pid := 42
	req := &model.OptimizationRequest{
		PID:       &pid,
		Command:   "game",
		UserName:  "alice",
		Profile:   "default",
		CreatedAt: 1700000000,
	}

	body, err := EncodeRequest(req)
	require.NoError(t, err)

	decoded, err := DecodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, *req.PID, *decoded.PID)
	assert.Equal(t, req.Command, decoded.Command)
	assert.Equal(t, req.UserName, decoded.UserName)
	assert.Equal(t, req.Profile, decoded.Profile)
	assert.Equal(t, req.CreatedAt, decoded.CreatedAt)
}

func TestDecodeRequestRejectsMalformedBody(t *testing.T) {
	_, err := DecodeRequest([]byte("not json"))
	assert.Error(t, err)
}

func TestEncodeRequestOmitsEmptyFields(t *testing.T) {
	body, err := EncodeRequest(&model.OptimizationRequest{})
	require.NoError(t, err)
	assert.NotContains(t, string(body), `"pid"`)
	assert.NotContains(t, string(body), `"command"`)
}
