// Package dto encodes and decodes the wire payload optimusd's ingress
// listener and launcher-side client exchange: a json.Marshal-compatible
// OptimizationRequest, using sonic as a drop-in faster codec the way the
// pack's own message-passing code does.
package dto

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
)

// EncodeRequest marshals req the way the launcher-side client sends it:
// sets (RelatedPIDs) already serialize as plain arrays, matching the
// daemon's json.dumps(..., cls=CustomJSONEncoder) behavior without needing
// a custom encoder.
func EncodeRequest(req *model.OptimizationRequest) ([]byte, error) {
	data, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding optimization request: %w", err)
	}
	return data, nil
}

// DecodeRequest unmarshals the ingress listener's raw POST body into a
// request. UserName travels on the wire; UserID never does, so the caller
// still has to resolve and fill it.
func DecodeRequest(body []byte) (*model.OptimizationRequest, error) {
	var req model.OptimizationRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decoding optimization request: %w", err)
	}
	return &req, nil
}
