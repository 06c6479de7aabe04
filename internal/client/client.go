// Package client sends an optimization request from the launcher side to
// the daemon's ingress listener, grounded on common/network.py's send().
package client

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/crypto"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/dto"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
)

// Sender posts OptimizationRequests to a local optimusd instance.
type Sender struct {
	http      *resty.Client
	port      int
	encrypted bool
	machineID string
}

func New(port int, encrypted bool, machineID string) *Sender {
	c := resty.New().SetTimeout(10 * time.Second)
	return &Sender{http: c, port: port, encrypted: encrypted, machineID: machineID}
}

// Send encodes and posts req, logging the outcome the way the original
// client does instead of returning every transport detail to the caller:
// a connection refusal, an auth rejection and a generic failure each get
// their own log line.
func (s *Sender) Send(req *model.OptimizationRequest, log zerolog.Logger) error {
	payload, err := dto.EncodeRequest(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	contentType := "application/json"
	body := payload
	if s.encrypted {
		contentType = "application/x-www-form-urlencoded"
		encoded, err := crypto.Encrypt(payload, s.machineID)
		if err != nil {
			return fmt.Errorf("encrypting request: %w", err)
		}
		body = []byte(encoded)
	}

	pid := 0
	if req.PID != nil {
		pid = *req.PID
	}

	resp, err := s.http.R().
		SetHeader("Content-Type", contentType).
		SetBody(body).
		Post(fmt.Sprintf("http://127.0.0.1:%d/", s.port))

	if err != nil {
		log.Error().Err(err).Int("pid", pid).Msg("request could not reach the optimizer service, it may not be running")
		return err
	}

	switch resp.StatusCode() {
	case 200, 202:
		log.Debug().Int("pid", pid).Msg("request successfully sent")
	case 401:
		log.Warn().Int("pid", pid).Msg("unauthorized request, optimizations will not be performed")
	default:
		log.Error().Int("pid", pid).Int("status", resp.StatusCode()).Str("body", string(resp.Body())).Msg("unexpected response for the request")
	}
	return nil
}
