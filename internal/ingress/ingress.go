// Package ingress exposes the single HTTP endpoint the launcher-side
// client posts optimization requests to, grounded on the same
// request/response shape common/network.py's send() expects back: 202 on
// acceptance, 401 when the payload couldn't be decrypted, 400 on an
// invalid request.
package ingress

import (
	"context"
	"io"
	"net/http"
	"os/user"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/crypto"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/dto"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/handler"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/metrics"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/queue"
)

// Server wraps the gin engine and the handler it feeds accepted requests
// to.
type Server struct {
	engine *gin.Engine
	http   *http.Server

	handler   *handler.Handler
	queueMan  *queue.ProcessingQueue
	log       zerolog.Logger
	encrypted bool
	machineID string
}

// New builds the ingress server. When encrypted is true, every request
// body must be the base64 AES-GCM ciphertext Decrypt expects; machineID is
// read once at startup via crypto.ReadMachineID by the caller.
func New(h *handler.Handler, q *queue.ProcessingQueue, log zerolog.Logger, port int, encrypted bool, machineID string) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.RecoveryWithWriter(io.Discard))

	s := &Server{
		engine:    engine,
		handler:   h,
		queueMan:  q,
		log:       log,
		encrypted: encrypted,
		machineID: machineID,
	}

	engine.POST("/", s.handleRequest)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.http = &http.Server{
		Addr:    "127.0.0.1:" + strconv.Itoa(port),
		Handler: engine,
	}
	return s
}

// Start begins serving in the background. Shutdown stops it gracefully.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("ingress listener stopped unexpectedly")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleRequest(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	if s.encrypted {
		plain, err := crypto.Decrypt(string(body), s.machineID)
		if err != nil {
			s.log.Warn().Err(err).Msg("could not decrypt request, rejecting")
			c.Status(http.StatusUnauthorized)
			return
		}
		body = plain
	}

	req, err := dto.DecodeRequest(body)
	if err != nil {
		s.log.Warn().Err(err).Msg("malformed request body")
		c.Status(http.StatusBadRequest)
		return
	}

	if !req.IsSelfRequest() {
		if u, err := user.Lookup(req.UserName); err == nil {
			if uid, err := strconv.Atoi(u.Uid); err == nil {
				req.UserID = &uid
			}
		}
		if !req.IsValid() {
			c.Status(http.StatusBadRequest)
			return
		}
		if req.PID != nil && s.queueMan.Contains(*req.PID) {
			s.log.Debug().Int("pid", *req.PID).Msg("request already queued, skipping")
			c.Status(http.StatusAccepted)
			return
		}
		if req.PID != nil {
			s.queueMan.AddPID(*req.PID)
		}
	}

	if req.CreatedAt == 0 {
		req.CreatedAt = float64(time.Now().UnixNano()) / 1e9
	}

	go s.handler.Handle(context.Background(), req)

	c.Status(http.StatusAccepted)
}
