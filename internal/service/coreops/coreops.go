// Package coreops owns the single ConnectionToCore this repository manages
// and bridges it to the ops HTTP surface and the Postgres-backed
// audit/status trail.
//
// Grounded on the teacher's internal/service/gateway.Registry, collapsed
// from a multi-instance map to exactly one endpoint: spec.md's Non-goals
// exclude multi-endpoint connection pooling, so there is deliberately no
// `map[string]*core.ConnectionToCore` here.
package coreops

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/szsip239/corebridge/internal/core"
	"github.com/szsip239/corebridge/internal/model"
	"github.com/szsip239/corebridge/internal/pkg/crypto"
	"github.com/szsip239/corebridge/internal/transport"
)

// Service owns the lifecycle of the one configured Core endpoint.
type Service struct {
	db     *gorm.DB
	enc    *crypto.Encryptor
	logger *zap.Logger

	requestTimeout time.Duration

	mu       sync.RWMutex
	conn     *core.ConnectionToCore
	endpoint *model.CoreEndpoint
}

// New creates a Service bound to db/enc/logger. Call LoadOrCreateEndpoint
// before Connect.
func New(db *gorm.DB, enc *crypto.Encryptor, logger *zap.Logger, requestTimeout time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, enc: enc, logger: logger, requestTimeout: requestTimeout}
}

// LoadOrCreateEndpoint loads the single CoreEndpoint row, creating it from
// hostURL/token if none exists yet.
func (s *Service) LoadOrCreateEndpoint(hostURL, token string) error {
	var ep model.CoreEndpoint
	err := s.db.First(&ep).Error
	if err == gorm.ErrRecordNotFound {
		encToken, encErr := s.enc.Encrypt(token)
		if encErr != nil {
			return fmt.Errorf("coreops: encrypt token: %w", encErr)
		}
		ep = model.CoreEndpoint{
			BaseModel:      model.BaseModel{ID: model.GenerateID(), CreatedAt: time.Now(), UpdatedAt: time.Now()},
			HostURL:        hostURL,
			EncryptedToken: encToken,
			Status:         model.CoreEndpointStatusDisconnected,
		}
		if createErr := s.db.Create(&ep).Error; createErr != nil {
			return fmt.Errorf("coreops: create endpoint: %w", createErr)
		}
	} else if err != nil {
		return fmt.Errorf("coreops: load endpoint: %w", err)
	}

	s.mu.Lock()
	s.endpoint = &ep
	s.mu.Unlock()
	return nil
}

// StatusSnapshot is the externally observable state the ops surface reports.
type StatusSnapshot struct {
	HostURL     string  `json:"hostUrl"`
	Status      string  `json:"status"`
	LastError   *string `json:"lastError,omitempty"`
	IsConnected bool    `json:"isConnected"`
}

// Status returns the current snapshot.
func (s *Service) Status() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StatusSnapshot{}
	if s.endpoint != nil {
		snap.HostURL = s.endpoint.HostURL
		snap.Status = string(s.endpoint.Status)
		snap.LastError = s.endpoint.LastError
	}
	if s.conn != nil {
		snap.IsConnected = true
	}
	return snap
}

// Connect establishes (or reuses) the connection to the configured Core
// endpoint.
func (s *Service) Connect(ctx context.Context) error {
	s.mu.Lock()
	ep := s.endpoint
	existing := s.conn
	s.mu.Unlock()

	if ep == nil {
		return fmt.Errorf("coreops: no endpoint configured")
	}
	if existing != nil {
		return existing.Connect(ctx, false, 0)
	}

	token, err := s.enc.Decrypt(ep.EncryptedToken)
	if err != nil {
		return fmt.Errorf("coreops: decrypt token: %w", err)
	}

	ws := transport.New(ep.HostURL, nil, s.logger.With(zap.String("core.host", ep.HostURL)))
	conn := core.New(ws, core.Options{
		Logger: s.logger,
		Hooks: core.Hooks{
			AfterConnectFn: func(ctx context.Context, c *core.ConnectionToCore) error {
				_, err := c.SendRequest(ctx, "authenticate", map[string]string{"token": token}, 10*time.Second)
				return err
			},
		},
	})

	conn.OnDisconnected(func(err error) { s.recordDisconnected(err) })
	conn.OnConnected(func() { s.recordConnected() })

	s.mu.Lock()
	s.conn = conn
	s.endpoint.Status = model.CoreEndpointStatusConnecting
	s.mu.Unlock()

	if err := conn.Connect(ctx, false, 0); err != nil {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		s.recordError(err)
		return err
	}
	return nil
}

// Disconnect tears down the active connection, if any.
func (s *Service) Disconnect(ctx context.Context) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		return nil
	}
	return conn.Disconnect(ctx, nil)
}

// Request proxies one ad-hoc RPC through the active connection, for
// operational probing from the ops surface.
func (s *Service) Request(ctx context.Context, command string, args any) (json.RawMessage, error) {
	s.mu.RLock()
	conn := s.conn
	timeout := s.requestTimeout
	s.mu.RUnlock()

	if conn == nil {
		return nil, fmt.Errorf("coreops: not connected")
	}
	return conn.SendRequest(ctx, command, args, timeout)
}

func (s *Service) recordConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endpoint == nil {
		return
	}
	s.endpoint.Status = model.CoreEndpointStatusConnected
	now := time.Now()
	s.endpoint.LastConnectedAt = &now
	s.endpoint.LastError = nil
	s.persistLocked()
}

func (s *Service) recordDisconnected(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endpoint == nil {
		return
	}
	s.conn = nil
	s.endpoint.Status = model.CoreEndpointStatusDisconnected
	if err != nil {
		msg := err.Error()
		s.endpoint.LastError = &msg
	}
	s.persistLocked()
}

func (s *Service) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endpoint == nil {
		return
	}
	s.endpoint.Status = model.CoreEndpointStatusError
	msg := err.Error()
	s.endpoint.LastError = &msg
	s.persistLocked()
}

// persistLocked writes the in-memory endpoint snapshot back to Postgres.
// Caller must hold s.mu.
func (s *Service) persistLocked() {
	if err := s.db.Save(s.endpoint).Error; err != nil {
		s.logger.Warn("coreops: failed to persist endpoint status", zap.Error(err))
	}
}
