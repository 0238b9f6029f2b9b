// Package challenge issues short-lived replay-protection nonces bound to a
// zero-knowledge circuit type. A proof is only persisted if it carries a
// nonce this service issued and that nonce has not been consumed before.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	dErrors "attesto/pkg/domain-errors"
	"attesto/pkg/platform/audit"
	"attesto/pkg/requestcontext"

	challengemetrics "attesto/internal/challenge/metrics"
)

// CircuitType names the client-side proof circuit a nonce is bound to.
type CircuitType string

const (
	CircuitAgeProof         CircuitType = "age_proof"
	CircuitNationalityProof CircuitType = "nationality_proof"
	CircuitDocumentProof    CircuitType = "document_proof"
)

func (c CircuitType) valid() bool {
	switch c {
	case CircuitAgeProof, CircuitNationalityProof, CircuitDocumentProof:
		return true
	}
	return false
}

// Challenge is an issued nonce with its validity window.
type Challenge struct {
	Nonce       string      `json:"nonce"`
	CircuitType CircuitType `json:"circuitType"`
	ExpiresAt   time.Time   `json:"expiresAt"`
}

// Store persists nonces for their validity window and redeems them at most
// once.
type Store interface {
	Put(ctx context.Context, circuitType CircuitType, nonce string, expiresAt time.Time) error
	// Redeem removes the nonce and reports whether it was present and
	// unexpired. A second redeem of the same nonce returns false.
	Redeem(ctx context.Context, circuitType CircuitType, nonce string) (bool, error)
}

// Service issues and consumes proof challenges.
type Service struct {
	store   Store
	ttl     time.Duration
	logger  *slog.Logger
	metrics *challengemetrics.Metrics
	audit   audit.Publisher
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *challengemetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAudit(publisher audit.Publisher) Option {
	return func(s *Service) { s.audit = publisher }
}

// New builds a challenge service with the given store and nonce TTL.
func New(store Store, ttl time.Duration, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("challenge ttl must be positive")
	}
	svc := &Service{store: store, ttl: ttl, logger: slog.Default()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Issue generates an unpredictable nonce bound to the circuit type.
// Randomness failure is fatal: a predictable nonce is worse than no nonce.
func (s *Service) Issue(ctx context.Context, circuitType CircuitType) (*Challenge, error) {
	if !circuitType.valid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown circuit type %q", circuitType)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "nonce generation failed")
	}
	nonce := hex.EncodeToString(buf)
	expiresAt := requestcontext.Now(ctx).Add(s.ttl)

	if err := s.store.Put(ctx, circuitType, nonce, expiresAt); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store challenge")
	}

	if s.metrics != nil {
		s.metrics.ChallengesIssued.WithLabelValues(string(circuitType)).Inc()
	}
	if s.audit != nil {
		event := audit.Event{
			Category:  audit.CategoryOperations,
			Timestamp: requestcontext.Now(ctx),
			Action:    audit.ActionChallengeIssued,
			Reason:    string(circuitType),
			RequestID: requestcontext.RequestID(ctx),
		}
		if err := s.audit.Publish(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "audit publish failed", "action", event.Action, "error", err)
		}
	}
	return &Challenge{Nonce: nonce, CircuitType: circuitType, ExpiresAt: expiresAt}, nil
}

// Consume redeems a nonce exactly once. Unknown, expired, and already
// consumed nonces all fail identically so a caller learns nothing about
// which case occurred.
func (s *Service) Consume(ctx context.Context, circuitType CircuitType, nonce string) (bool, error) {
	if !circuitType.valid() || nonce == "" {
		return false, nil
	}
	ok, err := s.store.Redeem(ctx, circuitType, nonce)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "redeem challenge")
	}
	if s.metrics != nil {
		if ok {
			s.metrics.ChallengesConsumed.Inc()
		} else {
			s.metrics.ConsumeRejected.Inc()
		}
	}
	return ok, nil
}
