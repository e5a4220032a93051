package checkout

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"go.uber.org/zap"

	"goflare.io/parfum/models"
)

var errTimeout = errors.New("checkout session request timed out")

// SessionClient creates Stripe checkout sessions. *session.Client implements it.
type SessionClient interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

var _ SessionClient = (*session.Client)(nil)

// NewStripeClient returns a session client whose requests are bounded by
// timeout and never retried.
func NewStripeClient(secretKey string, timeout time.Duration, logger *zap.Logger) *session.Client {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		LeveledLogger:     logger.Sugar(),
		MaxNetworkRetries: stripe.Int64(0),
	})
	return &session.Client{B: backend, Key: secretKey}
}

// Session is the created processor session the shopper is redirected to.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type Service struct {
	sessions SessionClient
	config   Config
	logger   *zap.Logger
}

func NewService(sessions SessionClient, config Config, logger *zap.Logger) *Service {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Service{
		sessions: sessions,
		config:   config,
		logger:   logger,
	}
}

func (s *Service) Config() Config {
	return s.config
}

// Checkout validates items and creates a processor session for them.
func (s *Service) Checkout(ctx context.Context, items []models.CartItem, cartSessionID string) (*Session, error) {
	req, err := BuildCheckoutRequest(items)
	if err != nil {
		return nil, err
	}

	subtotal := models.Cart{Items: items}.SubtotalDecimal()
	params, err := NewSessionParams(req, subtotal, cartSessionID, s.config)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}
		return nil, &SessionError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	params.Context = ctx

	start := time.Now()
	cs, err := s.sessions.New(params)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = errors.Join(errTimeout, err)
		}
		s.logger.Error("Failed to create checkout session",
			zap.String("cart_session_id", cartSessionID),
			zap.Int("line_count", len(req.Items)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, &SessionError{Err: err}
	}

	s.logger.Info("Checkout session created",
		zap.String("checkout_session_id", cs.ID),
		zap.String("cart_session_id", cartSessionID),
		zap.Int("line_count", len(req.Items)),
		zap.String("subtotal", subtotal.StringFixed(2)))

	return &Session{ID: cs.ID, URL: cs.URL}, nil
}

// Failure describes err for the shopper, with details in development.
func (s *Service) Failure(err error) Failure {
	return NewFailure(err, s.config.Development)
}
