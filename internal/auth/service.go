// Package auth logs users in against the engine and manages console sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"fireedge.io/gateway/internal/engine"
	"fireedge.io/gateway/internal/logging"
	"fireedge.io/gateway/internal/metrics"
	"fireedge.io/gateway/internal/ratelimit"
	"fireedge.io/gateway/models"
	"fireedge.io/gateway/pkg/token"
)

// SessionStore persists sessions.
type SessionStore interface {
	Create(ctx context.Context, sess *models.Session) error
	GetByTokenHash(ctx context.Context, hash string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
	PruneExpired(ctx context.Context) (int64, error)
	CountActive(ctx context.Context) (int, error)
}

// Options configures a Service.
type Options struct {
	// Secret keys the HMAC of stored session tokens.
	Secret string

	SessionTTL  time.Duration
	RememberTTL time.Duration
}

// Service implements login, session lookup and logout.
type Service struct {
	opts     Options
	engine   engine.Caller
	sessions SessionStore
	limiter  *ratelimit.Limiter
	clock    clockwork.Clock
	logger   *zap.Logger
}

// NewService creates an auth service. limiter may be nil to disable
// failed-login throttling.
func NewService(opts Options, caller engine.Caller, sessions SessionStore, limiter *ratelimit.Limiter, clock clockwork.Clock, logger *zap.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		opts:     opts,
		engine:   caller,
		sessions: sessions,
		limiter:  limiter,
		clock:    clock,
		logger:   logger.With(zap.String(logging.FieldComponent, "auth")),
	}
}

// Login authenticates user and password against the engine, obtains an
// engine login token valid for the session lifetime and opens a session.
// The plaintext session token is only ever returned here.
func (s *Service) Login(ctx context.Context, req models.LoginRequest, clientIP string) (*models.LoginResponse, error) {
	limitKey := ratelimit.BuildKey(clientIP, ratelimit.LimitTypeAuthFailure)
	if s.limiter != nil {
		if exhausted, retryAfter := s.limiter.Exhausted(limitKey, ratelimit.LimitTypeAuthFailure); exhausted {
			metrics.Logins.WithLabelValues("rate_limited").Inc()
			return nil, &models.RateLimitError{RetryAfter: retryAfter}
		}
	}

	ttl := s.opts.SessionTTL
	if req.Remember {
		ttl = s.opts.RememberTTL
	}

	result, err := s.engine.Call(ctx, req.User+":"+req.Token, "one.user.login",
		req.User, "", int(ttl.Seconds()), -1)
	if err != nil {
		return nil, s.loginFailed(ctx, req.User, limitKey, err)
	}
	engineToken, ok := result.(string)
	if !ok || engineToken == "" {
		return nil, fmt.Errorf("%w: engine returned no login token", models.ErrInternalError)
	}

	session := req.User + ":" + engineToken
	info, err := s.engine.Call(ctx, session, "one.user.info", -1, false)
	if err != nil {
		return nil, s.loginFailed(ctx, req.User, limitKey, err)
	}
	userID, name, err := parseUser(info)
	if err != nil {
		return nil, err
	}

	plaintext, err := token.Generate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInternalError, err)
	}

	now := s.clock.Now()
	sess := &models.Session{
		ID:          uuid.NewString(),
		TokenHash:   token.Hash(plaintext, s.opts.Secret),
		Username:    name,
		UserID:      userID,
		EngineToken: engineToken,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	if s.limiter != nil {
		s.limiter.Reset(limitKey)
	}
	metrics.Logins.WithLabelValues("success").Inc()
	logging.FromContext(ctx).Info("user logged in",
		zap.String(logging.FieldUser, name),
		zap.String(logging.FieldSessionID, sess.ID))

	return &models.LoginResponse{
		Token:     plaintext,
		ID:        userID,
		Name:      name,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// loginFailed counts rejected credentials against the client's budget.
// Backend outages are passed through untouched.
func (s *Service) loginFailed(ctx context.Context, user, limitKey string, err error) error {
	ue, ok := models.AsUpstream(err)
	if !ok || (ue.Status != http.StatusUnauthorized && ue.Status != http.StatusForbidden) {
		return err
	}

	if s.limiter != nil {
		s.limiter.Allow(limitKey, ratelimit.LimitTypeAuthFailure)
	}
	metrics.Logins.WithLabelValues("failure").Inc()
	logging.FromContext(ctx).Warn("login rejected",
		zap.String(logging.FieldUser, user),
		zap.String(logging.FieldError, ue.Message))

	return fmt.Errorf("%w: invalid username or password", models.ErrUnauthorized)
}

// parseUser reads ID and NAME from a one.user.info document.
func parseUser(info interface{}) (int, string, error) {
	doc, _ := info.(map[string]interface{})
	user, _ := doc["USER"].(map[string]interface{})
	if user == nil {
		return 0, "", fmt.Errorf("%w: unexpected user document", models.ErrInternalError)
	}

	idText, _ := user["ID"].(string)
	id, err := strconv.Atoi(idText)
	if err != nil {
		return 0, "", fmt.Errorf("%w: invalid user id %q", models.ErrInternalError, idText)
	}
	name, _ := user["NAME"].(string)
	if name == "" {
		return 0, "", fmt.Errorf("%w: user document has no name", models.ErrInternalError)
	}
	return id, name, nil
}

// Authenticate resolves a bearer token to its session.
func (s *Service) Authenticate(ctx context.Context, plaintext string) (*models.Session, error) {
	if err := token.ValidateLength(plaintext); err != nil {
		return nil, models.ErrInvalidToken
	}

	sess, err := s.sessions.GetByTokenHash(ctx, token.Hash(plaintext, s.opts.Secret))
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrInvalidToken):
		return nil, models.ErrInvalidToken
	case err != nil:
		return nil, err
	}

	if !token.Validate(plaintext, s.opts.Secret, sess.TokenHash) {
		return nil, models.ErrInvalidToken
	}
	return sess, nil
}

// Logout closes the session and expires its engine login token.
func (s *Service) Logout(ctx context.Context, sess *models.Session) error {
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		return err
	}

	// A zero period revokes the token; failure only delays its natural expiry.
	if _, err := s.engine.Call(ctx, sess.EngineSession(), "one.user.login",
		sess.Username, sess.EngineToken, 0, -1); err != nil {
		logging.FromContext(ctx).Warn("failed to revoke engine token",
			zap.String(logging.FieldUser, sess.Username),
			zap.Error(err))
	}

	logging.FromContext(ctx).Info("user logged out",
		zap.String(logging.FieldUser, sess.Username),
		zap.String(logging.FieldSessionID, sess.ID))
	return nil
}

// Prune deletes expired sessions and refreshes the active-session gauge.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	n, err := s.sessions.PruneExpired(ctx)
	if err != nil {
		return 0, err
	}
	if active, err := s.sessions.CountActive(ctx); err == nil {
		metrics.ActiveSessions.Set(float64(active))
	}
	if n > 0 {
		s.logger.Info("pruned expired sessions", zap.Int64("count", n))
	}
	return n, nil
}
