package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"fireedge.io/gateway/models"
)

// SessionStore persists console sessions.
type SessionStore struct {
	db     *sql.DB
	clock  clockwork.Clock
	sealer *sealer
}

// SessionOption configures a SessionStore.
type SessionOption func(*SessionStore)

// WithSealedCredentials encrypts the engine and support tokens of every
// session with a key derived from secret. Without it they are stored as is.
func WithSealedCredentials(secret string) SessionOption {
	return func(s *SessionStore) {
		s.sealer = newSealer(secret)
	}
}

// NewSessionStore creates a SessionStore.
//
// Parameters:
//   - db: open store database
//   - clock: time source for expiry checks
//   - opts: optional behaviour such as WithSealedCredentials
func NewSessionStore(db *sql.DB, clock clockwork.Clock, opts ...SessionOption) *SessionStore {
	s := &SessionStore{db: db, clock: clock}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts s, assigning ID and CreatedAt when unset.
func (s *SessionStore) Create(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.clock.Now().UTC()
	}

	engineToken, err := s.sealer.seal(sess.EngineToken)
	if err != nil {
		return err
	}
	supportToken, err := s.sealer.seal(sess.SupportToken)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, token_hash, username, user_id, engine_token,
			support_user, support_token, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.TokenHash, sess.Username, sess.UserID, engineToken,
		sess.SupportUser, supportToken, toMillis(sess.CreatedAt), toMillis(sess.ExpiresAt),
	)
	return wrapErr(err)
}

// GetByTokenHash returns the session with the given token hash.
// Expired sessions are deleted and reported as models.ErrInvalidToken.
func (s *SessionStore) GetByTokenHash(ctx context.Context, hash string) (*models.Session, error) {
	var (
		sess               models.Session
		created, expiresAt int64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, token_hash, username, user_id, engine_token,
			support_user, support_token, created_at, expires_at
		FROM sessions
		WHERE token_hash = ?
		LIMIT 1`, hash).Scan(
		&sess.ID, &sess.TokenHash, &sess.Username, &sess.UserID, &sess.EngineToken,
		&sess.SupportUser, &sess.SupportToken, &created, &expiresAt,
	)
	if err != nil {
		return nil, wrapErr(err)
	}

	sess.CreatedAt = fromMillis(created)
	sess.ExpiresAt = fromMillis(expiresAt)


	if !s.clock.Now().Before(sess.ExpiresAt) {
		if err := s.Delete(ctx, sess.ID); err != nil {
			return nil, err
		}
		return nil, models.ErrInvalidToken
	}

	if sess.EngineToken, err = s.sealer.open(sess.EngineToken); err != nil {
		return nil, err
	}
	if sess.SupportToken, err = s.sealer.open(sess.SupportToken); err != nil {
		return nil, err
	}

	return &sess, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return wrapErr(err)
}

// SetSupport attaches ticketing credentials to a session.
func (s *SessionStore) SetSupport(ctx context.Context, id, user, tok string) error {
	sealed, err := s.sealer.seal(tok)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET support_user = ?, support_token = ? WHERE id = ?`, user, sealed, id)
	if err != nil {
		return wrapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// PruneExpired deletes expired sessions and returns how many were removed.
func (s *SessionStore) PruneExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`, toMillis(s.clock.Now()))
	if err != nil {
		return 0, wrapErr(err)
	}
	return res.RowsAffected()
}

// CountActive returns the number of unexpired sessions.
func (s *SessionStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE expires_at > ?`, toMillis(s.clock.Now())).Scan(&n)
	return n, wrapErr(err)
}
