package models

import "time"

// Session is an authenticated console session.
// The plaintext session token is handed to the client once at login and only
// its HMAC hash is stored.
type Session struct {
	// ID is the session UUID.
	ID string `json:"id"`

	// TokenHash is the HMAC-SHA256 hash of the session token. Never returned.
	TokenHash string `json:"-"`

	// Username is the engine user name.
	Username string `json:"username"`

	// UserID is the engine user ID.
	UserID int `json:"user_id"`

	// EngineToken is the login token issued by the engine for this session.
	// Together with Username it authenticates every proxied call.
	EngineToken string `json:"-"`

	// SupportUser and SupportToken hold ticketing credentials once the user
	// logged into the support portal. Empty otherwise.
	SupportUser  string `json:"-"`
	SupportToken string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EngineSession returns the "user:token" string the engine expects as the
// first argument of every XML-RPC call.
func (s *Session) EngineSession() string {
	return s.Username + ":" + s.EngineToken
}

// HasSupport reports whether ticketing credentials are attached.
func (s *Session) HasSupport() bool {
	return s.SupportUser != "" && s.SupportToken != ""
}

// LoginRequest is the body of POST /api/auth.
type LoginRequest struct {
	// User is the engine user name.
	User string `json:"user" binding:"required"`

	// Token is the user's password.
	Token string `json:"token" binding:"required"`

	// Remember extends the session lifetime.
	Remember bool `json:"remember"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	Token     string    `json:"token"`
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expires_at"`
}
