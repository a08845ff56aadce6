// Package support proxies a Zendesk-style ticketing API on behalf of the
// logged-in console user.
package support

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"fireedge.io/gateway/internal/upstream"
	"fireedge.io/gateway/models"
)

// Name is the upstream label used for metrics, logs and errors.
const Name = "support"

// SessionWriter persists ticketing credentials on a console session.
type SessionWriter interface {
	SetSupport(ctx context.Context, id, user, token string) error
}

// Client talks to the ticketing API. A nil Client means support is disabled.
type Client struct {
	rest     *upstream.REST
	sessions SessionWriter
}

// NewClient creates a ticketing client.
func NewClient(rest *upstream.REST, sessions SessionWriter) *Client {
	return &Client{rest: rest, sessions: sessions}
}

// Enabled reports whether the integration is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.rest != nil
}

// Breaker returns the breaker guarding the ticketing API, or nil.
func (c *Client) Breaker() *upstream.Breaker {
	if !c.Enabled() {
		return nil
	}
	return c.rest.Breaker()
}

// Credentials returns the API-token basic-auth pair for an email address.
func Credentials(email, token string) upstream.Credentials {
	return upstream.Credentials{Username: email + "/token", Password: token}
}

func (c *Client) credentials(s *models.Session) (upstream.Credentials, error) {
	if !c.Enabled() {
		return upstream.Credentials{}, models.ErrSupportDisabled
	}
	if !s.HasSupport() {
		return upstream.Credentials{}, models.ErrSupportNotLogged
	}
	return Credentials(s.SupportUser, s.SupportToken), nil
}

// Login checks the credentials against the ticketing API and stores them on
// the session. It returns the ticketing user document.
func (c *Client) Login(ctx context.Context, s *models.Session, req models.SupportLoginRequest) (json.RawMessage, error) {
	if !c.Enabled() {
		return nil, models.ErrSupportDisabled
	}

	raw, err := c.rest.Do(ctx, "login", http.MethodGet, "/api/v2/users/me.json",
		Credentials(req.User, req.Token), nil)
	if err != nil {
		return nil, err
	}

	// Rejected credentials still answer 200 with an anonymous user.
	var me struct {
		User struct {
			ID *int64 `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(raw, &me); err != nil || me.User.ID == nil {
		return nil, &models.UpstreamError{
			Upstream: Name,
			Status:   http.StatusUnauthorized,
			Message:  "Couldn't authenticate you",
		}
	}

	if err := c.sessions.SetSupport(ctx, s.ID, req.User, req.Token); err != nil {
		return nil, fmt.Errorf("failed to store support credentials: %w", err)
	}
	s.SupportUser, s.SupportToken = req.User, req.Token

	return raw, nil
}

// Logout forgets the ticketing credentials of a session.
func (c *Client) Logout(ctx context.Context, s *models.Session) error {
	if !c.Enabled() {
		return models.ErrSupportDisabled
	}
	if err := c.sessions.SetSupport(ctx, s.ID, "", ""); err != nil {
		return fmt.Errorf("failed to clear support credentials: %w", err)
	}
	s.SupportUser, s.SupportToken = "", ""
	return nil
}

// ListTickets returns the requests opened by the user.
func (c *Client) ListTickets(ctx context.Context, s *models.Session) (json.RawMessage, error) {
	creds, err := c.credentials(s)
	if err != nil {
		return nil, err
	}
	return c.rest.Do(ctx, "tickets.list", http.MethodGet, "/api/v2/requests.json?sort_by=updated_at&sort_order=desc", creds, nil)
}

// Ticket is a request together with its conversation.
type Ticket struct {
	Request  json.RawMessage `json:"request"`
	Comments json.RawMessage `json:"comments"`
}

// ShowTicket returns one request and its comments.
func (c *Client) ShowTicket(ctx context.Context, s *models.Session, id string) (*Ticket, error) {
	creds, err := c.credentials(s)
	if err != nil {
		return nil, err
	}
	if err := checkID(id); err != nil {
		return nil, err
	}

	rawReq, err := c.rest.Do(ctx, "tickets.show", http.MethodGet, "/api/v2/requests/"+id+".json", creds, nil)
	if err != nil {
		return nil, err
	}
	rawComments, err := c.rest.Do(ctx, "tickets.comments", http.MethodGet, "/api/v2/requests/"+id+"/comments.json", creds, nil)
	if err != nil {
		return nil, err
	}

	var req struct {
		Request json.RawMessage `json:"request"`
	}
	var comments struct {
		Comments json.RawMessage `json:"comments"`
	}
	if err := json.Unmarshal(rawReq, &req); err != nil {
		return nil, badPayload(err)
	}
	if err := json.Unmarshal(rawComments, &comments); err != nil {
		return nil, badPayload(err)
	}
	if len(comments.Comments) == 0 {
		comments.Comments = json.RawMessage("[]")
	}

	return &Ticket{Request: req.Request, Comments: comments.Comments}, nil
}

type comment struct {
	Body    string   `json:"body"`
	Uploads []string `json:"uploads,omitempty"`
}

// CreateTicket opens a request. The severity is sent as a tag and the
// product version is recorded in the first comment.
func (c *Client) CreateTicket(ctx context.Context, s *models.Session, req models.TicketCreateRequest) (json.RawMessage, error) {
	creds, err := c.credentials(s)
	if err != nil {
		return nil, err
	}

	body := req.Body
	if req.Version != "" {
		body = fmt.Sprintf("%s\n\nVersion: %s", body, req.Version)
	}

	payload := map[string]any{
		"request": map[string]any{
			"subject": req.Subject,
			"comment": comment{Body: body, Uploads: req.Attachments},
			"tags":    []string{req.Severity},
		},
	}
	return c.send(ctx, "tickets.create", http.MethodPost, "/api/v2/requests.json", creds, payload)
}

// UpdateTicket adds a comment and optionally marks the request solved.
func (c *Client) UpdateTicket(ctx context.Context, s *models.Session, id string, req models.TicketUpdateRequest) (json.RawMessage, error) {
	creds, err := c.credentials(s)
	if err != nil {
		return nil, err
	}
	if err := checkID(id); err != nil {
		return nil, err
	}

	update := map[string]any{
		"comment": comment{Body: req.Body, Uploads: req.Attachments},
	}
	if req.Solved {
		update["solved"] = true
	}
	return c.send(ctx, "tickets.update", http.MethodPut, "/api/v2/requests/"+id+".json", creds,
		map[string]any{"request": update})
}

func (c *Client) send(ctx context.Context, op, method, path string, creds upstream.Credentials, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", op, err)
	}
	return c.rest.Do(ctx, op, method, path, creds, raw)
}

func checkID(id string) error {
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return fmt.Errorf("%w: invalid ticket id %q", models.ErrInvalidRequest, id)
	}
	return nil
}

func badPayload(err error) error {
	return &models.UpstreamError{
		Upstream: Name,
		Status:   http.StatusBadGateway,
		Message:  fmt.Sprintf("unexpected ticketing response: %v", err),
	}
}
