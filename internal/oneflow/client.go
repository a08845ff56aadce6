// Package oneflow proxies the service orchestration REST API.
//
// Requests are authenticated with the console session's engine credentials
// and bodies are validated before being forwarded unchanged.
package oneflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"fireedge.io/gateway/internal/upstream"
	"fireedge.io/gateway/models"
)

// Name is the upstream label used for metrics, logs and errors.
const Name = "oneflow"

// Client talks to the oneflow server.
type Client struct {
	rest *upstream.REST
}

// NewClient wraps a REST client rooted at the oneflow endpoint.
func NewClient(rest *upstream.REST) *Client {
	return &Client{rest: rest}
}

// Breaker returns the breaker guarding oneflow.
func (c *Client) Breaker() *upstream.Breaker {
	return c.rest.Breaker()
}

// CredentialsFor returns the basic-auth pair oneflow accepts for a session.
func CredentialsFor(s *models.Session) upstream.Credentials {
	return upstream.Credentials{Username: s.Username, Password: s.EngineToken}
}

// List returns the service pool.
func (c *Client) List(ctx context.Context, creds upstream.Credentials) (json.RawMessage, error) {
	return c.rest.Do(ctx, "service.list", http.MethodGet, "/service", creds, nil)
}

// Show returns one service.
func (c *Client) Show(ctx context.Context, creds upstream.Credentials, id string) (json.RawMessage, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	return c.rest.Do(ctx, "service.show", http.MethodGet, "/service/"+id, creds, nil)
}

// Delete removes a service.
func (c *Client) Delete(ctx context.Context, creds upstream.Credentials, id string) (json.RawMessage, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	return c.rest.Do(ctx, "service.delete", http.MethodDelete, "/service/"+id, creds, nil)
}

// Action performs a service action. body is forwarded as received.
func (c *Client) Action(ctx context.Context, creds upstream.Credentials, id string, body []byte) (json.RawMessage, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if _, err := DecodeServiceAction(body); err != nil {
		return nil, err
	}
	return c.rest.Do(ctx, "service.action", http.MethodPost, "/service/"+id+"/action", creds, body)
}

// Scale changes a role's cardinality. body is forwarded as received.
func (c *Client) Scale(ctx context.Context, creds upstream.Credentials, id string, body []byte) (json.RawMessage, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if _, err := DecodeScale(body); err != nil {
		return nil, err
	}
	return c.rest.Do(ctx, "service.scale", http.MethodPost, "/service/"+id+"/scale", creds, body)
}

// RoleAction applies a VM action to every VM of a role.
func (c *Client) RoleAction(ctx context.Context, creds upstream.Credentials, id, role string, body []byte) (json.RawMessage, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if role == "" {
		return nil, fmt.Errorf("%w: role name is required", models.ErrInvalidRequest)
	}
	if _, err := DecodeRoleAction(body); err != nil {
		return nil, err
	}
	path := "/service/" + id + "/role/" + url.PathEscape(role) + "/action"
	return c.rest.Do(ctx, "service.role_action", http.MethodPost, path, creds, body)
}

// ListTemplates returns the service template pool.
func (c *Client) ListTemplates(ctx context.Context, creds upstream.Credentials) (json.RawMessage, error) {
	return c.rest.Do(ctx, "template.list", http.MethodGet, "/service_template", creds, nil)
}

// ShowTemplate returns one service template.
func (c *Client) ShowTemplate(ctx context.Context, creds upstream.Credentials, id string) (json.RawMessage, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	return c.rest.Do(ctx, "template.show", http.MethodGet, "/service_template/"+id, creds, nil)
}

// CreateTemplate validates and registers a service template.
func (c *Client) CreateTemplate(ctx context.Context, creds upstream.Credentials, body []byte) (json.RawMessage, error) {
	if _, err := DecodeTemplate(body); err != nil {
		return nil, err
	}
	return c.rest.Do(ctx, "template.create", http.MethodPost, "/service_template", creds, body)
}

// UpdateTemplate validates and replaces a service template.
func (c *Client) UpdateTemplate(ctx context.Context, creds upstream.Credentials, id string, body []byte) (json.RawMessage, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if _, err := DecodeTemplate(body); err != nil {
		return nil, err
	}
	return c.rest.Do(ctx, "template.update", http.MethodPut, "/service_template/"+id, creds, body)
}

// DeleteTemplate removes a service template.
func (c *Client) DeleteTemplate(ctx context.Context, creds upstream.Credentials, id string) (json.RawMessage, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	return c.rest.Do(ctx, "template.delete", http.MethodDelete, "/service_template/"+id, creds, nil)
}

// InstantiateTemplate creates a service from a template. body may carry a
// merge_template with attribute overrides.
func (c *Client) InstantiateTemplate(ctx context.Context, creds upstream.Credentials, id string, body []byte) (json.RawMessage, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	req, err := DecodeInstantiate(body)
	if err != nil {
		return nil, err
	}

	action := models.ServiceActionRequest{Action: models.ActionBody{Perform: "instantiate"}}
	if len(req.MergeTemplate) > 0 {
		action.Action.Params = map[string]any{"merge_template": req.MergeTemplate}
	}
	payload, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("failed to encode instantiate action: %w", err)
	}

	return c.rest.Do(ctx, "template.instantiate", http.MethodPost, "/service_template/"+id+"/action", creds, payload)
}

func checkID(id string) error {
	n, err := strconv.Atoi(id)
	if err != nil || n < 0 {
		return fmt.Errorf("%w: invalid id %q", models.ErrInvalidRequest, id)
	}
	return nil
}
