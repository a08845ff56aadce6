package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"fireedge.io/gateway/models"
)

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 64 << 10

// Credentials is an HTTP basic-auth pair.
type Credentials struct {
	Username string
	Password string
}

// REST is a JSON client for one backend. Bodies are passed through as raw
// bytes so the gateway never reshapes what the backend sends or receives.
type REST struct {
	name    string
	baseURL string
	http    *retryablehttp.Client
	breaker *Breaker
}

// NewREST creates a JSON client rooted at baseURL.
func NewREST(name, baseURL string, client *retryablehttp.Client, breaker *Breaker) *REST {
	return &REST{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		breaker: breaker,
	}
}

// Name returns the backend name.
func (r *REST) Name() string {
	return r.name
}

// Breaker returns the breaker guarding this backend.
func (r *REST) Breaker() *Breaker {
	return r.breaker
}

// Do sends a request and returns the raw response body of a 2xx answer.
// Any other answer becomes a *models.UpstreamError carrying the backend's
// status and message.
func (r *REST) Do(ctx context.Context, operation, method, path string, creds Credentials, body []byte) (json.RawMessage, error) {
	var out json.RawMessage

	err := r.breaker.Do(ctx, operation, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := retryablehttp.NewRequestWithContext(withMethod(ctx, method), method, r.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if creds.Username != "" {
			req.SetBasicAuth(creds.Username, creds.Password)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		// Exhausted retries still hand back the last response.
		resp, err := r.http.Do(req)
		if resp == nil {
			if err == nil {
				err = errors.New("no response")
			}
			return fmt.Errorf("%w: %s: %w", models.ErrUpstreamUnavailable, r.name, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return &models.UpstreamError{
				Upstream: r.name,
				Status:   resp.StatusCode,
				Message:  ErrorMessage(raw, resp.StatusCode),
			}
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: %s: reading body: %v", models.ErrUpstreamUnavailable, r.name, err)
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			raw = []byte("{}")
		}
		out = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ErrorMessage extracts a human readable message from a backend error body.
// It understands {"error":{"message":...}}, {"error":...,"description":...}
// and {"message":...}; otherwise the trimmed body text is used.
func ErrorMessage(body []byte, status int) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return http.StatusText(status)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(trimmed, &doc); err == nil {
		if e, ok := doc["error"].(map[string]interface{}); ok {
			if msg, ok := e["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if desc, ok := doc["description"].(string); ok && desc != "" {
			return desc
		}
		if msg, ok := doc["message"].(string); ok && msg != "" {
			return msg
		}
		if e, ok := doc["error"].(string); ok && e != "" {
			return e
		}
	}

	return string(trimmed)
}

// ObserveCall records a backend call that does not go through a Breaker.
func ObserveCall(upstream, operation string, start time.Time, err error) {
	observe(upstream, operation, start, err)
}
