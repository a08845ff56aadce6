// Package engine proxies requests to the orchestration engine's XML-RPC API.
//
// Every engine method takes the caller's session string ("user:token") as
// its first argument and answers with an array whose first element reports
// success. The package turns that convention into Go errors and exposes a
// declarative command registry used by the HTTP layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/rpc"
	"strings"
	"time"

	"github.com/kolo/xmlrpc"
	"go.uber.org/zap"

	"fireedge.io/gateway/internal/logging"
	"fireedge.io/gateway/internal/upstream"
	"fireedge.io/gateway/models"
)

// Name is the upstream label used for metrics, logs and errors.
const Name = "engine"

// Caller performs one engine call. Client implements it.
type Caller interface {
	Call(ctx context.Context, session, method string, args ...interface{}) (interface{}, error)
}

// Options configures a Client.
type Options struct {
	Endpoint string
	Timeout  time.Duration
	Breaker  *upstream.Breaker
	Logger   *zap.Logger
}

// Client talks XML-RPC to the engine.
type Client struct {
	endpoint  string
	transport http.RoundTripper
	breaker   *upstream.Breaker
	logger    *zap.Logger
}

// NewClient creates an engine client.
func NewClient(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("engine endpoint is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Breaker == nil {
		opts.Breaker = upstream.NewBreaker(Name, upstream.BreakerSettings{}, opts.Logger)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
	}

	return &Client{
		endpoint:  opts.Endpoint,
		transport: transport,
		breaker:   opts.Breaker,
		logger:    opts.Logger.With(zap.String(logging.FieldUpstream, Name)),
	}, nil
}

// Breaker returns the breaker guarding the engine.
func (c *Client) Breaker() *upstream.Breaker {
	return c.breaker
}

// Call invokes method with the session prepended to args and returns the
// decoded body of a successful response. XML bodies come back as maps.
func (c *Client) Call(ctx context.Context, session, method string, args ...interface{}) (interface{}, error) {
	var result interface{}

	err := c.breaker.Do(ctx, method, func(ctx context.Context) error {
		reply, err := c.invoke(ctx, method, append([]interface{}{session}, args...))
		if err != nil {
			return err
		}
		result, err = parseResponse(reply)
		return err
	})
	if err != nil {
		logging.FromContext(ctx).Debug("engine call failed",
			zap.String(logging.FieldCommand, method),
			zap.Error(err))
		return nil, err
	}

	return result, nil
}

// contextTransport binds every request of one call to the caller's context.
// xmlrpc performs the round trip inside the codec, so this is the only place
// where cancellation reaches the HTTP request.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// invoke runs a single XML-RPC request. The net/rpc client underneath
// serialises requests, so each call gets its own.
func (c *Client) invoke(ctx context.Context, method string, params []interface{}) ([]interface{}, error) {
	client, err := xmlrpc.NewClient(c.endpoint, contextTransport{ctx: ctx, base: c.transport})
	if err != nil {
		return nil, fmt.Errorf("failed to create xmlrpc client: %w", err)
	}
	defer client.Close()

	var reply []interface{}
	call := client.Go(method, params, &reply, nil)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-call.Done:
	}

	// A cancelled round trip surfaces as a transport error.
	if call.Error != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if call.Error != nil {
		// XML-RPC faults (bad signature, unknown method) arrive as server
		// errors; bad HTTP statuses and read failures do too, but without
		// the fault prefix.
		var serverErr rpc.ServerError
		if errors.As(call.Error, &serverErr) && strings.HasPrefix(string(serverErr), "Fault(") {
			return nil, &models.UpstreamError{
				Upstream: Name,
				Status:   http.StatusBadRequest,
				Message:  string(serverErr),
			}
		}
		return nil, fmt.Errorf("%w: %s: %w", models.ErrUpstreamUnavailable, Name, call.Error)
	}

	return reply, nil
}
