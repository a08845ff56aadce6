package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fireedge.io/gateway/internal/auth"
	"fireedge.io/gateway/internal/engine"
	"fireedge.io/gateway/internal/oneflow"
	"fireedge.io/gateway/internal/ratelimit"
	"fireedge.io/gateway/internal/store"
	"fireedge.io/gateway/internal/upstream"
	"fireedge.io/gateway/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type engineCall struct {
	session string
	method  string
	args    []interface{}
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []engineCall
}

func (f *fakeEngine) Call(_ context.Context, session, method string, args ...interface{}) (interface{}, error) {
	f.mu.Lock()
	f.calls = append(f.calls, engineCall{session: session, method: method, args: args})
	f.mu.Unlock()

	switch method {
	case "one.user.login":
		if session != "oneadmin:secret" && session != "oneadmin:engine-token" {
			return nil, &models.UpstreamError{Upstream: "engine", Status: http.StatusUnauthorized, Code: 0x0100, Message: "User couldn't be authenticated"}
		}
		return "engine-token", nil
	case "one.user.info":
		return map[string]interface{}{"USER": map[string]interface{}{"ID": "0", "NAME": "oneadmin"}}, nil
	case "one.vm.info":
		if args[0] == 404 {
			return nil, &models.UpstreamError{Upstream: "engine", Status: http.StatusNotFound, Code: 0x0400, Message: "Error getting virtual machine [404]."}
		}
		return map[string]interface{}{"VM": map[string]interface{}{"ID": "5", "NAME": "web"}}, nil
	case "one.vm.action":
		return args[1], nil
	}
	return nil, &models.UpstreamError{Upstream: "engine", Status: http.StatusBadRequest, Message: "unexpected " + method}
}

func (f *fakeEngine) last() engineCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type flowRequest struct {
	method, path, user, password string
	body                         []byte
}

type testServer struct {
	router *Router
	engine *fakeEngine
	flow   chan flowRequest
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	db, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := clockwork.NewRealClock()
	limiter := ratelimit.NewLimiter(ratelimit.Config{AuthFailuresPerMin: 2, RequestsPerMin: 1000, ProvisionsPerMin: 5}, clock)
	t.Cleanup(limiter.Stop)

	eng := &fakeEngine{}
	authService := auth.NewService(auth.Options{
		Secret:      "0123456789abcdef0123456789abcdef",
		SessionTTL:  time.Hour,
		RememberTTL: 24 * time.Hour,
	}, eng, store.NewSessionStore(db, clock), limiter, clock, logger)

	flow := make(chan flowRequest, 10)
	flowServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		flow <- flowRequest{method: r.Method, path: r.URL.Path, user: user, password: pass, body: body}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"DOCUMENT":{"ID":"3"}}`))
	}))
	t.Cleanup(flowServer.Close)

	rest := upstream.NewREST(oneflow.Name, flowServer.URL,
		upstream.NewHTTPClient(upstream.HTTPOptions{Timeout: 5 * time.Second, Logger: logger}),
		upstream.NewBreaker(oneflow.Name, upstream.BreakerSettings{}, logger))

	router := SetupRouter(&RouterConfig{
		DB:             db,
		Logger:         logger,
		Version:        "test",
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		Auth:           authService,
		Limiter:        limiter,
		Dispatcher:     engine.NewDispatcher(eng, engine.DefaultRegistry()),
		Engine:         upstream.NewBreaker(engine.Name, upstream.BreakerSettings{}, logger),
		OneFlow:        oneflow.NewClient(rest),
	})
	t.Cleanup(router.Close)

	return &testServer{router: router, engine: eng, flow: flow}
}

func (s *testServer) do(method, path, token string, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	w := s.do(http.MethodPost, "/api/auth", "", `{"user":"oneadmin","token":"secret"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data models.LoginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.Token)
	return resp.Data.Token
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"oneflow":"closed"`)

	w = s.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/auth", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/auth", "", `{"user":"oneadmin"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	tok := s.login(t)

	w = s.do(http.MethodGet, "/api/auth", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"oneadmin"`)

	w = s.do(http.MethodDelete, "/api/auth", tok, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/auth", tok, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRateLimited(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 2; i++ {
		w := s.do(http.MethodPost, "/api/auth", "", `{"user":"oneadmin","token":"wrong"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := s.do(http.MethodPost, "/api/auth", "", `{"user":"oneadmin","token":"secret"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decodeError(t, w).Error)
}

func TestEngineRoutes(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t)

	t.Run("info", func(t *testing.T) {
		w := s.do(http.MethodGet, "/api/vm/info/5", tok, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"data":{"VM":{"ID":"5","NAME":"web"}}}`, w.Body.String())

		call := s.engine.last()
		assert.Equal(t, "one.vm.info", call.method)
		assert.Equal(t, "oneadmin:engine-token", call.session)
		assert.Equal(t, []interface{}{5, false}, call.args)
	})

	t.Run("action takes the action before the id", func(t *testing.T) {
		w := s.do(http.MethodPut, "/api/vm/action/7", tok, `{"action":"poweroff"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"data":7}`, w.Body.String())
		assert.Equal(t, []interface{}{"poweroff", 7}, s.engine.last().args)
	})

	t.Run("backend error is forwarded", func(t *testing.T) {
		w := s.do(http.MethodGet, "/api/vm/info/404", tok, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "not_found", body.Error)
		assert.Equal(t, "Error getting virtual machine [404].", body.Message)
		assert.NotEmpty(t, body.RequestID)
	})

	t.Run("wrong method", func(t *testing.T) {
		w := s.do(http.MethodGet, "/api/vm/action/7", tok, "")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("unknown action", func(t *testing.T) {
		w := s.do(http.MethodGet, "/api/vm/explode/7", tok, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing required param", func(t *testing.T) {
		w := s.do(http.MethodPut, "/api/vm/action/7", tok, `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("body must be an object", func(t *testing.T) {
		w := s.do(http.MethodPut, "/api/vm/action/7", tok, `[1,2]`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("requires session", func(t *testing.T) {
		w := s.do(http.MethodGet, "/api/vm/info/5", "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("commands", func(t *testing.T) {
		w := s.do(http.MethodGet, "/api/commands", tok, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"method":"one.vm.action"`)
	})
}

func TestServiceRoutes(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t)

	t.Run("invalid action is rejected before forwarding", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/service/3/action", tok, `{"action":{"perform":"explode"}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Len(t, s.flow, 0)
	})

	t.Run("valid action is forwarded unchanged", func(t *testing.T) {
		payload := `{"action": {"perform": "shutdown"}}`
		w := s.do(http.MethodPost, "/api/service/3/action", tok, payload)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"data":{"DOCUMENT":{"ID":"3"}}}`, w.Body.String())

		got := <-s.flow
		assert.Equal(t, http.MethodPost, got.method)
		assert.Equal(t, "/service/3/action", got.path)
		assert.Equal(t, "oneadmin", got.user)
		assert.Equal(t, "engine-token", got.password)
		assert.Equal(t, payload, string(got.body))
	})

	t.Run("template create", func(t *testing.T) {
		payload := `{"name":"web","deployment":"straight","roles":[{"name":"frontend","vm_template":0,"cardinality":1}]}`
		w := s.do(http.MethodPost, "/api/service_template", tok, payload)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		got := <-s.flow
		assert.Equal(t, "/service_template", got.path)
		assert.Equal(t, payload, string(got.body))
	})

	t.Run("list", func(t *testing.T) {
		w := s.do(http.MethodGet, "/api/service", tok, "")
		require.Equal(t, http.StatusOK, w.Code)
		got := <-s.flow
		assert.Equal(t, http.MethodGet, got.method)
		assert.Equal(t, "/service", got.path)
	})
}

func TestSupportDisabled(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t)

	w := s.do(http.MethodGet, "/api/support/tickets", tok, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "support_disabled", decodeError(t, w).Error)
}
