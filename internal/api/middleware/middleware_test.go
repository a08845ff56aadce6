package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"fireedge.io/gateway/internal/logging"
	"fireedge.io/gateway/internal/ratelimit"
	"fireedge.io/gateway/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const validToken = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

type fakeAuthenticator struct {
	err error
}

func (f fakeAuthenticator) Authenticate(_ context.Context, tok string) (*models.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	if tok != validToken {
		return nil, models.ErrInvalidToken
	}
	return &models.Session{ID: "sess-1", Username: "oneadmin", EngineToken: "engine"}, nil
}

func serve(router *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	var (
		fromGin *zap.Logger
		fromCtx *zap.Logger
	)
	router := gin.New()
	router.Use(RequestLogger(zap.New(core)))
	router.GET("/test", func(c *gin.Context) {
		fromGin = GetLogger(c)
		fromCtx = logging.FromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})
	router.GET("/fail", func(c *gin.Context) {
		c.Status(http.StatusBadGateway)
	})

	w := serve(router, http.MethodGet, "/test", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
	assert.Same(t, fromGin, fromCtx)

	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, w.Header().Get(HeaderRequestID), completed[0].ContextMap()[logging.FieldRequestID])

	serve(router, http.MethodGet, "/fail", nil)
	assert.Equal(t, 1, logs.FilterMessage("request completed with server error").Len())
}

func TestGetLogger_Default(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.NotNil(t, GetLogger(c))
	assert.Empty(t, GetRequestID(c))
	assert.Nil(t, GetSession(c))
}

func TestRequireSession(t *testing.T) {
	router := gin.New()
	router.Use(RequestLogger(zap.NewNop()))
	router.Use(RequireSession(fakeAuthenticator{}))
	router.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, GetSession(c).Username)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + validToken, http.StatusUnauthorized},
		{"unknown token", "Bearer bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", http.StatusUnauthorized},
		{"valid token", "Bearer " + validToken, http.StatusOK},
		{"case insensitive scheme", "bearer " + validToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.header != "" {
				header.Set("Authorization", tt.header)
			}
			w := serve(router, http.MethodGet, "/me", header)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "oneadmin", w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), `"unauthorized"`)
			}
		})
	}
}

func TestRequireSession_StoreFailure(t *testing.T) {
	router := gin.New()
	router.Use(RequireSession(fakeAuthenticator{err: models.ErrDatabaseError}))
	router.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	header := http.Header{}
	header.Set("Authorization", "Bearer "+validToken)
	w := serve(router, http.MethodGet, "/me", header)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRateLimitByIP(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2, time.Minute)
	t.Cleanup(limiter.Stop)

	router := gin.New()
	router.Use(RateLimitByIP(limiter))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/ping", nil).Code)

	w := serve(router, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.1.1.1:5000"
	other := httptest.NewRecorder()
	router.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestRateLimitBySession(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMin: 60, ProvisionsPerMin: 1}, clock)
	t.Cleanup(limiter.Stop)

	router := gin.New()
	router.Use(RequireSession(fakeAuthenticator{}))
	router.POST("/jobs", RateLimitBySession(limiter, ratelimit.LimitTypeProvision), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	header := http.Header{}
	header.Set("Authorization", "Bearer "+validToken)

	assert.Equal(t, http.StatusAccepted, serve(router, http.MethodPost, "/jobs", header).Code)

	w := serve(router, http.MethodPost, "/jobs", header)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	clock.Advance(time.Minute)
	assert.Equal(t, http.StatusAccepted, serve(router, http.MethodPost, "/jobs", header).Code)
}

func TestCORS(t *testing.T) {
	router := gin.New()
	router.Use(CORS([]string{"https://console.example.com"}))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	header := http.Header{}
	header.Set("Origin", "https://console.example.com")
	w := serve(router, http.MethodOptions, "/ping", header)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://console.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	header.Set("Origin", "https://evil.example.com")
	w = serve(router, http.MethodGet, "/ping", header)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
