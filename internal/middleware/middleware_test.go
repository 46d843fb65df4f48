package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/guildauth/internal/config"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestRateLimiterThrottlesPerClient(t *testing.T) {
	limiter := NewRateLimiter(10, zap.NewNop())
	now := time.Now()
	limiter.now = func() time.Time { return now }
	r := newEngine(limiter.Handler())

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusOK, do("10.0.0.1").Code)
	throttled := do("10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, throttled.Code)
	require.NotEmpty(t, throttled.Header().Get("Retry-After"))
	require.Equal(t, http.StatusOK, do("10.0.0.2").Code)

	now = now.Add(7 * time.Second)
	require.Equal(t, http.StatusOK, do("10.0.0.1").Code)
}

func TestRateLimiterDisabled(t *testing.T) {
	require.Nil(t, NewRateLimiter(0, nil))
	var limiter *RateLimiter
	r := newEngine(limiter.Handler())
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestCORS(t *testing.T) {
	cfg := config.Config{
		FrontendURL:          "http://localhost:3000/",
		CORSAllowedMethods:   []string{"GET", "PUT"},
		CORSAllowedHeaders:   []string{"Content-Type"},
		CORSAllowCredentials: true,
	}
	r := newEngine(CORS(cfg))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCORSWildcard(t *testing.T) {
	tests := []struct {
		name        string
		credentials bool
		wantOrigin  string
		wantCreds   string
	}{
		{name: "credentials on only echoes listed origins", credentials: true, wantOrigin: "", wantCreds: ""},
		{name: "credentials off allows any origin", credentials: false, wantOrigin: "*", wantCreds: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Config{
				FrontendURL:          "https://app.example.com",
				CORSAllowedOrigins:   []string{"*"},
				CORSAllowedMethods:   []string{"GET"},
				CORSAllowedHeaders:   []string{"Content-Type"},
				CORSAllowCredentials: tt.credentials,
			}
			r := newEngine(CORS(cfg))

			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.Header.Set("Origin", "https://evil.example.net")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code)
			require.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			require.Equal(t, tt.wantCreds, w.Header().Get("Access-Control-Allow-Credentials"))

			req = httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.Header.Set("Origin", "https://app.example.com")
			w = httptest.NewRecorder()
			r.ServeHTTP(w, req)
			require.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
