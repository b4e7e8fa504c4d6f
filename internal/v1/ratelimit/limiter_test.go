package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewmates-ai/game-master/internal/v1/config"
)

func newRouter(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/a2a", rl.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func post(router *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/a2a", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	router.ServeHTTP(w, req)
	return w
}

func TestNewRateLimiter_InvalidRate(t *testing.T) {
	cfg := &config.Config{RateLimitAPIGlobal: "not-a-rate"}
	_, err := NewRateLimiter(cfg, nil)
	assert.Error(t, err)
}

func TestMiddleware_MemoryStore(t *testing.T) {
	cfg := &config.Config{RateLimitAPIGlobal: "3-M"}
	rl, err := NewRateLimiter(cfg, nil)
	require.NoError(t, err)

	router := newRouter(rl)

	for i := 0; i < 3; i++ {
		w := post(router)
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	}

	w := post(router)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestMiddleware_DistinctIPs(t *testing.T) {
	cfg := &config.Config{RateLimitAPIGlobal: "1-M"}
	rl, err := NewRateLimiter(cfg, nil)
	require.NoError(t, err)

	router := newRouter(rl)

	w := post(router)
	require.Equal(t, http.StatusOK, w.Code)

	// A different client is not affected by the first one's budget.
	w2 := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/a2a", nil)
	req.RemoteAddr = "10.9.9.9:5555"
	router.ServeHTTP(w2, req)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestMiddleware_RedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	cfg := &config.Config{RateLimitAPIGlobal: "2-M"}
	rl, err := NewRateLimiter(cfg, client)
	require.NoError(t, err)

	router := newRouter(rl)

	assert.Equal(t, http.StatusOK, post(router).Code)
	assert.Equal(t, http.StatusOK, post(router).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(router).Code)
}
