package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func limitedRouter(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(rl))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func hit(router http.Handler, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = ip + ":12345"
	router.ServeHTTP(w, req)
	return w
}

func TestGetLimiter(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(10), 20)

	first := rl.getLimiter("192.0.2.1")
	if first != rl.getLimiter("192.0.2.1") {
		t.Error("Expected the same limiter for the same IP")
	}
	if first == rl.getLimiter("192.0.2.2") {
		t.Error("Expected different limiters for different IPs")
	}
	if first.Burst() != 20 || first.Limit() != rate.Limit(10) {
		t.Errorf("Expected rate 10 burst 20, got %v %d", first.Limit(), first.Burst())
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		requests       int
		limit          rate.Limit
		burst          int
		expectedStatus int
	}{
		{"under burst", 5, rate.Limit(10), 10, http.StatusOK},
		{"exactly burst", 10, rate.Limit(1), 10, http.StatusOK},
		{"over burst", 11, rate.Limit(1), 10, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := limitedRouter(NewRateLimiter(tt.limit, tt.burst))

			var last *httptest.ResponseRecorder
			for i := 0; i < tt.requests; i++ {
				last = hit(router, "192.0.2.100")
			}
			if last.Code != tt.expectedStatus {
				t.Errorf("Expected final status %d, got %d", tt.expectedStatus, last.Code)
			}
			if last.Code == http.StatusTooManyRequests && !strings.Contains(last.Body.String(), "Rate limit exceeded") {
				t.Errorf("Expected rate limit message, got %s", last.Body.String())
			}
		})
	}
}

func TestRateLimitIsPerIP(t *testing.T) {
	router := limitedRouter(NewRateLimiter(rate.Limit(1), 1))

	if w := hit(router, "192.0.2.1"); w.Code != http.StatusOK {
		t.Errorf("Expected first IP to pass, got %d", w.Code)
	}
	if w := hit(router, "192.0.2.1"); w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected first IP to be limited, got %d", w.Code)
	}
	if w := hit(router, "192.0.2.2"); w.Code != http.StatusOK {
		t.Errorf("Expected second IP to pass, got %d", w.Code)
	}
}

func TestEvictIdle(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(10), 20)
	for _, ip := range []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"} {
		rl.getLimiter(ip)
	}

	rl.mu.Lock()
	rl.visitors["192.0.2.1"].lastSeen = time.Now().Add(-time.Hour)
	rl.visitors["192.0.2.2"].lastSeen = time.Now().Add(-2 * limiterIdleTimeout)
	rl.mu.Unlock()

	if n := rl.evictIdle(time.Now().Add(-limiterIdleTimeout)); n != 2 {
		t.Errorf("Expected 2 evicted visitors, got %d", n)
	}

	rl.mu.Lock()
	_, kept := rl.visitors["192.0.2.3"]
	count := len(rl.visitors)
	rl.mu.Unlock()
	if !kept || count != 1 {
		t.Errorf("Expected only the active visitor to remain, got %d", count)
	}

	// an evicted IP starts over with a full burst
	if tokens := rl.getLimiter("192.0.2.1").Tokens(); tokens < 19 {
		t.Errorf("Expected a fresh limiter, got %.1f tokens", tokens)
	}
}

func TestMaxBytesMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		bodySize       int
		unknownLength  bool
		expectedStatus int
	}{
		{"under limit", 512, false, http.StatusOK},
		{"at limit", 1024, false, http.StatusOK},
		{"over limit by content-length", 2048, false, http.StatusRequestEntityTooLarge},
		{"over limit while reading", 2048, true, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(MaxBytesMiddleware(1024))
			router.POST("/test", func(c *gin.Context) {
				if _, err := io.ReadAll(c.Request.Body); err != nil {
					c.String(http.StatusRequestEntityTooLarge, "Request body too large")
					return
				}
				c.Status(http.StatusOK)
			})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(strings.Repeat("x", tt.bodySize)))
			if tt.unknownLength {
				req.ContentLength = -1
			}
			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if w.Code == http.StatusRequestEntityTooLarge && !strings.Contains(w.Body.String(), "Request body too large") {
				t.Errorf("Expected error message about body size, got: %s", w.Body.String())
			}
		})
	}
}
