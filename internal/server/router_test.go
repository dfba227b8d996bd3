package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCORSAllowsClientOriginWithCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware(testClientURL))
	router.GET("/notes/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	preflight := httptest.NewRequest(http.MethodOptions, "/notes/", http.NoBody)
	preflight.Header.Set("Origin", testClientURL)
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPut)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, preflight)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != testClientURL {
		t.Fatalf("expected client origin to be allowed, got %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
	if !strings.Contains(recorder.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete) {
		t.Fatalf("expected DELETE to be allowed, got %q", recorder.Header().Get("Access-Control-Allow-Methods"))
	}

	foreign := httptest.NewRequest(http.MethodGet, "/notes/", http.NoBody)
	foreign.Header.Set("Origin", "https://evil.example.com")
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, foreign)
	if recorder.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected foreign origin to be refused")
	}
}

func TestHealthReportsDatabaseState(t *testing.T) {
	healthy := newTestHarness(t, harnessOptions{})
	recorder := healthy.do(t, http.MethodGet, "/healthz", "")
	if recorder.Code != http.StatusOK || recorder.Body.String() != `{"status":"ok"}` {
		t.Fatalf("unexpected health response %d %s", recorder.Code, recorder.Body.String())
	}

	unhealthy := newTestHarness(t, harnessOptions{healthCheck: func(context.Context) error { return errHealthProbe }})
	recorder = unhealthy.do(t, http.MethodGet, "/healthz", "")
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected service unavailable, got %d", recorder.Code)
	}
}

func TestMetricsCountRequestsAndNoteOperations(t *testing.T) {
	harness := newTestHarness(t, harnessOptions{})
	cookie, _ := harness.signIn(t, "metrics")

	harness.do(t, http.MethodGet, "/notes/", "", cookie)
	harness.do(t, http.MethodPost, "/notes/new", `{"title":"","content":""}`, cookie)

	recorder := harness.do(t, http.MethodGet, "/metrics", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected metrics endpoint, got %d", recorder.Code)
	}
	exposition := recorder.Body.String()
	for _, sample := range []string{
		`jotter_http_requests_total{method="GET",route="/notes/",status="200"} 1`,
		`jotter_note_operations_total{operation="create",outcome="validation_failed"} 1`,
		`jotter_note_operations_total{operation="list",outcome="ok"} 1`,
	} {
		if !strings.Contains(exposition, sample) {
			t.Fatalf("expected sample %q in exposition", sample)
		}
	}
}

func TestRateLimitPerIdentity(t *testing.T) {
	clock := &testClock{now: time.Unix(1700000000, 0)}
	limiter := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 60, Burst: 2, Clock: clock.Now})
	core, logs := observer.New(zapcore.DebugLevel)
	harness := newTestHarness(t, harnessOptions{rateLimiter: limiter, logger: zap.New(core)})
	first, _ := harness.signIn(t, "busy")
	second, _ := harness.signIn(t, "calm")

	for i := 0; i < 2; i++ {
		if recorder := harness.do(t, http.MethodGet, "/notes/", "", first); recorder.Code != http.StatusOK {
			t.Fatalf("request %d should pass, got %d", i+1, recorder.Code)
		}
	}
	limited := harness.do(t, http.MethodGet, "/notes/", "", first)
	if limited.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", limited.Code)
	}
	if limited.Header().Get("Retry-After") != "1" {
		t.Fatalf("unexpected retry-after %q", limited.Header().Get("Retry-After"))
	}
	if recorder := harness.do(t, http.MethodGet, "/notes/", "", second); recorder.Code != http.StatusOK {
		t.Fatalf("expected other identity to be unaffected, got %d", recorder.Code)
	}

	clock.Advance(time.Second)
	if recorder := harness.do(t, http.MethodGet, "/notes/", "", first); recorder.Code != http.StatusOK {
		t.Fatalf("expected refill after one second, got %d", recorder.Code)
	}
	if logs.FilterMessage("rate limit exceeded").Len() != 1 {
		t.Fatalf("expected one rate limit log entry")
	}
}

func TestRateLimiterPrunesIdleIdentities(t *testing.T) {
	clock := &testClock{now: time.Unix(1700000000, 0)}
	limiter := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 60, Burst: 1, Clock: clock.Now})

	limiter.Allow("a")
	limiter.Allow("b")
	if limiter.Size() != 2 {
		t.Fatalf("expected two buckets, got %d", limiter.Size())
	}
	clock.Advance(limiterIdleTTL + time.Second)
	limiter.Allow("c")
	if limiter.Size() != 1 {
		t.Fatalf("expected idle buckets to be pruned, got %d", limiter.Size())
	}
}

func TestNewHTTPHandlerValidatesDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}
