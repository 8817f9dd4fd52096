package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestRateLimitByIP_EnforcesLimit verifies the per-IP bucket rejects requests
// past the configured rate.
func TestRateLimitByIP_EnforcesLimit(t *testing.T) {
	middleware := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 5})

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = "192.0.2.1:40000"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)

		if recorder.Code != http.StatusOK {
			t.Errorf("request %d failed with status %d, expected 200", i+1, recorder.Code)
		}
	}

	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "192.0.2.1:40000"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusTooManyRequests {
		t.Errorf("expected status %d (too many requests), got %d", http.StatusTooManyRequests, recorder.Code)
	}

	if contentType := recorder.Header().Get("Content-Type"); contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}
}

// TestRateLimitByIP_IsolatesClientBuckets verifies separate limits per IP.
func TestRateLimitByIP_IsolatesClientBuckets(t *testing.T) {
	middleware := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 3})

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// First client exhausts its bucket
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = "192.0.2.2:40000"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		if recorder.Code != http.StatusOK {
			t.Errorf("client A request %d failed", i+1)
		}
	}

	// Second client is unaffected
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "192.0.2.3:40000"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("client B should have an independent rate limit, got status %d", recorder.Code)
	}
}
