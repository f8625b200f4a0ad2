package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	t.Run("burst then deny", func(t *testing.T) {
		rl := newRateLimiter(0.001, 2)
		for i := 0; i < 2; i++ {
			if !rl.allow("10.0.0.1") {
				t.Fatalf("request %d denied inside burst", i+1)
			}
		}
		if rl.allow("10.0.0.1") {
			t.Error("request allowed past the burst")
		}
	})

	t.Run("clients are independent", func(t *testing.T) {
		rl := newRateLimiter(0.001, 1)
		if !rl.allow("10.0.0.1") || !rl.allow("10.0.0.2") {
			t.Error("fresh client denied")
		}
	})

	t.Run("stale buckets are swept", func(t *testing.T) {
		rl := newRateLimiter(1, 1)
		rl.allow("10.0.0.1")
		rl.clients["10.0.0.1"].lastSeen = time.Now().Add(-limiterStaleAfter - time.Minute)
		rl.lastSweep = time.Now().Add(-limiterSweepInterval - time.Minute)

		rl.allow("10.0.0.2")
		if _, ok := rl.clients["10.0.0.1"]; ok {
			t.Error("stale bucket survived the sweep")
		}
	})
}

func TestClientIP(t *testing.T) {
	newReq := func(remote string, headers map[string]string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		r.RemoteAddr = remote
		for k, v := range headers {
			r.Header.Set(k, v)
		}
		return r
	}

	tests := []struct {
		name       string
		remote     string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{"remote addr only", "192.0.2.7:5123", nil, false, "192.0.2.7"},
		{"proxy headers ignored when untrusted", "192.0.2.7:5123",
			map[string]string{"X-Real-IP": "203.0.113.9"}, false, "192.0.2.7"},
		{"x-real-ip wins when trusted", "192.0.2.7:5123",
			map[string]string{"X-Real-IP": "203.0.113.9"}, true, "203.0.113.9"},
		{"x-forwarded-for first hop", "192.0.2.7:5123",
			map[string]string{"X-Forwarded-For": "203.0.113.9, 198.51.100.2"}, true, "203.0.113.9"},
		{"garbage header falls back to remote", "192.0.2.7:5123",
			map[string]string{"X-Real-IP": "not-an-ip"}, true, "192.0.2.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clientIP(newReq(tt.remote, tt.headers), tt.trustProxy); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
