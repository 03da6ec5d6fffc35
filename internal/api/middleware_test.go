package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// serve runs one request through a wrapped handler and returns the recorder.
func serve(h http.Handler, method, target, remoteAddr string, hdrs map[string]string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	for k, v := range hdrs {
		req.Header.Set(k, v)
	}
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequestID(t *testing.T) {
	t.Run("generates_id_when_missing", func(t *testing.T) {
		rec := serve(RequestID(okHandler), "GET", "/", "", nil)
		if id := rec.Header().Get("X-Request-ID"); len(id) != 16 {
			t.Errorf("id = %q, want 16 hex chars", id)
		}
	})

	t.Run("preserves_provided_id", func(t *testing.T) {
		rec := serve(RequestID(okHandler), "GET", "/", "", map[string]string{"X-Request-ID": "trace-77"})
		if id := rec.Header().Get("X-Request-ID"); id != "trace-77" {
			t.Errorf("id = %q, want trace-77", id)
		}
	})
}

func TestCORSWithOrigins(t *testing.T) {
	allowExample := CORSWithOrigins([]string{"https://example.com"})(okHandler)

	t.Run("empty_list_allows_any_origin", func(t *testing.T) {
		rec := serve(CORSWithOrigins(nil)(okHandler), "GET", "/", "", nil)
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Error("want Access-Control-Allow-Origin: *")
		}
		if rec.Code != http.StatusOK {
			t.Errorf("code = %d", rec.Code)
		}
	})

	t.Run("listed_origin_is_echoed", func(t *testing.T) {
		rec := serve(allowExample, "GET", "/", "", map[string]string{"Origin": "https://example.com"})
		if rec.Header().Get("Access-Control-Allow-Origin") != "https://example.com" {
			t.Error("origin not echoed")
		}
		if rec.Header().Get("Vary") != "Origin" {
			t.Error("want Vary: Origin")
		}
	})

	t.Run("unlisted_origin_served_without_headers", func(t *testing.T) {
		rec := serve(allowExample, "GET", "/", "", map[string]string{"Origin": "https://evil.com"})
		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("unexpected CORS header for unlisted origin")
		}
		if rec.Code != http.StatusOK {
			t.Errorf("code = %d, request should still be served", rec.Code)
		}
	})

	t.Run("unlisted_origin_preflight_rejected", func(t *testing.T) {
		rec := serve(allowExample, "OPTIONS", "/", "", map[string]string{"Origin": "https://evil.com"})
		if rec.Code != http.StatusForbidden {
			t.Errorf("code = %d, want 403", rec.Code)
		}
	})

	t.Run("preflight_short_circuits", func(t *testing.T) {
		called := false
		inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
		rec := serve(CORSWithOrigins(nil)(inner), "OPTIONS", "/", "", nil)
		if rec.Code != http.StatusNoContent {
			t.Errorf("code = %d, want 204", rec.Code)
		}
		if called {
			t.Error("preflight must not reach the handler")
		}
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("bursts_then_blocks", func(t *testing.T) {
		handler := RateLimiter(1, 2)(okHandler)
		for i := 0; i < 2; i++ {
			if rec := serve(handler, "GET", "/", "5.6.7.8:1234", nil); rec.Code != http.StatusOK {
				t.Fatalf("request %d: code = %d, want 200", i, rec.Code)
			}
		}
		rec := serve(handler, "GET", "/", "5.6.7.8:1234", nil)
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("code = %d, want 429", rec.Code)
		}
		if rec.Header().Get("Retry-After") != "1" {
			t.Error("missing Retry-After header")
		}
	})

	t.Run("buckets_are_per_ip", func(t *testing.T) {
		handler := RateLimiter(1, 1)(okHandler)
		serve(handler, "GET", "/", "10.0.0.1:1234", nil)
		if rec := serve(handler, "GET", "/", "10.0.0.1:1234", nil); rec.Code != http.StatusTooManyRequests {
			t.Errorf("exhausted ip: code = %d, want 429", rec.Code)
		}
		if rec := serve(handler, "GET", "/", "10.0.0.2:1234", nil); rec.Code != http.StatusOK {
			t.Errorf("fresh ip: code = %d, want 200", rec.Code)
		}
	})
}

func TestBearerAuth(t *testing.T) {
	cases := []struct {
		name   string
		token  string
		target string
		header string
		want   int
	}{
		{"no_token_configured_passes", "", "/", "", http.StatusOK},
		{"valid_header", "secret123", "/", "Bearer secret123", http.StatusOK},
		{"wrong_header", "secret123", "/", "Bearer wrong", http.StatusUnauthorized},
		{"missing_credentials", "secret123", "/", "", http.StatusUnauthorized},
		{"query_param_fallback", "secret123", "/?token=secret123", "", http.StatusOK},
		{"wrong_query_param", "secret123", "/?token=wrong", "", http.StatusUnauthorized},
		{"non_bearer_scheme", "secret123", "/", "Basic c2VjcmV0", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hdrs := map[string]string{}
			if tc.header != "" {
				hdrs["Authorization"] = tc.header
			}
			rec := serve(BearerAuth(tc.token)(okHandler), "GET", tc.target, "", hdrs)
			if rec.Code != tc.want {
				t.Errorf("code = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestRecoverer(t *testing.T) {
	t.Run("passes_through", func(t *testing.T) {
		if rec := serve(Recoverer(okHandler), "GET", "/", "", nil); rec.Code != http.StatusOK {
			t.Errorf("code = %d", rec.Code)
		}
	})

	t.Run("panic_becomes_500_json", func(t *testing.T) {
		panicker := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
		rec := serve(Recoverer(panicker), "GET", "/", "", nil)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("code = %d, want 500", rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("body is not JSON: %v", err)
		}
		if body["error"] != "internal server error" {
			t.Errorf("body = %v", body)
		}
	})
}
