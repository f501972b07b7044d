package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/linguachat/backend/internal/auth"
	"github.com/linguachat/backend/internal/logging"
)

func newIssuer(t *testing.T, now time.Time) *auth.Issuer {
	t.Helper()
	issuer, err := auth.NewIssuer("middleware-secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return issuer.WithNowFunc(func() time.Time { return now })
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromContext(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]any{"userId": UserIDFromContext(r.Context()), "verified": claims.Verified})
	})
}

func TestAuthenticate(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	issuer := newIssuer(t, now)
	handler := Authenticate(issuer)(echoUser())

	token, err := issuer.Issue("u1", true)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"no token", func(*http.Request) {}, http.StatusUnauthorized},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token.Value}) }, http.StatusOK},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token.Value) }, http.StatusOK},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"basic scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+token.Value) }, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected status %d got %d", tc.status, rec.Code)
			}
			if tc.status == http.StatusOK {
				var body map[string]any
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if body["userId"] != "u1" || body["verified"] != true {
					t.Fatalf("unexpected claims in context: %v", body)
				}
			}
		})
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	issued := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	token, err := newIssuer(t, issued).Issue("u1", true)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	later := newIssuer(t, issued.Add(2*time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token.Value})
	rec := httptest.NewRecorder()

	Authenticate(later)(echoUser()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestRequireVerified(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	issuer := newIssuer(t, now)
	handler := Authenticate(issuer)(RequireVerified(echoUser()))

	unverified, _ := issuer.Issue("u1", false)
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: unverified.Value})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "email verification required" {
		t.Fatalf("unexpected body %v", body)
	}

	verified, _ := issuer.Issue("u1", true)
	req = httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: verified.Value})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	RequireVerified(echoUser()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without claims got %d", rec.Code)
	}
}

func TestThrottle(t *testing.T) {
	limiter := NewIPRateLimiter(1, time.Hour, 2, time.Hour)
	handler := Throttle(limiter, nil, "auth")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if code := send("10.0.0.1").Code; code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204 got %d", i, code)
		}
	}
	limited := send("10.0.0.1")
	if limited.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", limited.Code)
	}
	if got := limited.Header().Get("Retry-After"); got == "" || got == "0" {
		t.Fatalf("expected a positive Retry-After, got %q", got)
	}
	if code := send("10.0.0.2").Code; code != http.StatusNoContent {
		t.Fatalf("other clients keep their own budget, got %d", code)
	}

	if Throttle(nil, nil, "auth")(http.NotFoundHandler()) == nil {
		t.Fatal("nil limiter should pass through")
	}
}

func TestIPRateLimiterExpiresVisitors(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	limiter := NewIPRateLimiter(1, time.Hour, 1, time.Minute).(*ipRateLimiter)
	limiter.now = func() time.Time { return now }

	if ok, _ := limiter.Allow("k"); !ok {
		t.Fatal("first request should pass")
	}
	ok, wait := limiter.Allow("k")
	if ok {
		t.Fatal("second request should be limited")
	}
	if wait < 59*time.Minute || wait > 61*time.Minute {
		t.Fatalf("expected to wait about an hour, got %v", wait)
	}

	now = now.Add(2 * time.Minute)
	limiter.Allow("other")
	if _, ok := limiter.visitors["k"]; ok {
		t.Fatal("idle visitor should be collected")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	if got := ClientIP(req); got != "192.0.2.1" {
		t.Fatalf("unexpected ip %q", got)
	}
	var untrusted Proxies
	if got := untrusted.ClientIP(req); got != "192.0.2.1" {
		t.Fatalf("forwarded header honored without a trusted proxy: %q", got)
	}
}

func TestProxiesClientIP(t *testing.T) {
	proxies, err := ParseProxies([]string{"10.0.0.0/8", " 192.0.2.1 ", ""})
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}

	cases := []struct {
		name      string
		remote    string
		forwarded string
		want      string
	}{
		{"direct client spoofing the header", "198.51.100.7:4000", "203.0.113.9", "198.51.100.7"},
		{"single trusted hop", "192.0.2.1:4000", "203.0.113.9", "203.0.113.9"},
		{"client-supplied prefix is skipped", "10.1.2.3:4000", "1.1.1.1, 203.0.113.9, 10.0.0.5", "203.0.113.9"},
		{"trusted proxy without header", "10.1.2.3:4000", "", "10.1.2.3"},
		{"every hop trusted", "10.1.2.3:4000", "10.0.0.9, 10.0.0.5", "10.0.0.9"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		if tc.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tc.forwarded)
		}
		if got := proxies.ClientIP(req); got != tc.want {
			t.Fatalf("%s: expected %q got %q", tc.name, tc.want, got)
		}
	}

	if _, err := ParseProxies([]string{"not-an-ip"}); err == nil {
		t.Fatal("expected an error for an invalid proxy")
	}
}

func TestThrottleIgnoresSpoofedForwardedFor(t *testing.T) {
	limiter := NewIPRateLimiter(1, time.Hour, 1, time.Hour)
	handler := Throttle(limiter, nil, "auth")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i, forwarded := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		want := http.StatusNoContent
		if i > 0 {
			want = http.StatusTooManyRequests
		}
		if rec.Code != want {
			t.Fatalf("request %d: expected %d got %d", i, want, rec.Code)
		}
	}
}

func TestCORS(t *testing.T) {
	handler := CORS("http://localhost:5173")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204 got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("expected credentials to be allowed")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unexpected origin allowed")
	}
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := RequestLogger(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
}

func TestRequestLoggerPropagatesRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var seen string
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "client-req-42" {
		t.Fatalf("expected caller request id in context, got %q", seen)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "client-req-42" {
		t.Fatalf("expected request id echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "not a valid id\n")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen == "" || seen == "not a valid id\n" {
		t.Fatalf("expected a generated request id, got %q", seen)
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("expected generated id to be echoed")
	}
}
