package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIPLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := newIPLimiter(ctx, 0.001, 2)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	hit := func(addr string) int {
		r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		r.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}
	for i := 0; i < 2; i++ {
		if code := hit("10.0.0.1:5000"); code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, code)
		}
	}
	if code := hit("10.0.0.1:5001"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := hit("10.0.0.2:5000"); code != http.StatusOK {
		t.Fatalf("other client limited: %d", code)
	}
}
