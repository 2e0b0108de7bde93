package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		keep    bool
	}{
		{name: "propagates caller id", inbound: "req-42.a:b_c", keep: true},
		{name: "mints when missing"},
		{name: "rejects whitespace", inbound: "bad id"},
		{name: "rejects log injection", inbound: "x\" level=error"},
		{name: "rejects oversized", inbound: strings.Repeat("a", maxRequestIDLen+1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.inbound != "" {
				req.Header.Set("X-Request-ID", tc.inbound)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Header().Get("X-Request-ID") != seen {
				t.Fatalf("echoed id %q differs from context id %q", rec.Header().Get("X-Request-ID"), seen)
			}
			if tc.keep {
				if seen != tc.inbound {
					t.Fatalf("id = %q, want %q", seen, tc.inbound)
				}
				return
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Fatalf("expected a minted uuid, got %q", seen)
			}
		})
	}
}
