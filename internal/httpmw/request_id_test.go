package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		inbound  string
		wantSame bool
	}{
		{"generated", "", "", false},
		{"propagated", "", "build-42", true},
		{"custom header", "X-Correlation-Id", "abc", true},
		{"spaces rejected", "", "has space", false},
		{"too long rejected", "", strings.Repeat("a", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := tt.header
			if name == "" {
				name = DefaultRequestIDHeader
			}
			var seen string
			h := RequestID(tt.header)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.inbound != "" {
				req.Header.Set(name, tt.inbound)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if seen == "" {
				t.Fatal("no request id in context")
			}
			if got := rec.Header().Get(name); got != seen {
				t.Fatalf("response header = %q, context = %q", got, seen)
			}
			if tt.wantSame != (seen == tt.inbound) {
				t.Fatalf("id = %q, inbound = %q, wantSame = %v", seen, tt.inbound, tt.wantSame)
			}
			if !tt.wantSame && len(seen) != 32 {
				t.Fatalf("generated id %q should be 32 hex chars", seen)
			}
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if RequestIDFromContext(ctx) != "" {
		t.Fatal("empty context should have no id")
	}
	if WithRequestID(ctx, "") != ctx {
		t.Fatal("empty id should not wrap the context")
	}
	if got := RequestIDFromContext(WithRequestID(ctx, "x")); got != "x" {
		t.Fatalf("got %q", got)
	}
}
