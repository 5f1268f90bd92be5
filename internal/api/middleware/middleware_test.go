package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/edge-origin-router/internal/auth"
	"github.com/tjfontaine/edge-origin-router/internal/pkg/config"
)

func TestRequestIDMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("Expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	RequestIDMiddleware(handler).ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}
}

func TestRequestIDMiddleware_KeepsInbound(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "edge-abc")
	rec := httptest.NewRecorder()
	RequestIDMiddleware(handler).ServeHTTP(rec, req)

	if seen != "edge-abc" {
		t.Errorf("request ID = %q, want edge-abc", seen)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "edge-abc" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestGetRequestID_NotSet(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "outcome", "resolved")
		AddError(r.Context(), errors.New("upstream hiccup"))
		AddLogField(r.Context(), "empty", "")
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest("GET", "http://img-bear.example.com/200/300", nil)
	rec := httptest.NewRecorder()
	RequestIDMiddleware(LoggingMiddleware(logger)(handler)).ServeHTTP(rec, req)

	out := buf.String()
	for _, want := range []string{
		`"msg":"request completed"`,
		`"status":418`,
		`"host":"img-bear.example.com"`,
		`"outcome":"resolved"`,
		`"error":"upstream hiccup"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
	if strings.Contains(out, `"empty"`) {
		t.Error("empty log field should be skipped")
	}
}

func TestAddLogField_NoMiddleware(t *testing.T) {
	// must not panic
	AddLogField(context.Background(), "k", "v")
	AddError(context.Background(), errors.New("x"))
	AddError(context.Background(), nil)
}

func TestTimeoutMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok := r.Context().Deadline()
		if !ok {
			t.Fatal("Expected deadline in context")
		}
		if time.Until(deadline) > time.Second {
			t.Errorf("deadline too far: %v", time.Until(deadline))
		}
	})

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	TimeoutMiddleware(time.Second)(handler).ServeHTTP(rec, req)
}

func TestAuthMiddleware(t *testing.T) {
	authenticator := auth.NewAuthenticator([]config.APIKeyConfig{
		{KeyHash: auth.HashAPIKey("secret"), Description: "ops"},
	})
	handler := AuthMiddleware(authenticator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid", header: "Bearer secret", want: http.StatusNoContent},
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic secret", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/routes", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAuthMiddleware_NoKeysConfigured(t *testing.T) {
	handler := AuthMiddleware(auth.NewAuthenticator(nil))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}
