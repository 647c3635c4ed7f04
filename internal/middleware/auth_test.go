package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

func TestAuthMiddleware_WithValidToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		c, ok := CallerFromContext(r.Context())
		if !ok {
			t.Fatalf("caller not in context")
		}
		if c.ID != 42 || c.Role != model.RoleReader {
			t.Fatalf("caller from context = %+v, want reader 42", c)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+m.Issue(model.Caller{Role: model.RoleReader, ID: 42}))

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(&http.Cookie{Name: authCookieName, Value: m.Issue(model.Caller{Role: model.RoleAuthor, ID: 7})})

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	other := NewAuthMiddleware("other-secret")

	tests := []struct {
		name   string
		header string
	}{
		{name: "no token", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "foreign signature", header: "Bearer " + other.Issue(model.Caller{Role: model.RoleAdmin, ID: 1})},
		{name: "tampered role", header: "Bearer admin:42." + m.Issue(model.Caller{Role: model.RoleReader, ID: 42})[len("reader:42."):]},
		{name: "unknown role", header: "Bearer " + m.sign("root:1")},
		{name: "bad id", header: "Bearer " + m.sign("reader:x")},
		{name: "no signature", header: "Bearer reader:42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			m.Middleware(next).ServeHTTP(w, r)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(model.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		caller *model.Caller
		want   int
	}{
		{name: "anonymous", want: http.StatusUnauthorized},
		{name: "reader", caller: &model.Caller{Role: model.RoleReader, ID: 1}, want: http.StatusForbidden},
		{name: "admin", caller: &model.Caller{Role: model.RoleAdmin, ID: 1}, want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.caller != nil {
				r = r.WithContext(WithCaller(r.Context(), *tt.caller))
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
