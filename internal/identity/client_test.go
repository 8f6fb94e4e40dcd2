package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/codest0411/OneWise-b/internal/testutil"
)

func TestClientGetUser(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" {
			http.NotFound(w, r)
			return
		}
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"u1","email":"a@example.com","app_metadata":{"role":"mentor"},"user_metadata":{"full_name":"Ada"}}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer provider.Close()

	ctx, cancel := testutil.Context(t)
	defer cancel()

	c := NewClient(provider.URL, "service-key")

	user, err := c.GetUser(ctx, "good")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.ID != "u1" || user.Email != "a@example.com" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.AppMetadata["role"] != "mentor" {
		t.Fatalf("app metadata not decoded: %+v", user.AppMetadata)
	}

	if _, err := c.GetUser(ctx, "expired"); err == nil {
		t.Fatal("expected error for rejected token")
	}
}

func TestClientRejectsEmptyUser(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer provider.Close()

	ctx, cancel := testutil.Context(t)
	defer cancel()

	if _, err := NewClient(provider.URL, "").GetUser(ctx, "token"); err == nil {
		t.Fatal("expected error for empty user record")
	}
}
