package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/codest0411/OneWise-b/internal/identity"
	"github.com/codest0411/OneWise-b/pkg/apierror"
)

type staticAuth struct {
	users map[string]identity.User
}

func (a staticAuth) Authenticate(_ context.Context, token string) (identity.User, error) {
	u, ok := a.users[token]
	if !ok {
		return identity.User{}, apierror.Unauthorized("Invalid or expired authentication token")
	}
	return u, nil
}

func newTestHandler(repo Repository) (*mux.Router, staticAuth) {
	auth := staticAuth{users: map[string]identity.User{
		"tok-mentor":  {ID: "owner", Email: "m@x.io", Name: "Mentor", Role: identity.RoleMentor},
		"tok-student": {ID: "student", Email: "s@x.io", Name: "Student", Role: identity.RoleStudent},
	}}
	r := mux.NewRouter()
	NewHandler(NewService(repo, zerolog.Nop()), auth, nil).Register(r)
	return r, auth
}

func doJSON(t *testing.T, r http.Handler, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)
	return res
}

func TestCreateSessionEndpoint(t *testing.T) {
	repo := newFakeRepo()
	r, _ := newTestHandler(repo)

	res := doJSON(t, r, http.MethodPost, "/v1/sessions", "tok-mentor",
		`{"title":"Pairing","student_ids":["student"]}`)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}

	var body struct {
		Session Session `json:"session"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Session.OwnerID != "owner" || body.Session.InviteCode == "" {
		t.Fatalf("unexpected session: %+v", body.Session)
	}
	if repo.participants[body.Session.ID]["owner"].Role != RoleMentor {
		t.Fatal("creator must be a mentor participant")
	}
}

func TestCreateSessionRequiresMentorRole(t *testing.T) {
	r, _ := newTestHandler(newFakeRepo())

	res := doJSON(t, r, http.MethodPost, "/v1/sessions", "tok-student", `{"title":"x"}`)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
}

func TestCreateSessionRequiresToken(t *testing.T) {
	r, _ := newTestHandler(newFakeRepo())

	res := doJSON(t, r, http.MethodPost, "/v1/sessions", "", `{"title":"x"}`)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestJoinEndpoint(t *testing.T) {
	repo := newFakeRepo()
	repo.sessions["s1"] = Session{ID: "s1", OwnerID: "owner", Status: StatusLive, InviteCode: "abc123"}
	r, _ := newTestHandler(repo)

	res := doJSON(t, r, http.MethodPost, "/v1/sessions/join", "tok-student", `{"code":"abc123"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if repo.participants["s1"]["student"].Role != RoleStudent {
		t.Fatal("join should insert a student participant")
	}

	res = doJSON(t, r, http.MethodPost, "/v1/sessions/join", "tok-student", `{"code":"wrong"}`)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}

	res = doJSON(t, r, http.MethodPost, "/v1/sessions/join", "tok-student", `{}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing code, got %d", res.Code)
	}
}

func TestKickEndpoint(t *testing.T) {
	repo := newFakeRepo()
	repo.sessions["s1"] = Session{ID: "s1", OwnerID: "owner", Status: StatusLive}
	repo.participants["s1"] = map[string]Participant{
		"owner":   {SessionID: "s1", UserID: "owner", Role: RoleMentor},
		"student": {SessionID: "s1", UserID: "student", Role: RoleStudent, CanEdit: true},
	}
	r, _ := newTestHandler(repo)

	res := doJSON(t, r, http.MethodPost, "/v1/sessions/s1/kick", "tok-mentor", `{"userId":"student"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if p := repo.participants["s1"]["student"]; p.KickedAt == nil || p.CanEdit {
		t.Fatalf("kick not applied: %+v", p)
	}

	// Second kick is already-removed.
	res = doJSON(t, r, http.MethodPost, "/v1/sessions/s1/kick", "tok-mentor", `{"userId":"student"}`)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestPatchSessionEndpoint(t *testing.T) {
	repo := newFakeRepo()
	repo.sessions["s1"] = Session{ID: "s1", OwnerID: "owner", Status: StatusScheduled, Title: "old"}
	r, _ := newTestHandler(repo)

	res := doJSON(t, r, http.MethodPatch, "/v1/sessions/s1", "tok-mentor", `{"status":"live"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if repo.sessions["s1"].Status != StatusLive {
		t.Fatal("status should advance to live")
	}

	res = doJSON(t, r, http.MethodPatch, "/v1/sessions/s1", "tok-mentor", `{}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty patch, got %d", res.Code)
	}
}

func TestPermissionsEndpoint(t *testing.T) {
	repo := newFakeRepo()
	repo.sessions["s1"] = Session{ID: "s1", OwnerID: "owner", Status: StatusLive}
	repo.participants["s1"] = map[string]Participant{
		"student": {SessionID: "s1", UserID: "student", Role: RoleStudent},
	}
	r, _ := newTestHandler(repo)

	res := doJSON(t, r, http.MethodPatch, "/v1/sessions/s1/participants/student/permissions", "tok-mentor", `{"can_edit":true}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if !repo.participants["s1"]["student"].CanEdit {
		t.Fatal("can_edit should be granted")
	}
}

func TestMessagesEndpoint(t *testing.T) {
	repo := newFakeRepo()
	repo.sessions["s1"] = Session{ID: "s1", OwnerID: "owner", Status: StatusLive}
	repo.participants["s1"] = map[string]Participant{
		"student": {SessionID: "s1", UserID: "student", Role: RoleStudent},
	}
	r, _ := newTestHandler(repo)

	res := doJSON(t, r, http.MethodPost, "/v1/sessions/s1/messages", "tok-student", `{"text":"hello"}`)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}

	res = doJSON(t, r, http.MethodGet, "/v1/sessions/s1/messages", "tok-student", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Messages) != 1 || body.Messages[0].Text != "hello" {
		t.Fatalf("unexpected messages: %+v", body.Messages)
	}

	// Non-participants cannot read the stream.
	res = doJSON(t, r, http.MethodGet, "/v1/sessions/s1/messages", "tok-mentor", "")
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-participant, got %d", res.Code)
	}
}
