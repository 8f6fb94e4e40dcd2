package session

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/codest0411/OneWise-b/pkg/apierror"
)

type fakeRepo struct {
	sessions     map[string]Session
	participants map[string]map[string]Participant
	messages     []Message
	snapshots    []CodeSnapshot

	failInsertParticipantFor string
	storeErr                 error

	deletedSessions []string
	updateCalls     int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions:     make(map[string]Session),
		participants: make(map[string]map[string]Participant),
	}
}

func (r *fakeRepo) GetParticipant(_ context.Context, sessionID, userID string) (Participant, error) {
	if r.storeErr != nil {
		return Participant{}, r.storeErr
	}
	p, ok := r.participants[sessionID][userID]
	if !ok {
		return Participant{}, ErrNotFound
	}
	return p, nil
}

func (r *fakeRepo) InsertParticipant(_ context.Context, p Participant) error {
	if p.UserID == r.failInsertParticipantFor {
		return errors.New("boom")
	}
	if _, ok := r.participants[p.SessionID][p.UserID]; ok {
		return ErrConflict
	}
	if r.participants[p.SessionID] == nil {
		r.participants[p.SessionID] = make(map[string]Participant)
	}
	p.JoinedAt = time.Now().UTC()
	r.participants[p.SessionID][p.UserID] = p
	return nil
}

func (r *fakeRepo) UpdateParticipant(_ context.Context, sessionID, userID string, patch PermissionPatch) (Participant, error) {
	r.updateCalls++
	p, ok := r.participants[sessionID][userID]
	if !ok {
		return Participant{}, ErrNotFound
	}
	if patch.CanEdit != nil {
		p.CanEdit = *patch.CanEdit
	}
	if patch.CanShareScreen != nil {
		p.CanShareScreen = *patch.CanShareScreen
	}
	r.participants[sessionID][userID] = p
	return p, nil
}

func (r *fakeRepo) KickParticipant(_ context.Context, sessionID, userID string, at time.Time) (Participant, error) {
	p, ok := r.participants[sessionID][userID]
	if !ok || p.KickedAt != nil {
		return Participant{}, ErrNotFound
	}
	p.KickedAt = &at
	p.CanEdit = false
	p.CanShareScreen = false
	r.participants[sessionID][userID] = p
	return p, nil
}

func (r *fakeRepo) ListParticipants(_ context.Context, sessionID string) ([]Participant, error) {
	var out []Participant
	for _, p := range r.participants[sessionID] {
		out = append(out, p)
	}
	return out, nil
}

func (r *fakeRepo) GetSessionByID(_ context.Context, id string) (Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (r *fakeRepo) GetSessionByInviteCode(_ context.Context, code string) (Session, error) {
	for _, s := range r.sessions {
		if s.InviteCode == code {
			return s, nil
		}
	}
	return Session{}, ErrNotFound
}

func (r *fakeRepo) InsertSession(_ context.Context, s Session) (Session, error) {
	s.CreatedAt = time.Now().UTC()
	r.sessions[s.ID] = s
	return s, nil
}

func (r *fakeRepo) UpdateSession(_ context.Context, id, ownerID string, patch SessionPatch) (Session, error) {
	r.updateCalls++
	s, ok := r.sessions[id]
	if !ok || s.OwnerID != ownerID {
		return Session{}, ErrNotFound
	}
	if patch.Title != nil {
		s.Title = *patch.Title
	}
	if patch.Status != nil {
		s.Status = *patch.Status
	}
	if patch.DurationMinutes != nil {
		s.DurationMinutes = patch.DurationMinutes
	}
	if patch.AllowChat != nil {
		s.AllowChat = *patch.AllowChat
	}
	r.sessions[id] = s
	return s, nil
}

func (r *fakeRepo) DeleteSession(_ context.Context, id string) error {
	delete(r.sessions, id)
	r.deletedSessions = append(r.deletedSessions, id)
	return nil
}

func (r *fakeRepo) ListSessionsForUser(_ context.Context, userID string) ([]Session, error) {
	var out []Session
	for id, members := range r.participants {
		if p, ok := members[userID]; ok && p.KickedAt == nil {
			out = append(out, r.sessions[id])
		}
	}
	return out, nil
}

func (r *fakeRepo) InsertMessage(_ context.Context, m Message) error {
	if r.storeErr != nil {
		return r.storeErr
	}
	r.messages = append(r.messages, m)
	return nil
}

func (r *fakeRepo) InsertCodeSnapshot(_ context.Context, cs CodeSnapshot) error {
	r.snapshots = append(r.snapshots, cs)
	return nil
}

func (r *fakeRepo) ListMessages(_ context.Context, sessionID string, _ int) ([]Message, error) {
	var out []Message
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListCodeSnapshots(_ context.Context, sessionID string, _ int) ([]CodeSnapshot, error) {
	var out []CodeSnapshot
	for _, cs := range r.snapshots {
		if cs.SessionID == sessionID {
			out = append(out, cs)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetUserRole(_ context.Context, _ string) (string, error) {
	return "", ErrNotFound
}

func newTestService(repo Repository) *Service {
	return NewService(repo, zerolog.Nop())
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	return apierror.From(err).Status
}

func TestCreateSessionOwnerIsMentor(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	sess, err := svc.CreateSession(context.Background(), "owner", CreateSessionInput{
		Title:      "Intro to Go",
		StudentIDs: []string{"b", "b", "owner", "c"},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	owner, ok := repo.participants[sess.ID]["owner"]
	if !ok {
		t.Fatal("owner is not a participant")
	}
	if owner.Role != RoleMentor || !owner.CanEdit || !owner.CanShareScreen {
		t.Fatalf("unexpected owner participant: %+v", owner)
	}
	if len(repo.participants[sess.ID]) != 3 {
		t.Fatalf("expected owner + 2 deduped students, got %d rows", len(repo.participants[sess.ID]))
	}
	if repo.participants[sess.ID]["b"].Role != RoleStudent {
		t.Fatal("student b should have role student")
	}
	if sess.InviteCode == "" {
		t.Fatal("expected invite code")
	}
	if sess.Status != StatusScheduled {
		t.Fatalf("expected scheduled status, got %s", sess.Status)
	}
	if !sess.AllowChat || !sess.AllowCollab || !sess.AllowVideo {
		t.Fatal("feature flags should default to enabled")
	}
}

func TestCreateSessionRollsBackOnParticipantFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.failInsertParticipantFor = "bad-student"
	svc := newTestService(repo)

	_, err := svc.CreateSession(context.Background(), "owner", CreateSessionInput{
		Title:      "Doomed",
		StudentIDs: []string{"bad-student"},
	})
	if status := statusOf(t, err); status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", status)
	}
	if len(repo.sessions) != 0 {
		t.Fatal("session row should have been rolled back")
	}
	if len(repo.deletedSessions) != 1 {
		t.Fatalf("expected one compensating delete, got %d", len(repo.deletedSessions))
	}
}

func TestCreateSessionValidation(t *testing.T) {
	svc := newTestService(newFakeRepo())
	bad := 601

	cases := []struct {
		name  string
		input CreateSessionInput
	}{
		{"missing title", CreateSessionInput{}},
		{"duration too long", CreateSessionInput{Title: "x", DurationMinutes: &bad}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateSession(context.Background(), "owner", tc.input)
			if status := statusOf(t, err); status != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", status)
			}
		})
	}
}

func TestEnsureParticipant(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	kicked := time.Now().UTC()
	repo.participants["s1"] = map[string]Participant{
		"member": {SessionID: "s1", UserID: "member", Role: RoleStudent},
		"gone":   {SessionID: "s1", UserID: "gone", Role: RoleStudent, KickedAt: &kicked},
	}

	if _, err := svc.EnsureParticipant(context.Background(), "member", "s1"); err != nil {
		t.Fatalf("member admission: %v", err)
	}
	if status := statusOf(t, errOf(svc.EnsureParticipant(context.Background(), "stranger", "s1"))); status != http.StatusForbidden {
		t.Fatalf("stranger: expected 403, got %d", status)
	}
	if status := statusOf(t, errOf(svc.EnsureParticipant(context.Background(), "gone", "s1"))); status != http.StatusForbidden {
		t.Fatalf("kicked: expected 403, got %d", status)
	}
}

func errOf[T any](_ T, err error) error { return err }

func TestJoinByInviteCode(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	repo.sessions["s1"] = Session{ID: "s1", OwnerID: "owner", Status: StatusLive, InviteCode: "abc123"}
	repo.sessions["s2"] = Session{ID: "s2", OwnerID: "owner", Status: StatusCompleted, InviteCode: "ended"}
	kicked := time.Now().UTC()
	repo.participants["s1"] = map[string]Participant{
		"gone": {SessionID: "s1", UserID: "gone", KickedAt: &kicked},
	}

	if status := statusOf(t, errOf(svc.JoinByInviteCode(context.Background(), "u1", "nope"))); status != http.StatusNotFound {
		t.Fatalf("unknown code: expected 404, got %d", status)
	}
	if status := statusOf(t, errOf(svc.JoinByInviteCode(context.Background(), "u1", "ended"))); status != http.StatusBadRequest {
		t.Fatalf("terminal session: expected 400, got %d", status)
	}
	if status := statusOf(t, errOf(svc.JoinByInviteCode(context.Background(), "gone", "abc123"))); status != http.StatusForbidden {
		t.Fatalf("kicked rejoin: expected 403, got %d", status)
	}

	if _, err := svc.JoinByInviteCode(context.Background(), "u1", "abc123"); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if p := repo.participants["s1"]["u1"]; p.Role != RoleStudent || p.CanEdit {
		t.Fatalf("unexpected student participant: %+v", p)
	}

	// Idempotent re-join: no duplicate, no error.
	before := len(repo.participants["s1"])
	if _, err := svc.JoinByInviteCode(context.Background(), "u1", "abc123"); err != nil {
		t.Fatalf("re-join: %v", err)
	}
	if len(repo.participants["s1"]) != before {
		t.Fatal("re-join must not create another row")
	}

	// The owner joins as mentor.
	if _, err := svc.JoinByInviteCode(context.Background(), "owner", "abc123"); err != nil {
		t.Fatalf("owner join: %v", err)
	}
	if p := repo.participants["s1"]["owner"]; p.Role != RoleMentor || !p.CanEdit {
		t.Fatalf("owner should join as mentor with edit rights: %+v", p)
	}
}

func TestKick(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	repo.sessions["s1"] = Session{ID: "s1", OwnerID: "owner", Status: StatusLive}
	repo.participants["s1"] = map[string]Participant{
		"owner": {SessionID: "s1", UserID: "owner", Role: RoleMentor, CanEdit: true, CanShareScreen: true},
		"b":     {SessionID: "s1", UserID: "b", Role: RoleStudent, CanEdit: true, CanShareScreen: true},
	}

	if status := statusOf(t, errOf(svc.Kick(context.Background(), "owner", "missing", "b"))); status != http.StatusNotFound {
		t.Fatalf("unknown session: expected 404, got %d", status)
	}
	if status := statusOf(t, errOf(svc.Kick(context.Background(), "b", "s1", "owner"))); status != http.StatusForbidden {
		t.Fatalf("non-owner: expected 403, got %d", status)
	}
	if status := statusOf(t, errOf(svc.Kick(context.Background(), "owner", "s1", "owner"))); status != http.StatusBadRequest {
		t.Fatalf("self-kick: expected 400, got %d", status)
	}

	p, err := svc.Kick(context.Background(), "owner", "s1", "b")
	if err != nil {
		t.Fatalf("kick: %v", err)
	}
	if p.KickedAt == nil || p.CanEdit || p.CanShareScreen {
		t.Fatalf("kick must set kicked_at and clear both flags: %+v", p)
	}

	// Kicking again is "already removed", surfaced as not found.
	if status := statusOf(t, errOf(svc.Kick(context.Background(), "owner", "s1", "b"))); status != http.StatusNotFound {
		t.Fatalf("double kick: expected 404, got %d", status)
	}
}

func TestUpdatePermissions(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	repo.sessions["s1"] = Session{ID: "s1", OwnerID: "owner", Status: StatusLive}
	repo.participants["s1"] = map[string]Participant{
		"b": {SessionID: "s1", UserID: "b", Role: RoleStudent, CanEdit: false, CanShareScreen: true},
	}

	_, err := svc.UpdatePermissions(context.Background(), "owner", "s1", "b", PermissionPatch{})
	if status := statusOf(t, err); status != http.StatusBadRequest {
		t.Fatalf("empty patch: expected 400, got %d", status)
	}
	if repo.updateCalls != 0 {
		t.Fatal("empty patch must not touch the store")
	}

	tr := true
	if _, err := svc.UpdatePermissions(context.Background(), "b", "s1", "b", PermissionPatch{CanEdit: &tr}); apierror.From(err).Status != http.StatusForbidden {
		t.Fatalf("non-owner: expected 403, got %v", err)
	}

	p, err := svc.UpdatePermissions(context.Background(), "owner", "s1", "b", PermissionPatch{CanEdit: &tr})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if !p.CanEdit {
		t.Fatal("can_edit should be granted")
	}
	if !p.CanShareScreen {
		t.Fatal("omitted can_share_screen must stay untouched")
	}
}

func TestUpdateSessionSettings(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	repo.sessions["s1"] = Session{ID: "s1", OwnerID: "owner", Status: StatusLive, Title: "old"}

	_, err := svc.UpdateSessionSettings(context.Background(), "owner", "s1", SessionPatch{})
	if status := statusOf(t, err); status != http.StatusBadRequest {
		t.Fatalf("empty patch: expected 400, got %d", status)
	}
	if repo.updateCalls != 0 {
		t.Fatal("empty patch must not touch the store")
	}

	title := "new"
	if _, err := svc.UpdateSessionSettings(context.Background(), "mallory", "s1", SessionPatch{Title: &title}); apierror.From(err).Status != http.StatusForbidden {
		t.Fatalf("non-owner: expected 403, got %v", err)
	}

	backward := StatusScheduled
	if _, err := svc.UpdateSessionSettings(context.Background(), "owner", "s1", SessionPatch{Status: &backward}); apierror.From(err).Status != http.StatusBadRequest {
		t.Fatalf("backward status: expected 400, got %v", err)
	}
	bogus := "paused"
	if _, err := svc.UpdateSessionSettings(context.Background(), "owner", "s1", SessionPatch{Status: &bogus}); apierror.From(err).Status != http.StatusBadRequest {
		t.Fatalf("unknown status: expected 400, got %v", err)
	}

	completed := StatusCompleted
	updated, err := svc.UpdateSessionSettings(context.Background(), "owner", "s1", SessionPatch{Title: &title, Status: &completed})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if updated.Title != "new" || updated.Status != StatusCompleted {
		t.Fatalf("unexpected session after patch: %+v", updated)
	}
	if updated.DurationMinutes != nil {
		t.Fatal("omitted duration must stay untouched")
	}

	// Terminal sessions cannot change status again.
	backToLive := StatusLive
	if _, err := svc.UpdateSessionSettings(context.Background(), "owner", "s1", SessionPatch{Status: &backToLive}); apierror.From(err).Status != http.StatusBadRequest {
		t.Fatalf("terminal transition: expected 400, got %v", err)
	}
}

func TestAppendMessage(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	repo.sessions["s1"] = Session{ID: "s1", OwnerID: "owner", Status: StatusLive}
	repo.participants["s1"] = map[string]Participant{
		"b": {SessionID: "s1", UserID: "b", Role: RoleStudent},
	}

	if _, err := svc.AppendMessage(context.Background(), "b", "s1", "", "", time.Time{}); apierror.From(err).Status != http.StatusBadRequest {
		t.Fatalf("empty text: expected 400, got %v", err)
	}
	if _, err := svc.AppendMessage(context.Background(), "stranger", "s1", "", "hi", time.Time{}); apierror.From(err).Status != http.StatusForbidden {
		t.Fatalf("non-member: expected 403, got %v", err)
	}

	msg, err := svc.AppendMessage(context.Background(), "b", "s1", "", "hi", time.Time{})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if msg.ID == "" || msg.AuthorID != "b" || msg.Text != "hi" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if len(repo.messages) != 1 {
		t.Fatal("message should be persisted")
	}

	// A store failure surfaces as service unavailable and persists nothing.
	repo.storeErr = errors.New("db down")
	repo.participants["s1"]["b"] = Participant{SessionID: "s1", UserID: "b"}
	if _, err := svc.AppendMessage(context.Background(), "b", "s1", "", "hi again", time.Time{}); apierror.From(err).Status != http.StatusInternalServerError {
		t.Fatalf("store failure: expected 500, got %v", err)
	}
}
