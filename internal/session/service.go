package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/codest0411/OneWise-b/pkg/apierror"
)

// Invite codes skip visually ambiguous characters.
const (
	inviteCodeAlphabet = "23456789abcdefghjkmnpqrstuvwxyzABCDEFGHJKMNPQRSTUVWXYZ"
	inviteCodeLength   = 10
)

const maxDurationMinutes = 600

// statusRank orders session statuses; a session never moves backward.
var statusRank = map[string]int{
	StatusScheduled: 0,
	StatusLive:      1,
	StatusCompleted: 2,
	StatusCancelled: 2,
}

// Service is the participant state machine: the single authority on who may
// join, speak, edit or administer a session.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// EnsureParticipant is the admission gate used before any room action. It
// succeeds only for an existing, non-kicked membership.
func (s *Service) EnsureParticipant(ctx context.Context, userID, sessionID string) (Participant, error) {
	p, err := s.repo.GetParticipant(ctx, sessionID, userID)
	if errors.Is(err, ErrNotFound) {
		return Participant{}, apierror.Forbidden("You are not a participant of this session")
	}
	if err != nil {
		return Participant{}, s.storeFailure("get participant", err)
	}
	if p.KickedAt != nil {
		return Participant{}, apierror.Forbidden("You have been removed from this session")
	}
	return p, nil
}

// JoinByInviteCode adds the user to the session behind the code. Re-joining
// an existing, non-kicked membership is a no-op.
func (s *Service) JoinByInviteCode(ctx context.Context, userID, code string) (Session, error) {
	sess, err := s.repo.GetSessionByInviteCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return Session{}, apierror.NotFound("Invalid invite code")
	}
	if err != nil {
		return Session{}, s.storeFailure("get session by invite code", err)
	}
	if sess.Terminal() {
		return Session{}, apierror.BadRequest("This session has ended")
	}

	existing, err := s.repo.GetParticipant(ctx, sess.ID, userID)
	switch {
	case err == nil:
		if existing.KickedAt != nil {
			return Session{}, apierror.Forbidden("You have been removed from this session")
		}
		return sess, nil
	case !errors.Is(err, ErrNotFound):
		return Session{}, s.storeFailure("get participant", err)
	}

	role := RoleStudent
	if userID == sess.OwnerID {
		role = RoleMentor
	}
	err = s.repo.InsertParticipant(ctx, Participant{
		SessionID:      sess.ID,
		UserID:         userID,
		Role:           role,
		CanEdit:        role == RoleMentor,
		CanShareScreen: role == RoleMentor,
	})
	if errors.Is(err, ErrConflict) {
		// Concurrent join of the same user; the membership exists now.
		return sess, nil
	}
	if err != nil {
		return Session{}, s.storeFailure("insert participant", err)
	}
	return sess, nil
}

// CreateSession creates the session row plus its initial participants: the
// owner as mentor and one student row per requested id. The session row and
// the participant rows are not atomic, so a participant failure rolls the
// session back with a compensating delete.
func (s *Service) CreateSession(ctx context.Context, ownerID string, input CreateSessionInput) (Session, error) {
	if input.Title == "" {
		return Session{}, apierror.BadRequest("Title is required")
	}
	if input.DurationMinutes != nil && (*input.DurationMinutes <= 0 || *input.DurationMinutes > maxDurationMinutes) {
		return Session{}, apierror.BadRequest("Duration must be between 1 and 600 minutes")
	}

	code, err := gonanoid.Generate(inviteCodeAlphabet, inviteCodeLength)
	if err != nil {
		return Session{}, s.storeFailure("generate invite code", err)
	}

	sess := Session{
		ID:              uuid.NewString(),
		Title:           input.Title,
		Status:          StatusScheduled,
		ScheduledAt:     input.ScheduledAt,
		DurationMinutes: input.DurationMinutes,
		OwnerID:         ownerID,
		InviteCode:      code,
		AllowCollab:     boolOrDefault(input.AllowCollab, true),
		AllowChat:       boolOrDefault(input.AllowChat, true),
		AllowVideo:      boolOrDefault(input.AllowVideo, true),
		Metadata:        input.Metadata,
	}

	created, err := s.repo.InsertSession(ctx, sess)
	if err != nil {
		return Session{}, s.storeFailure("insert session", err)
	}

	participants := []Participant{{
		SessionID:      created.ID,
		UserID:         ownerID,
		Role:           RoleMentor,
		CanEdit:        true,
		CanShareScreen: true,
	}}
	for _, studentID := range dedupe(input.StudentIDs, ownerID) {
		participants = append(participants, Participant{
			SessionID: created.ID,
			UserID:    studentID,
			Role:      RoleStudent,
		})
	}

	for _, p := range participants {
		if err := s.repo.InsertParticipant(ctx, p); err != nil {
			if delErr := s.repo.DeleteSession(ctx, created.ID); delErr != nil {
				s.logger.Error().Err(delErr).Str("session_id", created.ID).Msg("compensating session delete failed")
			}
			return Session{}, s.storeFailure("insert participant", err)
		}
	}
	return created, nil
}

// Kick removes a participant from the session. Only the session's creator may
// kick; an already-kicked or unknown participant reports the same not-found
// outcome.
func (s *Service) Kick(ctx context.Context, mentorID, sessionID, targetUserID string) (Participant, error) {
	sess, err := s.repo.GetSessionByID(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return Participant{}, apierror.NotFound("Session not found")
	}
	if err != nil {
		return Participant{}, s.storeFailure("get session", err)
	}
	if sess.OwnerID != mentorID {
		return Participant{}, apierror.Forbidden("Only the session owner can remove participants")
	}
	if targetUserID == mentorID {
		return Participant{}, apierror.BadRequest("You cannot remove yourself")
	}

	p, err := s.repo.KickParticipant(ctx, sessionID, targetUserID, time.Now().UTC())
	if errors.Is(err, ErrNotFound) {
		return Participant{}, apierror.NotFound("Participant not found or already removed")
	}
	if err != nil {
		return Participant{}, s.storeFailure("kick participant", err)
	}
	return p, nil
}

// UpdatePermissions applies a partial permission patch; omitted flags stay
// untouched.
func (s *Service) UpdatePermissions(ctx context.Context, mentorID, sessionID, targetUserID string, patch PermissionPatch) (Participant, error) {
	if patch.Empty() {
		return Participant{}, apierror.BadRequest("No permission fields supplied")
	}

	sess, err := s.repo.GetSessionByID(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return Participant{}, apierror.NotFound("Session not found")
	}
	if err != nil {
		return Participant{}, s.storeFailure("get session", err)
	}
	if sess.OwnerID != mentorID {
		return Participant{}, apierror.Forbidden("Only the session owner can change permissions")
	}

	p, err := s.repo.UpdateParticipant(ctx, sessionID, targetUserID, patch)
	if errors.Is(err, ErrNotFound) {
		return Participant{}, apierror.NotFound("Participant not found")
	}
	if err != nil {
		return Participant{}, s.storeFailure("update participant", err)
	}
	return p, nil
}

// UpdateSessionSettings applies a partial session patch. Status can only move
// forward; completed and cancelled are terminal.
func (s *Service) UpdateSessionSettings(ctx context.Context, mentorID, sessionID string, patch SessionPatch) (Session, error) {
	if patch.Empty() {
		return Session{}, apierror.BadRequest("No fields supplied")
	}
	if patch.DurationMinutes != nil && (*patch.DurationMinutes <= 0 || *patch.DurationMinutes > maxDurationMinutes) {
		return Session{}, apierror.BadRequest("Duration must be between 1 and 600 minutes")
	}

	sess, err := s.repo.GetSessionByID(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return Session{}, apierror.NotFound("Session not found")
	}
	if err != nil {
		return Session{}, s.storeFailure("get session", err)
	}
	if sess.OwnerID != mentorID {
		return Session{}, apierror.Forbidden("Only the session owner can update this session")
	}

	if patch.Status != nil {
		next, ok := statusRank[*patch.Status]
		if !ok {
			return Session{}, apierror.BadRequest("Unknown session status")
		}
		if sess.Terminal() && *patch.Status != sess.Status {
			return Session{}, apierror.BadRequest("Session is already in a terminal state")
		}
		if next < statusRank[sess.Status] {
			return Session{}, apierror.BadRequest("Session status cannot move backward")
		}
	}

	updated, err := s.repo.UpdateSession(ctx, sessionID, mentorID, patch)
	if errors.Is(err, ErrNotFound) {
		return Session{}, apierror.NotFound("Session not found")
	}
	if err != nil {
		return Session{}, s.storeFailure("update session", err)
	}
	return updated, nil
}

// AppendMessage persists a chat message after admission. The write must
// succeed before any broadcast happens.
func (s *Service) AppendMessage(ctx context.Context, authorID, sessionID, id, text string, at time.Time) (Message, error) {
	if text == "" {
		return Message{}, apierror.BadRequest("Message text is required")
	}
	if _, err := s.EnsureParticipant(ctx, authorID, sessionID); err != nil {
		return Message{}, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	m := Message{ID: id, SessionID: sessionID, AuthorID: authorID, Text: text, CreatedAt: at}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return Message{}, s.storeFailure("insert message", err)
	}
	return m, nil
}

// SaveCodeSnapshot persists one code-update fact before it is fanned out.
func (s *Service) SaveCodeSnapshot(ctx context.Context, authorID, sessionID, code, language string) (CodeSnapshot, error) {
	if code == "" {
		return CodeSnapshot{}, apierror.BadRequest("Code is required")
	}
	if _, err := s.EnsureParticipant(ctx, authorID, sessionID); err != nil {
		return CodeSnapshot{}, err
	}
	cs := CodeSnapshot{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		AuthorID:  authorID,
		Code:      code,
		Language:  language,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.InsertCodeSnapshot(ctx, cs); err != nil {
		return CodeSnapshot{}, s.storeFailure("insert code snapshot", err)
	}
	return cs, nil
}

// GetSession returns a session to one of its participants.
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (Session, error) {
	if _, err := s.EnsureParticipant(ctx, userID, sessionID); err != nil {
		return Session{}, err
	}
	sess, err := s.repo.GetSessionByID(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return Session{}, apierror.NotFound("Session not found")
	}
	if err != nil {
		return Session{}, s.storeFailure("get session", err)
	}
	return sess, nil
}

func (s *Service) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	sessions, err := s.repo.ListSessionsForUser(ctx, userID)
	if err != nil {
		return nil, s.storeFailure("list sessions", err)
	}
	return sessions, nil
}

func (s *Service) ListParticipants(ctx context.Context, userID, sessionID string) ([]Participant, error) {
	if _, err := s.EnsureParticipant(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	participants, err := s.repo.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, s.storeFailure("list participants", err)
	}
	return participants, nil
}

func (s *Service) ListMessages(ctx context.Context, userID, sessionID string, limit int) ([]Message, error) {
	if _, err := s.EnsureParticipant(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	messages, err := s.repo.ListMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, s.storeFailure("list messages", err)
	}
	return messages, nil
}

func (s *Service) ListCodeSnapshots(ctx context.Context, userID, sessionID string, limit int) ([]CodeSnapshot, error) {
	if _, err := s.EnsureParticipant(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	snapshots, err := s.repo.ListCodeSnapshots(ctx, sessionID, limit)
	if err != nil {
		return nil, s.storeFailure("list code snapshots", err)
	}
	return snapshots, nil
}

// GetUserRole backs the identity role-resolution fallback.
func (s *Service) GetUserRole(ctx context.Context, userID string) (string, error) {
	role, err := s.repo.GetUserRole(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return role, err
}

// storeFailure logs the raw store diagnostic and returns the uniform
// service-unavailable classification.
func (s *Service) storeFailure(operation string, err error) error {
	s.logger.Error().Err(err).Str("operation", operation).Msg("store failure")
	return apierror.Unavailable(operation)
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func dedupe(ids []string, exclude string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
