package session

import (
	"context"
	"errors"
	"time"
)

// Store-level outcomes the service maps onto its own classifications.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Repository is the persistence contract for sessions, participants and the
// append-only message/snapshot streams. Implementations surface a
// unique-constraint violation as ErrConflict and an absent row as ErrNotFound;
// anything else is an opaque store failure.
type Repository interface {
	GetParticipant(ctx context.Context, sessionID, userID string) (Participant, error)
	InsertParticipant(ctx context.Context, p Participant) error
	UpdateParticipant(ctx context.Context, sessionID, userID string, patch PermissionPatch) (Participant, error)
	KickParticipant(ctx context.Context, sessionID, userID string, at time.Time) (Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]Participant, error)

	GetSessionByID(ctx context.Context, id string) (Session, error)
	GetSessionByInviteCode(ctx context.Context, code string) (Session, error)
	InsertSession(ctx context.Context, s Session) (Session, error)
	UpdateSession(ctx context.Context, id, ownerID string, patch SessionPatch) (Session, error)
	DeleteSession(ctx context.Context, id string) error
	ListSessionsForUser(ctx context.Context, userID string) ([]Session, error)

	InsertMessage(ctx context.Context, m Message) error
	InsertCodeSnapshot(ctx context.Context, cs CodeSnapshot) error
	ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)
	ListCodeSnapshots(ctx context.Context, sessionID string, limit int) ([]CodeSnapshot, error)

	GetUserRole(ctx context.Context, userID string) (string, error)
}
