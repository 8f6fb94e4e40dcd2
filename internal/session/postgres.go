package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id::text, title, status, scheduled_at, duration_minutes, owner_id::text, invite_code, allow_collab, allow_chat, allow_video, metadata, created_at`

func scanSession(row *sql.Row) (Session, error) {
	var s Session
	var metadata []byte
	err := row.Scan(&s.ID, &s.Title, &s.Status, &s.ScheduledAt, &s.DurationMinutes,
		&s.OwnerID, &s.InviteCode, &s.AllowCollab, &s.AllowChat, &s.AllowVideo,
		&metadata, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return Session{}, fmt.Errorf("decode session metadata: %w", err)
		}
	}
	return s, nil
}

func (r *PostgresRepository) GetSessionByID(ctx context.Context, id string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepository) GetSessionByInviteCode(ctx context.Context, code string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE invite_code = $1`
	return scanSession(r.db.QueryRowContext(ctx, q, code))
}

func (r *PostgresRepository) InsertSession(ctx context.Context, s Session) (Session, error) {
	metadata, err := json.Marshal(s.Metadata)
	if err != nil {
		return Session{}, fmt.Errorf("encode session metadata: %w", err)
	}
	q := `INSERT INTO sessions (id, title, status, scheduled_at, duration_minutes, owner_id, invite_code, allow_collab, allow_chat, allow_video, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + sessionColumns
	row := r.db.QueryRowContext(ctx, q, s.ID, s.Title, s.Status, s.ScheduledAt, s.DurationMinutes,
		s.OwnerID, s.InviteCode, s.AllowCollab, s.AllowChat, s.AllowVideo, metadata)
	out, err := scanSession(row)
	if isUniqueViolation(err) {
		return Session{}, ErrConflict
	}
	return out, err
}

func (r *PostgresRepository) UpdateSession(ctx context.Context, id, ownerID string, patch SessionPatch) (Session, error) {
	set := make([]string, 0, 8)
	args := make([]any, 0, 10)
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.ScheduledAt != nil {
		add("scheduled_at", *patch.ScheduledAt)
	}
	if patch.DurationMinutes != nil {
		add("duration_minutes", *patch.DurationMinutes)
	}
	if patch.AllowCollab != nil {
		add("allow_collab", *patch.AllowCollab)
	}
	if patch.AllowChat != nil {
		add("allow_chat", *patch.AllowChat)
	}
	if patch.AllowVideo != nil {
		add("allow_video", *patch.AllowVideo)
	}
	if patch.Metadata != nil {
		metadata, err := json.Marshal(patch.Metadata)
		if err != nil {
			return Session{}, fmt.Errorf("encode session metadata: %w", err)
		}
		add("metadata", metadata)
	}
	if len(set) == 0 {
		return Session{}, ErrNotFound
	}

	// Ownership filter applied at the store level.
	args = append(args, id, ownerID)
	q := fmt.Sprintf(`UPDATE sessions SET %s WHERE id = $%d AND owner_id = $%d RETURNING `+sessionColumns,
		strings.Join(set, ", "), len(args)-1, len(args))
	return scanSession(r.db.QueryRowContext(ctx, q, args...))
}

func (r *PostgresRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) ListSessionsForUser(ctx context.Context, userID string) ([]Session, error) {
	q := `SELECT s.id::text, s.title, s.status, s.scheduled_at, s.duration_minutes, s.owner_id::text,
			s.invite_code, s.allow_collab, s.allow_chat, s.allow_video, s.metadata, s.created_at
		FROM sessions s
		JOIN participants p ON p.session_id = s.id
		WHERE p.user_id = $1 AND p.kicked_at IS NULL
		ORDER BY s.created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var metadata []byte
		if err := rows.Scan(&s.ID, &s.Title, &s.Status, &s.ScheduledAt, &s.DurationMinutes,
			&s.OwnerID, &s.InviteCode, &s.AllowCollab, &s.AllowChat, &s.AllowVideo,
			&metadata, &s.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
				return nil, fmt.Errorf("decode session metadata: %w", err)
			}
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

const participantColumns = `session_id::text, user_id::text, role, can_edit, can_share_screen, joined_at, kicked_at`

func scanParticipant(row *sql.Row) (Participant, error) {
	var p Participant
	err := row.Scan(&p.SessionID, &p.UserID, &p.Role, &p.CanEdit, &p.CanShareScreen, &p.JoinedAt, &p.KickedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Participant{}, ErrNotFound
	}
	return p, err
}

func (r *PostgresRepository) GetParticipant(ctx context.Context, sessionID, userID string) (Participant, error) {
	q := `SELECT ` + participantColumns + ` FROM participants WHERE session_id = $1 AND user_id = $2`
	return scanParticipant(r.db.QueryRowContext(ctx, q, sessionID, userID))
}

func (r *PostgresRepository) InsertParticipant(ctx context.Context, p Participant) error {
	q := `INSERT INTO participants (session_id, user_id, role, can_edit, can_share_screen)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, q, p.SessionID, p.UserID, p.Role, p.CanEdit, p.CanShareScreen)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r *PostgresRepository) UpdateParticipant(ctx context.Context, sessionID, userID string, patch PermissionPatch) (Participant, error) {
	set := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if patch.CanEdit != nil {
		args = append(args, *patch.CanEdit)
		set = append(set, fmt.Sprintf("can_edit = $%d", len(args)))
	}
	if patch.CanShareScreen != nil {
		args = append(args, *patch.CanShareScreen)
		set = append(set, fmt.Sprintf("can_share_screen = $%d", len(args)))
	}
	if len(set) == 0 {
		return Participant{}, ErrNotFound
	}
	args = append(args, sessionID, userID)
	q := fmt.Sprintf(`UPDATE participants SET %s WHERE session_id = $%d AND user_id = $%d RETURNING `+participantColumns,
		strings.Join(set, ", "), len(args)-1, len(args))
	return scanParticipant(r.db.QueryRowContext(ctx, q, args...))
}

// KickParticipant only succeeds on a row that is not already kicked, and
// clears both permission flags in the same statement.
func (r *PostgresRepository) KickParticipant(ctx context.Context, sessionID, userID string, at time.Time) (Participant, error) {
	q := `UPDATE participants
		SET kicked_at = $1, can_edit = FALSE, can_share_screen = FALSE
		WHERE session_id = $2 AND user_id = $3 AND kicked_at IS NULL
		RETURNING ` + participantColumns
	return scanParticipant(r.db.QueryRowContext(ctx, q, at, sessionID, userID))
}

func (r *PostgresRepository) ListParticipants(ctx context.Context, sessionID string) ([]Participant, error) {
	q := `SELECT ` + participantColumns + ` FROM participants WHERE session_id = $1 ORDER BY joined_at`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.SessionID, &p.UserID, &p.Role, &p.CanEdit, &p.CanShareScreen, &p.JoinedAt, &p.KickedAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (r *PostgresRepository) InsertMessage(ctx context.Context, m Message) error {
	q := `INSERT INTO messages (id, session_id, author_id, text, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, q, m.ID, m.SessionID, m.AuthorID, m.Text, m.CreatedAt)
	return err
}

func (r *PostgresRepository) InsertCodeSnapshot(ctx context.Context, cs CodeSnapshot) error {
	q := `INSERT INTO code_snapshots (id, session_id, author_id, code, language, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, q, cs.ID, cs.SessionID, cs.AuthorID, cs.Code, cs.Language, cs.CreatedAt)
	return err
}

func (r *PostgresRepository) ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	q := `SELECT id::text, session_id::text, author_id::text, text, created_at
		FROM messages WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.AuthorID, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *PostgresRepository) ListCodeSnapshots(ctx context.Context, sessionID string, limit int) ([]CodeSnapshot, error) {
	q := `SELECT id::text, session_id::text, author_id::text, code, language, created_at
		FROM code_snapshots WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []CodeSnapshot
	for rows.Next() {
		var cs CodeSnapshot
		if err := rows.Scan(&cs.ID, &cs.SessionID, &cs.AuthorID, &cs.Code, &cs.Language, &cs.CreatedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, cs)
	}
	return snapshots, rows.Err()
}

func (r *PostgresRepository) GetUserRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := r.db.QueryRowContext(ctx, `SELECT role FROM profiles WHERE id = $1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return role, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
