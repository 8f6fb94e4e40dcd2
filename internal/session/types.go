package session

import "time"

// Session statuses. A session only moves forward through these.
const (
	StatusScheduled = "scheduled"
	StatusLive      = "live"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Participant roles.
const (
	RoleMentor  = "mentor"
	RoleStudent = "student"
)

type Session struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Status          string            `json:"status"`
	ScheduledAt     *time.Time        `json:"scheduled_at,omitempty"`
	DurationMinutes *int              `json:"duration_minutes,omitempty"`
	OwnerID         string            `json:"owner_id"`
	InviteCode      string            `json:"invite_code"`
	AllowCollab     bool              `json:"allow_collab"`
	AllowChat       bool              `json:"allow_chat"`
	AllowVideo      bool              `json:"allow_video"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Terminal reports whether the session can no longer be joined.
func (s Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusCancelled
}

type Participant struct {
	SessionID      string     `json:"session_id"`
	UserID         string     `json:"user_id"`
	Role           string     `json:"role"`
	CanEdit        bool       `json:"can_edit"`
	CanShareScreen bool       `json:"can_share_screen"`
	JoinedAt       time.Time  `json:"joined_at"`
	KickedAt       *time.Time `json:"kicked_at,omitempty"`
}

type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type CodeSnapshot struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	AuthorID  string    `json:"author_id"`
	Code      string    `json:"code"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateSessionInput carries the fields a mentor supplies at creation.
// Feature flags default to enabled when omitted.
type CreateSessionInput struct {
	Title           string            `json:"title"`
	ScheduledAt     *time.Time        `json:"scheduled_at,omitempty"`
	DurationMinutes *int              `json:"duration_minutes,omitempty"`
	StudentIDs      []string          `json:"student_ids,omitempty"`
	AllowCollab     *bool             `json:"allow_collab,omitempty"`
	AllowChat       *bool             `json:"allow_chat,omitempty"`
	AllowVideo      *bool             `json:"allow_video,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// SessionPatch is a partial update; nil fields stay untouched.
type SessionPatch struct {
	Title           *string           `json:"title,omitempty"`
	Status          *string           `json:"status,omitempty"`
	ScheduledAt     *time.Time        `json:"scheduled_at,omitempty"`
	DurationMinutes *int              `json:"duration_minutes,omitempty"`
	AllowCollab     *bool             `json:"allow_collab,omitempty"`
	AllowChat       *bool             `json:"allow_chat,omitempty"`
	AllowVideo      *bool             `json:"allow_video,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Empty reports whether the patch supplies no fields at all.
func (p SessionPatch) Empty() bool {
	return p.Title == nil && p.Status == nil && p.ScheduledAt == nil &&
		p.DurationMinutes == nil && p.AllowCollab == nil && p.AllowChat == nil &&
		p.AllowVideo == nil && p.Metadata == nil
}

// PermissionPatch is a partial update of a participant's grants.
type PermissionPatch struct {
	CanEdit        *bool `json:"can_edit,omitempty"`
	CanShareScreen *bool `json:"can_share_screen,omitempty"`
}

func (p PermissionPatch) Empty() bool {
	return p.CanEdit == nil && p.CanShareScreen == nil
}
