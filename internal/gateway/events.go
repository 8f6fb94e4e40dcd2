package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/codest0411/OneWise-b/internal/session"
	"github.com/codest0411/OneWise-b/pkg/apierror"
)

// Inbound event names.
const (
	evSessionJoin  = "session:join"
	evSessionLeave = "session:leave"
	evChatMessage  = "chat:message"
	evCodeUpdate   = "code:update"
	evCodeRun      = "code:run"
	evPermissions  = "permissions:update"
	evMediaState   = "media:state"
)

// Outbound event names.
const (
	evSessionJoined = "session:joined"
	evSessionError  = "session:error"
	evCodeRunResult = "code:run-result"
)

// Signaling events relayed opaquely, sender excluded.
var relayEvents = map[string]bool{
	"webrtc:ready":         true,
	"webrtc:offer":         true,
	"webrtc:answer":        true,
	"webrtc:ice-candidate": true,
	"webrtc:end":           true,
	evMediaState:           true,
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ack   *int64          `json:"ack,omitempty"`
}

// author is the identity shape embedded in fan-out payloads.
type author struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (g *Gateway) dispatch(c *Conn, raw []byte) {
	var env inbound
	if err := json.Unmarshal(raw, &env); err != nil {
		g.fail(c, inbound{}, apierror.BadRequest("Malformed event"))
		return
	}

	// Every handler assumes a validated identity; a connection without one is
	// torn down, not served.
	if c.user.ID == "" {
		c.Close()
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	switch {
	case env.Event == evSessionJoin:
		g.handleJoin(ctx, c, env)
	case env.Event == evSessionLeave:
		g.router.Leave(c)
		g.ok(c, env)
	case env.Event == evChatMessage:
		g.handleChat(ctx, c, env)
	case env.Event == evCodeUpdate:
		g.handleCodeUpdate(ctx, c, env)
	case env.Event == evCodeRun:
		g.handleCodeRun(ctx, c, env)
	case env.Event == evPermissions:
		g.handlePermissions(ctx, c, env)
	case relayEvents[env.Event]:
		g.handleRelay(c, env)
	default:
		g.fail(c, env, apierror.BadRequest("Unknown event: "+env.Event))
	}
}

func (g *Gateway) handleJoin(ctx context.Context, c *Conn, env inbound) {
	var data struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.SessionID == "" {
		g.fail(c, env, apierror.BadRequest("sessionId is required"))
		return
	}

	if _, err := g.svc.EnsureParticipant(ctx, c.user.ID, data.SessionID); err != nil {
		g.fail(c, env, err)
		return
	}

	g.router.Join(c, data.SessionID)
	c.Send(evSessionJoined, map[string]string{"sessionId": data.SessionID})
	g.ok(c, env)
}

func (g *Gateway) handleChat(ctx context.Context, c *Conn, env inbound) {
	var data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
		Time string `json:"time"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Text == "" {
		g.fail(c, env, apierror.BadRequest("Message text is required"))
		return
	}

	sessionID, ok := g.router.SessionOf(c.ID())
	if !ok {
		g.fail(c, env, apierror.Forbidden("Join a session before sending messages"))
		return
	}

	// AppendMessage re-validates membership and persists before anyone sees
	// the message; a store failure means no broadcast at all.
	msg, err := g.svc.AppendMessage(ctx, c.user.ID, sessionID, data.ID, data.Text, time.Time{})
	if err != nil {
		g.fail(c, env, err)
		return
	}

	g.router.Broadcast(sessionID, evChatMessage, map[string]any{
		"id":        msg.ID,
		"text":      msg.Text,
		"time":      msg.CreatedAt.Format(time.RFC3339),
		"author":    g.author(c),
		"sessionId": sessionID,
	}, "")
	g.ok(c, env)
}

func (g *Gateway) handleCodeUpdate(ctx context.Context, c *Conn, env inbound) {
	var data struct {
		Code     string `json:"code"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Code == "" {
		g.fail(c, env, apierror.BadRequest("Code is required"))
		return
	}

	sessionID, ok := g.router.SessionOf(c.ID())
	if !ok {
		g.fail(c, env, apierror.Forbidden("Join a session before editing code"))
		return
	}

	snap, err := g.svc.SaveCodeSnapshot(ctx, c.user.ID, sessionID, data.Code, data.Language)
	if err != nil {
		g.fail(c, env, err)
		return
	}

	g.router.Broadcast(sessionID, evCodeUpdate, map[string]any{
		"code":      snap.Code,
		"language":  snap.Language,
		"sessionId": sessionID,
		"authorId":  c.user.ID,
		"updatedAt": snap.CreatedAt.Format(time.RFC3339),
	}, "")
	g.ok(c, env)
}

func (g *Gateway) handleCodeRun(ctx context.Context, c *Conn, env inbound) {
	var data struct {
		Code     string `json:"code"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Code == "" {
		g.fail(c, env, apierror.BadRequest("Code is required"))
		return
	}

	sessionID, ok := g.router.SessionOf(c.ID())
	if !ok {
		g.fail(c, env, apierror.Forbidden("Join a session before running code"))
		return
	}
	if _, err := g.svc.EnsureParticipant(ctx, c.user.ID, sessionID); err != nil {
		g.fail(c, env, err)
		return
	}

	result := g.exec.Run(ctx, data.Code, data.Language)

	g.router.Broadcast(sessionID, evCodeRunResult, map[string]any{
		"id":            uuid.NewString(),
		"language":      data.Language,
		"output":        result.Output,
		"error":         result.Error,
		"executionTime": result.ExecutionTime,
		"author":        g.author(c),
		"authorId":      c.user.ID,
		"time":          time.Now().UTC().Format(time.RFC3339),
	}, "")
	g.ok(c, env)
}

func (g *Gateway) handlePermissions(ctx context.Context, c *Conn, env inbound) {
	var data struct {
		UserID         string `json:"userId"`
		CanEdit        *bool  `json:"canEdit,omitempty"`
		CanShareScreen *bool  `json:"canShareScreen,omitempty"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.UserID == "" {
		g.fail(c, env, apierror.BadRequest("userId is required"))
		return
	}

	sessionID, ok := g.router.SessionOf(c.ID())
	if !ok {
		g.fail(c, env, apierror.Forbidden("Join a session before changing permissions"))
		return
	}

	p, err := g.svc.UpdatePermissions(ctx, c.user.ID, sessionID, data.UserID, session.PermissionPatch{
		CanEdit:        data.CanEdit,
		CanShareScreen: data.CanShareScreen,
	})
	if err != nil {
		g.fail(c, env, err)
		return
	}

	g.router.Broadcast(sessionID, evPermissions, map[string]any{
		"sessionId":        sessionID,
		"user_id":          p.UserID,
		"role":             p.Role,
		"can_edit":         p.CanEdit,
		"can_share_screen": p.CanShareScreen,
		"updated_by":       c.user.ID,
	}, "")
	g.ok(c, env)
}

// handleRelay forwards signaling payloads opaquely to the rest of the room.
// Without a joined room the event is silently dropped.
func (g *Gateway) handleRelay(c *Conn, env inbound) {
	sessionID, ok := g.router.SessionOf(c.ID())
	if !ok {
		return
	}
	g.router.Broadcast(sessionID, env.Event, env.Data, c.ID())
	g.ok(c, env)
}

func (g *Gateway) author(c *Conn) author {
	return author{ID: c.user.ID, Name: c.user.Name, Email: c.user.Email, Role: c.user.Role}
}

func (g *Gateway) ok(c *Conn, env inbound) {
	if env.Ack != nil {
		c.sendAck(*env.Ack, true, "")
	}
}

// fail acknowledges the failure and emits the companion error event.
func (g *Gateway) fail(c *Conn, env inbound, err error) {
	apiErr := apierror.From(err)
	if env.Ack != nil {
		c.sendAck(*env.Ack, false, apiErr.Message)
	}
	c.Send(evSessionError, map[string]string{"message": apiErr.Message})
}
