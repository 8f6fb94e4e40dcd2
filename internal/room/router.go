package room

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/codest0411/OneWise-b/pkg/bus"
)

// Client is one live, authenticated connection admitted to a room. Send is
// fire-and-forget; delivery failures are the client's problem.
type Client interface {
	ID() string
	UserID() string
	Send(event string, payload any)
}

// envelope is the relay format published to NATS so members connected to
// other instances receive room events too.
type envelope struct {
	Instance string          `json:"instance"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
	Exclude  string          `json:"exclude,omitempty"`
}

// Router maps session ids to their live member connections and fans out
// events. A connection holds at most one room at a time; joining another room
// leaves the current one first.
type Router struct {
	instanceID string
	nc         *nats.Conn
	logger     zerolog.Logger

	mu       sync.RWMutex
	rooms    map[string]map[string]Client
	sessions map[string]string
	sub      *nats.Subscription
}

func NewRouter(instanceID string, nc *nats.Conn, logger zerolog.Logger) *Router {
	return &Router{
		instanceID: instanceID,
		nc:         nc,
		logger:     logger,
		rooms:      make(map[string]map[string]Client),
		sessions:   make(map[string]string),
	}
}

// Subscribe starts relaying room events published by other instances. With no
// NATS connection the router stays local-only.
func (r *Router) Subscribe() error {
	if r.nc == nil {
		return nil
	}
	sub, err := r.nc.Subscribe(bus.SubjectRoomWildcard, r.handleRelay)
	if err != nil {
		return err
	}
	r.sub = sub
	return nil
}

func (r *Router) Close() {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
}

// Join admits the client to the session's room. Admission control has already
// been done by the caller; the router only tracks membership. Joining while in
// another room leaves that room first, never silently overwrites.
func (r *Router) Join(c Client, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[c.ID()]; ok && prev != sessionID {
		r.removeLocked(c.ID(), prev)
	}
	if r.rooms[sessionID] == nil {
		r.rooms[sessionID] = make(map[string]Client)
	}
	r.rooms[sessionID][c.ID()] = c
	r.sessions[c.ID()] = sessionID
}

// Leave removes the client from its current room, if any.
func (r *Router) Leave(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sessionID, ok := r.sessions[c.ID()]; ok {
		r.removeLocked(c.ID(), sessionID)
	}
}

// Disconnect is the teardown path; identical to Leave but named for intent.
func (r *Router) Disconnect(c Client) {
	r.Leave(c)
}

func (r *Router) removeLocked(connID, sessionID string) {
	delete(r.sessions, connID)
	if members := r.rooms[sessionID]; members != nil {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, sessionID)
		}
	}
}

// SessionOf returns the session the connection currently sits in.
func (r *Router) SessionOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.sessions[connID]
	return sessionID, ok
}

// MemberCount reports the local room size.
func (r *Router) MemberCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[sessionID])
}

// Broadcast fans the event out to every local member of the room, optionally
// skipping the sending connection, then relays it to the other instances.
// Delivery is best effort with no acknowledgment aggregation.
func (r *Router) Broadcast(sessionID, event string, payload any, excludeConnID string) {
	r.deliverLocal(sessionID, event, payload, excludeConnID)
	r.publish(sessionID, event, payload, excludeConnID)
}

func (r *Router) deliverLocal(sessionID, event string, payload any, excludeConnID string) {
	r.mu.RLock()
	members := make([]Client, 0, len(r.rooms[sessionID]))
	for connID, c := range r.rooms[sessionID] {
		if connID == excludeConnID {
			continue
		}
		members = append(members, c)
	}
	r.mu.RUnlock()

	for _, c := range members {
		c.Send(event, payload)
	}
}

func (r *Router) publish(sessionID, event string, payload any, excludeConnID string) {
	if r.nc == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error().Err(err).Str("event", event).Msg("encode relay payload")
		return
	}
	data, err := json.Marshal(envelope{
		Instance: r.instanceID,
		Event:    event,
		Payload:  raw,
		Exclude:  excludeConnID,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("event", event).Msg("encode relay envelope")
		return
	}
	if err := r.nc.Publish(bus.RoomSubject(sessionID), data); err != nil {
		r.logger.Warn().Err(err).Str("session_id", sessionID).Msg("relay publish failed")
	}
}

func (r *Router) handleRelay(msg *nats.Msg) {
	sessionID := strings.TrimPrefix(msg.Subject, bus.SubjectRoomPrefix)
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.logger.Warn().Err(err).Msg("invalid relay envelope")
		return
	}
	// Local members already got this instance's broadcasts directly.
	if env.Instance == r.instanceID {
		return
	}
	r.deliverLocal(sessionID, env.Event, env.Payload, env.Exclude)
}
