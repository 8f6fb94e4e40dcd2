package session

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/codest0411/OneWise-b/internal/identity"
	"github.com/codest0411/OneWise-b/pkg/apierror"
)

// Authenticator resolves a bearer token to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (identity.User, error)
}

// Presence reports whether a user currently holds a live connection.
type Presence interface {
	Online(ctx context.Context, userID string) bool
}

// Handler exposes the synchronous request/response surface over the
// participant state machine.
type Handler struct {
	svc      *Service
	authn    Authenticator
	presence Presence
}

func NewHandler(svc *Service, authn Authenticator, presence Presence) *Handler {
	return &Handler{svc: svc, authn: authn, presence: presence}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/v1/sessions", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions/join", h.handleJoin).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions/{id}", h.handlePatch).Methods(http.MethodPatch)
	r.HandleFunc("/v1/sessions/{id}/kick", h.handleKick).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/{id}/participants", h.handleParticipants).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions/{id}/participants/{userId}/permissions", h.handlePermissions).Methods(http.MethodPatch)
	r.HandleFunc("/v1/sessions/{id}/messages", h.handleListMessages).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions/{id}/messages", h.handlePostMessage).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/{id}/snapshots", h.handleListSnapshots).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions/{id}/snapshots", h.handlePostSnapshot).Methods(http.MethodPost)
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (identity.User, bool) {
	token := identity.BearerFromHeader(r.Header.Get("Authorization"))
	user, err := h.authn.Authenticate(r.Context(), token)
	if err != nil {
		apierror.WriteError(w, err)
		return identity.User{}, false
	}
	return user, true
}

// requireMentor guards the administrative routes by role claim; ownership of
// the specific session is still checked by the service.
func (h *Handler) requireMentor(w http.ResponseWriter, user identity.User) bool {
	if user.Role != identity.RoleMentor {
		apierror.WriteError(w, apierror.Forbidden("Mentor role required"))
		return false
	}
	return true
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if !h.requireMentor(w, user) {
		return
	}
	var input CreateSessionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		apierror.WriteError(w, apierror.BadRequest("Invalid JSON body"))
		return
	}
	sess, err := h.svc.CreateSession(r.Context(), user.ID, input)
	if err != nil {
		apierror.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]Session{"session": sess})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	sessions, err := h.svc.ListSessions(r.Context(), user.ID)
	if err != nil {
		apierror.WriteError(w, err)
		return
	}
	if sessions == nil {
		sessions = []Session{}
	}
	writeJSON(w, http.StatusOK, map[string][]Session{"sessions": sessions})
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Code == "" {
		apierror.WriteError(w, apierror.BadRequest("Invite code is required"))
		return
	}
	sess, err := h.svc.JoinByInviteCode(r.Context(), user.ID, body.Code)
	if err != nil {
		apierror.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]Session{"session": sess})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.GetSession(r.Context(), user.ID, mux.Vars(r)["id"])
	if err != nil {
		apierror.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]Session{"session": sess})
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if !h.requireMentor(w, user) {
		return
	}
	var patch SessionPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		apierror.WriteError(w, apierror.BadRequest("Invalid JSON body"))
		return
	}
	sess, err := h.svc.UpdateSessionSettings(r.Context(), user.ID, mux.Vars(r)["id"], patch)
	if err != nil {
		apierror.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]Session{"session": sess})
}

func (h *Handler) handleKick(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if !h.requireMentor(w, user) {
		return
	}
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		apierror.WriteError(w, apierror.BadRequest("userId is required"))
		return
	}
	p, err := h.svc.Kick(r.Context(), user.ID, mux.Vars(r)["id"], body.UserID)
	if err != nil {
		apierror.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]Participant{"participant": p})
}

type participantView struct {
	Participant
	Online bool `json:"online"`
}

func (h *Handler) handleParticipants(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	participants, err := h.svc.ListParticipants(r.Context(), user.ID, mux.Vars(r)["id"])
	if err != nil {
		apierror.WriteError(w, err)
		return
	}
	views := make([]participantView, 0, len(participants))
	for _, p := range participants {
		v := participantView{Participant: p}
		if h.presence != nil {
			v.Online = h.presence.Online(r.Context(), p.UserID)
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string][]participantView{"participants": views})
}

func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if !h.requireMentor(w, user) {
		return
	}
	var patch PermissionPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		apierror.WriteError(w, apierror.BadRequest("Invalid JSON body"))
		return
	}
	vars := mux.Vars(r)
	p, err := h.svc.UpdatePermissions(r.Context(), user.ID, vars["id"], vars["userId"], patch)
	if err != nil {
		apierror.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]Participant{"participant": p})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, err := h.svc.ListMessages(r.Context(), user.ID, mux.Vars(r)["id"], limit)
	if err != nil {
		apierror.WriteError(w, err)
		return
	}
	if messages == nil {
		messages = []Message{}
	}
	writeJSON(w, http.StatusOK, map[string][]Message{"messages": messages})
}

func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierror.WriteError(w, apierror.BadRequest("Invalid JSON body"))
		return
	}
	msg, err := h.svc.AppendMessage(r.Context(), user.ID, mux.Vars(r)["id"], "", body.Text, time.Time{})
	if err != nil {
		apierror.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]Message{"message": msg})
}

func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	snapshots, err := h.svc.ListCodeSnapshots(r.Context(), user.ID, mux.Vars(r)["id"], limit)
	if err != nil {
		apierror.WriteError(w, err)
		return
	}
	if snapshots == nil {
		snapshots = []CodeSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string][]CodeSnapshot{"snapshots": snapshots})
}

func (h *Handler) handlePostSnapshot(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var body struct {
		Code     string `json:"code"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierror.WriteError(w, apierror.BadRequest("Invalid JSON body"))
		return
	}
	snap, err := h.svc.SaveCodeSnapshot(r.Context(), user.ID, mux.Vars(r)["id"], body.Code, body.Language)
	if err != nil {
		apierror.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]CodeSnapshot{"snapshot": snap})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
