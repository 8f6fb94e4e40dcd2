package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/codest0411/OneWise-b/internal/identity"
	"github.com/codest0411/OneWise-b/internal/room"
	"github.com/codest0411/OneWise-b/internal/sandbox"
	"github.com/codest0411/OneWise-b/internal/session"
	"github.com/codest0411/OneWise-b/pkg/apierror"
)

const (
	presenceTTL      = 60 * time.Second
	presenceInterval = 20 * time.Second
)

// Authenticator resolves a bearer token to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (identity.User, error)
}

// SessionService is the slice of the participant state machine the gateway
// drives.
type SessionService interface {
	EnsureParticipant(ctx context.Context, userID, sessionID string) (session.Participant, error)
	AppendMessage(ctx context.Context, authorID, sessionID, id, text string, at time.Time) (session.Message, error)
	SaveCodeSnapshot(ctx context.Context, authorID, sessionID, code, language string) (session.CodeSnapshot, error)
	UpdatePermissions(ctx context.Context, mentorID, sessionID, targetUserID string, patch session.PermissionPatch) (session.Participant, error)
}

// Executor runs code snippets through the bounded sandbox pool.
type Executor interface {
	Run(ctx context.Context, code, language string) sandbox.Result
}

// Gateway authenticates real-time connections and dispatches their events.
type Gateway struct {
	logger zerolog.Logger
	authn  Authenticator
	router *room.Router
	svc    SessionService
	exec   Executor
	redis  *redis.Client

	upgrader websocket.Upgrader
}

func New(logger zerolog.Logger, authn Authenticator, router *room.Router, svc SessionService, exec Executor, redisClient *redis.Client) *Gateway {
	return &Gateway{
		logger: logger,
		authn:  authn,
		router: router,
		svc:    svc,
		exec:   exec,
		redis:  redisClient,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser origins are filtered by the CORS layer in front.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (g *Gateway) Register(r *mux.Router) {
	r.HandleFunc("/ws", g.handleWS).Methods(http.MethodGet)
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	// Bearer credential comes from the handshake header or an explicit
	// token field; header form uses the literal "Bearer " prefix.
	token := identity.BearerFromHeader(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		apierror.Write(w, http.StatusUnauthorized, "unauthorized", "Missing authentication token")
		return
	}

	user, err := g.authn.Authenticate(r.Context(), token)
	if err != nil {
		apierror.Write(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired authentication token")
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Str("user_id", user.ID).Msg("websocket upgrade failed")
		return
	}

	conn := newConn(uuid.NewString(), user, ws, g.logger)
	g.logger.Info().Str("user_id", user.ID).Str("role", user.Role).Msg("connection established")
	g.serve(conn)
}

func (g *Gateway) serve(c *Conn) {
	defer func() {
		g.router.Disconnect(c)
		g.clearPresence(c.user.ID)
		c.Close()
		g.logger.Info().Str("user_id", c.user.ID).Msg("connection closed")
	}()

	g.refreshPresence(c.ctx, c.user.ID)
	go g.presenceLoop(c.ctx, c.user.ID)

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		// Each inbound event dispatches independently; a slow handler must
		// not stall the read loop, so handlers re-validate state themselves.
		go g.dispatch(c, data)
	}
}

func (g *Gateway) presenceLoop(ctx context.Context, userID string) {
	if g.redis == nil {
		return
	}
	ticker := time.NewTicker(presenceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.refreshPresence(ctx, userID)
		}
	}
}

func (g *Gateway) refreshPresence(ctx context.Context, userID string) {
	if g.redis == nil {
		return
	}
	if err := g.redis.Set(ctx, presenceKey(userID), time.Now().UTC().Format(time.RFC3339), presenceTTL).Err(); err != nil {
		g.logger.Warn().Err(err).Str("user_id", userID).Msg("presence refresh failed")
	}
}

func (g *Gateway) clearPresence(userID string) {
	if g.redis == nil {
		return
	}
	_ = g.redis.Del(context.Background(), presenceKey(userID)).Err()
}

func presenceKey(userID string) string { return "onewise:gateway:user:" + userID }

// Online reports best-effort presence for a user; false when redis is absent.
func (g *Gateway) Online(ctx context.Context, userID string) bool {
	if g.redis == nil {
		return false
	}
	n, err := g.redis.Exists(ctx, presenceKey(userID)).Result()
	return err == nil && n > 0
}
