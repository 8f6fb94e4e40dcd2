package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/codest0411/OneWise-b/internal/gateway"
	"github.com/codest0411/OneWise-b/internal/identity"
	"github.com/codest0411/OneWise-b/internal/room"
	"github.com/codest0411/OneWise-b/internal/sandbox"
	"github.com/codest0411/OneWise-b/internal/session"
	"github.com/codest0411/OneWise-b/pkg/bus"
	"github.com/codest0411/OneWise-b/pkg/config"
	"github.com/codest0411/OneWise-b/pkg/httpserver"
	"github.com/codest0411/OneWise-b/pkg/logging"
	"github.com/codest0411/OneWise-b/pkg/storage"
)

func main() {
	cfg, err := config.Load("server")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(cfg.AppName, cfg.ServiceName, cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()

	redisClient := storage.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	nc, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		// The router degrades to single-instance fan-out without NATS.
		logger.Warn().Err(err).Msg("nats unavailable, room relay disabled")
		nc = nil
	} else {
		defer nc.Close()
	}

	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	repo := session.NewPostgresRepository(db)
	svc := session.NewService(repo, logger.With().Str("component", "session").Logger())

	identityClient := identity.NewClient(cfg.IdentityURL, cfg.IdentityAPIKey)
	authn := identity.NewAuthenticator(identityClient, svc)

	router := room.NewRouter(instanceID, nc, logger.With().Str("component", "room").Logger())
	if err := router.Subscribe(); err != nil {
		log.Fatalf("room relay subscribe: %v", err)
	}
	defer router.Close()

	runner := sandbox.NewRunner(cfg.ExecTimeout, sandbox.DefaultLanguages(),
		logger.With().Str("component", "sandbox").Logger())
	pool := sandbox.NewPool(runner, cfg.ExecMaxConcurrent, cfg.ExecTimeout)

	gw := gateway.New(logger.With().Str("component", "gateway").Logger(), authn, router, svc, pool, redisClient)

	mux := httpserver.NewRouter(cfg.ServiceName)
	gw.Register(mux)
	session.NewHandler(svc, authn, gw).Register(mux)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	if err := httpserver.Run(ctx, logger, cfg.HTTPPort, handler, cfg.ShutdownTimeout); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
