package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"crisis-comms/internal/auth"
	"crisis-comms/internal/config"
	"crisis-comms/internal/crisis"
	"crisis-comms/internal/handlers"
	"crisis-comms/internal/messaging"
	"crisis-comms/internal/middleware"
	"crisis-comms/internal/observability"
	"crisis-comms/internal/rabbitmq"
	"crisis-comms/internal/repositories"
	"crisis-comms/internal/responders"
	"crisis-comms/internal/scheduler"
	"crisis-comms/internal/store"
	"crisis-comms/internal/telemetry"
	"crisis-comms/internal/ws"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, "crisis-comms")
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	}

	persistence := repositories.NewPersistence(cfg.DatabaseDSN)
	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	directory := responders.NewDirectory(cfg.RedisURL, cfg.HeartbeatTimeout)
	audit := telemetry.NewAuditTrail(persistence.Crisis, persistence.Messages)

	st := store.New()
	sched := scheduler.New()
	defer sched.Stop()

	hub := ws.NewHub(cfg.HeartbeatInterval)

	messagingEngine := messaging.NewEngine(st, hub, persistence.Messages, audit, publisher, sched, cfg.TypingTTL, cfg.RetentionWindow)
	crisisEngine := crisis.NewEngine(st, hub, directory, audit, publisher, sched, cfg.EscalationThresholds, cfg.ResolutionGrace)

	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	gateway := ws.NewGateway(hub, verifier, messagingEngine, crisisEngine, cfg.AllowedOrigin)

	roomHandler := handlers.NewRoomHandler(st, persistence.Messages)
	crisisHandler := handlers.NewCrisisHandler(crisisEngine, persistence.Crisis)
	healthHandler := handlers.NewHealthHandler(persistence, publisher, directory)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware("crisis-comms"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", healthHandler.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(verifier)
	router.GET("/rooms", authMiddleware, roomHandler.ListRooms)
	router.GET("/rooms/:room_id/messages", authMiddleware, roomHandler.GetRoomMessages)
	router.GET("/crisis/alerts/active", authMiddleware, crisisHandler.ListActiveAlerts)
	router.GET("/crisis/alerts/:alert_id/audit", authMiddleware, crisisHandler.GetAlertAudit)

	router.GET("/ws", gateway.Handle)

	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	done := make(chan struct{})
	hub.StartHeartbeat(cfg.HeartbeatInterval, cfg.HeartbeatTimeout, done)
	messagingEngine.StartRetention(cfg.RetentionInterval, done)
	crisisEngine.StartMonitor(cfg.EscalationInterval, done)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		log.Printf("listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
	close(done)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}
	if err := publisher.Close(); err != nil {
		log.Printf("publisher close: %v", err)
	}
}
