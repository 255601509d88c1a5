package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	intDatabase "tunelink-backend/internal/database"
	callHandler "tunelink-backend/internal/handler/http/call"
	liveHandler "tunelink-backend/internal/handler/http/live"
	listeningHandler "tunelink-backend/internal/handler/http/listening"
	pushHandler "tunelink-backend/internal/handler/http/pushtoken"
	wsHandler "tunelink-backend/internal/handler/ws"
	"tunelink-backend/internal/middleware"
	"tunelink-backend/internal/repository/cassandra"
	"tunelink-backend/internal/repository/cockroach"
	redisRepo "tunelink-backend/internal/repository/redis"
	callService "tunelink-backend/internal/service/call"
	historyService "tunelink-backend/internal/service/history"
	liveService "tunelink-backend/internal/service/live"
	storageService "tunelink-backend/internal/service/storage"
	"tunelink-backend/pkg/constants"
	pkgDatabase "tunelink-backend/pkg/database"
	"tunelink-backend/pkg/env"
	"tunelink-backend/pkg/jwt"
	"tunelink-backend/pkg/logger"
	"tunelink-backend/pkg/metrics"
	"tunelink-backend/pkg/push"
	"tunelink-backend/pkg/tasks"
)

func main() {
	// .env is optional; real deployments configure via the environment
	_ = godotenv.Load()

	logger.InitDefault()
	defer logger.Sync()

	ctx := context.Background()

	// 1. JWT manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("JWT_SECRET must be at least 32 characters")
	}
	jwtManager := jwt.NewJWTManager(jwtSecret, constants.AccessTokenExpiry, constants.RefreshTokenExpiry)

	// 2. Metrics
	appMetrics := metrics.NewMetrics("realtime-service")
	intDatabase.InitRedisMetrics(appMetrics.GetRegistry())

	// 3. CockroachDB for call sessions and streams, with retry
	db := connectCockroach(ctx)
	defer db.Close()

	callRepo := cockroach.NewCallRepository(db.Pool)
	streamRepo := cockroach.NewStreamRepository(db.Pool)

	// 4. Cassandra for call and listening history
	cassandraDB, err := pkgDatabase.NewCassandraDBFromEnv()
	if err != nil {
		log.Fatalf("Failed to connect to Cassandra: %v", err)
	}
	defer cassandraDB.Close()
	log.Println("✅ Connected to Cassandra")

	callHistoryRepo := cassandra.NewCallHistoryRepository(cassandraDB.Session)
	listenRepo := cassandra.NewListeningHistoryRepository(cassandraDB.Session)

	// 5. Redis with degraded mode support
	redisDB, err := intDatabase.NewRedisDBFromEnv()
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v", err)
		log.Println("Running in degraded mode: presence and fan-out disabled")
	} else {
		log.Println("✅ Connected to Redis")
	}
	defer redisDB.Close()

	go redisDB.StartHealthCheck(ctx, 10*time.Second)

	presenceRepo := redisRepo.NewPresenceRepository(redisDB)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB)

	// 6. Push notifications
	pushProvider, err := push.NewProvider()
	if err != nil {
		log.Fatalf("Failed to initialize push provider: %v", err)
	}
	pushSvc := push.NewService(pushProvider, pushTokenRepo).WithMetrics(appMetrics)

	// 7. Recording storage (optional)
	var recordingStorage liveService.RecordingStorage
	var storageSvc *storageService.Service
	if endpoint := env.GetString("MINIO_ENDPOINT", ""); endpoint != "" {
		storageSvc, err = storageService.NewService(
			endpoint,
			env.GetStringFromFile("MINIO_ACCESS_KEY", ""),
			env.GetStringFromFile("MINIO_SECRET_KEY", ""),
			env.GetString("MINIO_USE_SSL", "false") == "true",
		)
		if err != nil {
			log.Printf("Warning: Failed to initialize recording storage: %v", err)
		} else {
			recordingStorage = storageSvc
			log.Println("✅ Connected to object storage")
		}
	}

	// 8. WebSocket hub
	hub := wsHandler.NewHub(redisDB, appMetrics)

	// 9. Background job runner
	runner := tasks.NewRunner(ctx)
	defer runner.Shutdown()

	// 10. Services
	callSvc := callService.NewService(callRepo, callHistoryRepo, presenceRepo, hub, pushSvc, appMetrics)
	liveSvc := liveService.NewService(streamRepo, hub, recordingStorage, pushSvc, appMetrics)
	historySvc := historyService.NewService(listenRepo, runner)

	runner.Every(constants.RingSweepInterval, "ring-timeout-sweep", callSvc.SweepStaleRinging)

	// 11. Handlers
	callHdlr := callHandler.NewHandler(callSvc)
	liveHdlr := liveHandler.NewHandler(liveSvc, storageSvc)
	listeningHdlr := listeningHandler.NewHandler(historySvc)
	pushHdlr := pushHandler.NewHandler(pushSvc)

	// 12. Router
	router := gin.New()

	trustedProxies := []string{"127.0.0.1"}
	if proxies := env.GetString("TRUSTED_PROXIES", ""); proxies != "" {
		trustedProxies = []string{proxies}
	}
	router.SetTrustedProxies(trustedProxies)

	router.Use(middleware.Recovery())
	// Liveness probes answer before the logger so they stay out of the logs
	router.Use(middleware.HealthCheck("realtime-service"))
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	revocationChecker := middleware.NewRedisRevocationChecker(redisDB)
	authMiddleware := middleware.AuthMiddleware(jwtManager, revocationChecker)
	rateLimiter := middleware.NewRateLimiter(redisDB,
		env.GetInt("RATE_LIMIT_REQUESTS", 120), time.Minute)

	v1 := router.Group("/v1")
	v1.Use(authMiddleware)
	v1.Use(rateLimiter.Middleware())
	{
		calls := v1.Group("/calls")
		{
			calls.POST("/initiate", callHdlr.Initiate)
			calls.PUT("/:id/accept", callHdlr.Accept)
			calls.PUT("/:id/reject", callHdlr.Reject)
			calls.PUT("/:id/end", callHdlr.End)
			calls.GET("/history", callHdlr.GetHistory)
			calls.GET("/:id", callHdlr.Get)
		}

		live := v1.Group("/live")
		{
			live.POST("/start", liveHdlr.Start)
			live.POST("/end/:streamId", liveHdlr.End)
			live.GET("/active", liveHdlr.GetActive)
			live.GET("/:streamId", liveHdlr.Get)
			live.POST("/:streamId/join", liveHdlr.Join)
			live.POST("/:streamId/leave", liveHdlr.Leave)
			live.GET("/:streamId/viewers", liveHdlr.GetViewers)
			live.POST("/:streamId/recording-url", liveHdlr.GetRecordingUploadURL)
			live.DELETE("/:streamId/recording", liveHdlr.DeleteRecording)
		}

		history := v1.Group("/history")
		{
			history.POST("/listens", listeningHdlr.Record)
			history.GET("/listens", listeningHdlr.GetRecent)
		}

		pushTokens := v1.Group("/push/tokens")
		{
			pushTokens.POST("", pushHdlr.Register)
			pushTokens.DELETE("", pushHdlr.Unregister)
			pushTokens.DELETE("/all", pushHdlr.UnregisterAll)
		}
	}

	// WebSocket endpoint authenticates via token query parameter, not
	// the auth middleware
	router.GET("/ws", wsHandler.ServeWS(hub, jwtManager, callSvc, liveSvc, presenceRepo))

	// 13. Start server
	port := env.GetString("PORT", "8084")
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: router,
	}

	go func() {
		log.Printf("🚀 Realtime Service starting on port %s\n", port)
		log.Println("📡 WebSocket: /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 14. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// connectCockroach dials CockroachDB with exponential backoff. The call
// and stream tables are the system of record, so startup fails without
// them.
func connectCockroach(ctx context.Context) *pkgDatabase.CockroachDB {
	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	var db *pkgDatabase.CockroachDB
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = pkgDatabase.NewCockroachDBFromEnv(ctx)
		if err == nil {
			log.Printf("✅ Connected to CockroachDB (attempt %d/%d)", attempt, maxRetries)
			return db
		}

		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		log.Printf("⚠️  CockroachDB connection attempt %d failed: %v. Retrying in %v...", attempt, err, delay)
		time.Sleep(delay)
	}

	log.Fatalf("Failed to connect to CockroachDB after %d attempts: %v", maxRetries, err)
	return nil
}
