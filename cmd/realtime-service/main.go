package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"voicebridge-backend/internal/broker"
	"voicebridge-backend/internal/database"
	callhistoryHandler "voicebridge-backend/internal/handler/http/callhistory"
	contactHandler "voicebridge-backend/internal/handler/http/contact"
	messageHandler "voicebridge-backend/internal/handler/http/message"
	pushtokenHandler "voicebridge-backend/internal/handler/http/pushtoken"
	wsHandler "voicebridge-backend/internal/handler/ws"
	"voicebridge-backend/internal/middleware"
	cassandraRepo "voicebridge-backend/internal/repository/cassandra"
	postgresRepo "voicebridge-backend/internal/repository/postgres"
	redisRepo "voicebridge-backend/internal/repository/redis"
	callService "voicebridge-backend/internal/service/call"
	chatService "voicebridge-backend/internal/service/chat"
	presenceService "voicebridge-backend/internal/service/presence"
	"voicebridge-backend/pkg/constants"
	"voicebridge-backend/pkg/env"
	"voicebridge-backend/pkg/jwt"
	"voicebridge-backend/pkg/logger"
	"voicebridge-backend/pkg/metrics"
	"voicebridge-backend/pkg/push"
)

func main() {
	logger.InitDefault()
	defer logger.Sync()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. JWT manager for the connection handshake
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		logger.Fatal("JWT_SECRET must be at least 32 characters")
	}
	jwtManager := jwt.NewJWTManager(jwtSecret, env.GetDuration("JWT_TOKEN_DURATION", 24*time.Hour))

	// 2. Postgres: users, contacts, blocks, call history
	postgresConfig := &database.PostgresConfig{
		Host:     env.GetString("POSTGRES_HOST", "localhost"),
		Port:     env.GetInt("POSTGRES_PORT", 5432),
		User:     env.GetString("POSTGRES_USER", "voicebridge"),
		Password: env.GetStringFromFile("POSTGRES_PASSWORD", ""),
		Database: env.GetString("POSTGRES_DATABASE", "voicebridge_db"),
		SSLMode:  env.GetString("POSTGRES_SSLMODE", "disable"),
	}

	if err := database.Migrate(rootCtx, postgresConfig); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	postgresDB, err := database.NewPostgresDB(rootCtx, postgresConfig)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer postgresDB.Close()
	logger.Info("Connected to Postgres")

	// 3. Redis: session registry, call sessions, push tokens, broker
	redisConfig := &database.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       0,
		PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
		Timeout:  5 * time.Second,
	}

	redisDB, err := database.NewRedisDB(redisConfig)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	logger.Info("Connected to Redis")

	redisDB.StartHealthCheck(rootCtx, 10*time.Second)

	// 4. Cassandra: message store
	cassandraConfig := &database.CassandraConfig{
		Hosts:    []string{env.GetString("CASSANDRA_HOST", "localhost")},
		Keyspace: env.GetString("CASSANDRA_KEYSPACE", "voicebridge_ks"),
		Username: env.GetStringFromFile("CASSANDRA_USER", ""),
		Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
		Timeout:  10 * time.Second,
	}
	cassandraDB, err := database.NewCassandraDB(cassandraConfig)
	if err != nil {
		logger.Fatal("Failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("Connected to Cassandra")

	// 5. Repositories
	registryRepo := redisRepo.NewRegistryRepository(redisDB.Client)
	callSessionRepo := redisRepo.NewCallSessionRepository(redisDB.Client)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB.Client)
	userRepo := postgresRepo.NewUserRepository(postgresDB.Pool)
	callHistoryRepo := postgresRepo.NewCallHistoryRepository(postgresDB.Pool)
	messageRepo := cassandraRepo.NewMessageRepository(cassandraDB.Session)

	// 6. Broker and push provider
	eventBroker := broker.NewRedisBroker(redisDB.Client)

	var pushProvider push.Provider = push.NopProvider{}
	if projectID := env.GetString("FCM_PROJECT_ID", ""); projectID != "" {
		fcm, err := push.NewFCMProvider(rootCtx, &push.FCMConfig{
			CredentialsPath: env.GetString("FCM_CREDENTIALS_PATH", ""),
			ProjectID:       projectID,
		})
		if err != nil {
			logger.Fatal("Failed to initialize FCM", zap.Error(err))
		}
		pushProvider = fcm
	} else {
		logger.Warn("FCM_PROJECT_ID not set, push notifications disabled")
	}

	// 7. Metrics
	appMetrics := metrics.NewMetrics("realtime-service")

	// 8. Services
	presenceSvc := presenceService.NewService(userRepo, registryRepo, eventBroker)
	chatSvc := chatService.NewService(messageRepo, userRepo, registryRepo, eventBroker, pushTokenRepo, pushProvider, appMetrics)
	callSvc := callService.NewService(callSessionRepo, callHistoryRepo, userRepo, registryRepo, eventBroker, appMetrics)

	// 9. WebSocket hub and handler
	instanceID := env.GetString("INSTANCE_ID", "")
	if instanceID == "" {
		hostname, _ := os.Hostname()
		instanceID = fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
	}

	hub := wsHandler.NewHub(eventBroker, chatSvc, appMetrics, instanceID)
	hub.Start(rootCtx)
	wsHdlr := wsHandler.NewHandler(hub, presenceSvc, chatSvc, callSvc)

	// 10. HTTP handlers
	messageHdlr := messageHandler.NewHandler(chatSvc)
	callHistoryHdlr := callhistoryHandler.NewHandler(callSvc)
	contactHdlr := contactHandler.NewHandler(userRepo, presenceSvc)
	pushTokenHdlr := pushtokenHandler.NewHandler(pushTokenRepo)

	// 11. Router
	if env.GetString("ENV", "development") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.Prometheus(appMetrics))

	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		code := http.StatusOK
		if redisDB.IsDegraded() {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":   status,
			"service":  "realtime-service",
			"instance": instanceID,
			"time":     time.Now().UTC(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		v1.GET("/ws", wsHdlr.ServeWS)

		v1.GET("/messages", messageHdlr.History)
		v1.POST("/messages/seen", messageHdlr.MarkSeen)

		v1.GET("/calls", callHistoryHdlr.List)

		v1.GET("/contacts", contactHdlr.List)
		v1.POST("/contacts", contactHdlr.Add)
		v1.DELETE("/contacts/:id", contactHdlr.Remove)
		v1.POST("/blocks", contactHdlr.Block)
		v1.DELETE("/blocks/:id", contactHdlr.Unblock)

		v1.POST("/push-tokens", pushTokenHdlr.Register)
		v1.DELETE("/push-tokens", pushTokenHdlr.Unregister)
	}

	// 12. Serve
	port := env.GetString("PORT", "8080")
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: router,
	}

	go func() {
		logger.Info("Realtime service starting",
			zap.String("port", port),
			zap.String("instance", instanceID))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
