package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"presence/internal/attendance"
	"presence/internal/auth"
	"presence/internal/config"
	"presence/internal/course"
	"presence/internal/handler"
	"presence/internal/httpmiddleware"
	"presence/internal/logging"
	"presence/internal/metrics"
	"presence/internal/queue"
	"presence/internal/session"
	"presence/internal/store"
)

func main() {
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

func runHTTP(cfg config.App) error {
	ctx := context.Background()

	db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		log.Info().Str("driver", cfg.DBDriver).Msg("schema migrated")
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var sessionStore session.Store
	if cfg.SessionBackend == "memory" {
		sessionStore = session.NewMemoryStore(time.Hour, time.Now)
	} else {
		sessionStore = session.NewRedisStore(redisClient.Client, "", time.Hour)
	}

	repo := attendance.NewRepository(db)

	auditCtx, stopAudit := context.WithCancel(ctx)
	defer stopAudit()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		// No worker can reach an in-process queue, so audit here.
		mem := queue.NewInMemory(64)
		go func() {
			_ = attendance.NewAuditor(repo, logging.WithComponent("audit")).Run(auditCtx, mem)
		}()
		q = mem
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "", logging.WithComponent("queue"))
	}

	courses := course.NewCached(course.NewRepo(db), redisClient.Client, cfg.CourseCacheTTL, logging.WithComponent("course"))
	sessions := session.NewController(sessionStore, nil, session.Options{
		SessionTTL: cfg.SessionTTL,
		CodeTTL:    cfg.CodeTTL,
		Logger:     logging.WithComponent("session"),
	})

	opts := attendance.Options{
		Location:  cfg.Location(),
		LateGrace: cfg.LateGrace,
		Events:    q,
		Logger:    logging.WithComponent("attendance"),
	}

	h := handler.New(handler.Deps{
		Sessions:   sessions,
		CheckIns:   attendance.NewService(repo, courses, sessions, opts),
		Reconciler: attendance.NewReconciler(repo, courses, opts),
		Courses:    courses,
		Probes: map[string]handler.Probe{
			"db":    db.Healthy,
			"redis": redisClient.Healthy,
		},
		Logger: logging.WithComponent("handler"),
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.AccessLog(logging.WithComponent("http"), "/healthz", "/metrics"))
	r.Use(httpmiddleware.Metrics())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization", httpmiddleware.RequestIDHeader},
		ExposeHeaders:   []string{httpmiddleware.RequestIDHeader},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	h.Register(r, auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer), limiter.GinMiddleware())

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Info().Msg("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced shutdown")
	}

	log.Info().Msg("server exited")
	return nil
}
