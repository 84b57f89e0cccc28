package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geoattend/internal/api"
	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/cloudinary"
	"geoattend/internal/config"
	"geoattend/internal/faceclient"
	"geoattend/internal/faceverify"
	"geoattend/internal/group"
	"geoattend/internal/httpmiddleware"
	"geoattend/internal/identity"
	"geoattend/internal/punch"
	"geoattend/internal/queue"
	"geoattend/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL, store.Options{MaxOpenConns: cfg.DBMaxOpenConns, PingTimeout: cfg.DBTimeout})
	if db == nil {
		return err
	}
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	} else if cfg.DBMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := db.Migrate(ctx); err != nil {
			log.Printf("warning: schema migration failed: %v", err)
		}
		cancel()
	}
	defer db.Close()

	redisClient := store.NewRedis(store.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer redisClient.Close()

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	repo := attendance.NewRepository(db.Client, cfg.DBTimeout)

	var links queue.Queue
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(256)
		links = mem
		// no separate worker process can see an in-memory queue
		go func() {
			if err := identity.RunLinkWorker(workerCtx, mem, repo); err != nil {
				log.Printf("face link worker stopped: %v", err)
			}
		}()
	} else {
		links = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceCollection, cfg.FaceTimeout)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), cfg.FaceTimeout)
	if err := face.EnsureCollection(startupCtx); err != nil {
		log.Printf("warning: face collection %q not ready: %v", cfg.FaceCollection, err)
	} else {
		log.Printf("face collection %q ready", cfg.FaceCollection)
	}
	cancelStartup()

	if cfg.CloudinaryCloudName == "" || cfg.CloudinaryAPIKey == "" || cfg.CloudinaryAPISecret == "" {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set); image punches will fail")
	}
	cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder, cfg.StorageTimeout)

	thresholds := punch.Thresholds{Default: cfg.FaceMatchThreshold}
	resolver := identity.NewResolver(repo, links)
	processor := punch.NewProcessor(repo, repo, cdn, faceverify.New(cdn, face))
	punches := punch.NewService(repo, repo, face, resolver, processor, thresholds, cfg.Location())
	groups := group.NewOrchestrator(face, face, resolver, punches, processor, thresholds)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		dbHealthy := db.Healthy(ctx)
		redisHealthy := cfg.QueueBackend == "memory" || redisClient.Healthy(ctx)
		faceHealthy := face.Health(ctx) == nil
		status := http.StatusOK
		if !dbHealthy || !redisHealthy || !faceHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "db": dbHealthy, "redis": redisHealthy, "face": faceHealthy})
	})

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	v1 := r.Group("/v1",
		auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer),
		limiter.GinMiddleware(httpmiddleware.ByActorOrIP(auth.ActorID)),
	)
	api.NewHandler(punches, groups, cfg.MaxUploadBytes).
		Register(v1, auth.RequireRole(auth.RoleAdmin, auth.RoleSupervisor))

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// group captures can run several external calls per face
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}
	stopWorker()

	log.Println("Server exited")
	return nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        24 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
