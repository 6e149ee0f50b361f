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

	"schoolbook/internal/attendance"
	"schoolbook/internal/audit"
	"schoolbook/internal/cloudinary"
	"schoolbook/internal/config"
	"schoolbook/internal/feed"
	"schoolbook/internal/handler"
	"schoolbook/internal/httpmiddleware"
	"schoolbook/internal/records"
	"schoolbook/internal/store"
	"schoolbook/internal/users"
	"schoolbook/internal/verify"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	var db *store.DB
	var (
		recordStore records.Store
		auditStore  audit.Store
		attStore    attendance.Store
		userStore   users.Store
	)
	if cfg.StoreBackend == "memory" {
		log.Println("using in-memory stores, data is not persisted")
		recordStore = records.NewMemStore()
		auditStore = audit.NewMemStore()
		attStore = attendance.NewMemStore()
		userStore = users.NewMemStore()
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		recordStore = records.NewRepository(db.Client)
		auditStore = audit.NewRepository(db.Client)
		attStore = attendance.NewRepository(db.Client)
		userStore = users.NewRepository(db.Client)
	}

	var redisClient *store.Redis
	var auditFeed feed.Feed
	if cfg.FeedBackend == "memory" {
		auditFeed = feed.NewInMemory(64)
	} else {
		redisClient = store.NewRedis(cfg.RedisAddr)
		auditFeed = feed.NewRedisFeed(redisClient.Client, "schoolbook:audit")
	}

	oracle := verify.NewClient(cfg.FaceServiceURL, cfg.FaceSkip)
	if err := oracle.Health(context.Background()); err != nil {
		log.Printf("warning: verification service not reachable: %v", err)
	}

	auditSvc := audit.NewService(auditStore, auditFeed)
	recordSvc := records.NewService(recordStore, auditSvc)
	ledger := attendance.NewLedger(attStore, oracle, auditSvc)
	userSvc := users.NewService(userStore, auditSvc)

	if err := userSvc.Seed(context.Background()); err != nil {
		return err
	}

	var cdnClient *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdnClient = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured, profile pictures stored inline")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	r.Use(cors.New(corsCfg))

	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := db == nil || db.Client.PingContext(c.Request.Context()) == nil
		redisHealthy := redisClient == nil || redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !dbHealthy || !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "db": dbHealthy, "redis": redisHealthy})
	})

	handler.New(cfg, recordSvc, auditSvc, ledger, userSvc, cdnClient).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}
