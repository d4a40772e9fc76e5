package main

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/szsip239/corebridge/internal/config"
	"github.com/szsip239/corebridge/internal/handler"
	"github.com/szsip239/corebridge/internal/middleware"
	"github.com/szsip239/corebridge/internal/model"
	"github.com/szsip239/corebridge/internal/pkg/crypto"
	"github.com/szsip239/corebridge/internal/service/coreops"
)

func main() {
	// ── Load config ────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// ── Logger ─────────────────────────────────────────
	var logger *zap.Logger
	if cfg.Server.Mode == "release" {
		logger, _ = zap.NewProduction()
	} else {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	// ── Database ───────────────────────────────────────
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}
	if cfg.Server.Mode == "debug" {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.DB.URL), gormCfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.DB.ConnMaxLifetime) * time.Second)

	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		log.Fatalf("Failed to auto-migrate: %v", err)
	}
	logger.Info("database migrated successfully")

	if err := handler.BootstrapAdmin(db, cfg.Admin.BootstrapEmail, cfg.Admin.BootstrapPassword); err != nil {
		log.Fatalf("Failed to bootstrap admin account: %v", err)
	}

	// ── Casbin ─────────────────────────────────────────
	enforcer, err := casbin.NewEnforcer("configs/rbac_model.conf", "configs/rbac_policy.csv")
	if err != nil {
		log.Fatalf("Failed to initialize Casbin: %v", err)
	}
	logger.Info("casbin RBAC initialized")

	// ── Encryptor ──────────────────────────────────────
	enc, err := crypto.NewEncryptor(cfg.Crypto.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize encryptor: %v", err)
	}

	// ── JWT Service ────────────────────────────────────
	jwtService, err := middleware.NewJWTService(&cfg.JWT)
	if err != nil {
		log.Fatalf("Failed to initialize JWT service: %v", err)
	}

	// ── Core connection service ────────────────────────
	coreSvc := coreops.New(db, enc, logger, cfg.Core.RequestTimeout)
	if err := coreSvc.LoadOrCreateEndpoint(cfg.Core.HostURL, cfg.Core.AuthToken); err != nil {
		log.Fatalf("Failed to load core endpoint: %v", err)
	}

	if cfg.Core.AutoConnectOnRun {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Core.ConnectTimeout)
			defer cancel()
			if err := coreSvc.Connect(ctx); err != nil {
				logger.Warn("initial core connect failed", zap.Error(err))
			}
		}()
	}

	// ── Gin Router ─────────────────────────────────────
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(&cfg.CORS))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	public := v1.Group("")
	protected := v1.Group("")
	protected.Use(middleware.JWTAuth(&cfg.JWT))
	protected.Use(middleware.AuditLog(db))

	authHandler := handler.NewAuthHandler(db, jwtService)
	authHandler.RegisterRoutes(public, protected)

	coreHandler := handler.NewCoreHandler(coreSvc)
	coreGroup := protected.Group("/core")
	{
		coreGroup.GET("/status", middleware.RequirePermission(enforcer, "core", "status"), coreHandler.Status)
		coreGroup.POST("/connect", middleware.RequirePermission(enforcer, "core", "connect"), coreHandler.Connect)
		coreGroup.DELETE("/connect", middleware.RequirePermission(enforcer, "core", "disconnect"), coreHandler.Disconnect)
		coreGroup.POST("/request", middleware.RequirePermission(enforcer, "core", "request"), coreHandler.Request)
	}

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	logger.Info("starting corebridge API server", zap.String("addr", addr), zap.String("mode", cfg.Server.Mode))

	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
