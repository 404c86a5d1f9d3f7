package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/questplus-school-api/api/swagger"
	"github.com/noah-isme/questplus-school-api/internal/bridge"
	"github.com/noah-isme/questplus-school-api/internal/handler"
	internalmiddleware "github.com/noah-isme/questplus-school-api/internal/middleware"
	"github.com/noah-isme/questplus-school-api/internal/repository"
	"github.com/noah-isme/questplus-school-api/internal/service"
	"github.com/noah-isme/questplus-school-api/pkg/aescbc"
	"github.com/noah-isme/questplus-school-api/pkg/cache"
	"github.com/noah-isme/questplus-school-api/pkg/config"
	"github.com/noah-isme/questplus-school-api/pkg/database"
	"github.com/noah-isme/questplus-school-api/pkg/jobs"
	"github.com/noah-isme/questplus-school-api/pkg/logger"
	"github.com/noah-isme/questplus-school-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/questplus-school-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/questplus-school-api/pkg/middleware/requestid"
	"github.com/noah-isme/questplus-school-api/pkg/reporter"
	"github.com/noah-isme/questplus-school-api/pkg/storage"
)

// @title QuestPlus School API
// @version 1.0.0
// @description Accounts, cohorts, universal login and classroom projects
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const dashboardTTL = 60 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
		if cfg.Bridge.InsecureSkipVerify {
			return errors.New("BRIDGE_INSECURE_SKIP_VERIFY is not allowed in production")
		}
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	rep := reporter.New(cfg.Rollbar, cfg.Version, logr)
	defer rep.Close()

	mail, err := mailer.New(cfg.Mail, logr)
	if err != nil {
		return fmt.Errorf("init mailer: %w", err)
	}

	store, err := storage.NewLocalStorage(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	signer := storage.NewSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)

	validate := validator.New()
	metrics := service.NewMetricsService()
	tx := repository.NewTransactor(db)

	identities := repository.NewIdentityRepository(db)
	grades := repository.NewGradeRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	legacy := repository.NewLegacyRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, dashboardTTL, logr, redisClient != nil)

	notifications := service.NewNotificationService(mail, cfg.Accounts.LoginURL, logr)
	access := service.NewAccessService(identities, cacheSvc, cfg.Access.RoleCacheTTL, metrics, logr)
	groups := service.NewGroupService(groupRepo, grades, tx, cfg.Groups, logr)
	usernames := service.NewUsernameGenerator(identities)

	var audience []string
	if cfg.JWT.Audience != "" {
		audience = strings.Split(cfg.JWT.Audience, ",")
	}
	auth := service.NewAuthService(identities, notifications, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		Audience:           audience,
		ResetTokenTTL:      cfg.Accounts.PasswordResetTTL,
		ResetURL:           cfg.Accounts.PasswordResetURL,
	})

	var cipher *aescbc.Cipher
	if cfg.Bridge.PasswordAESKey != "" {
		if cipher, err = aescbc.New([]byte(cfg.Bridge.PasswordAESKey)); err != nil {
			return fmt.Errorf("init password cipher: %w", err)
		}
	} else {
		logr.Warn("PASSWORD_AES_KEY is not set, universal login is unavailable")
	}
	bridgeClient := bridge.NewClient(cfg.Bridge, logr)
	var passwords interface {
		Decrypt(string) (string, error)
	}
	if cipher != nil {
		passwords = cipher
	}
	bridgeSvc := service.NewBridgeService(bridgeClient, passwords, identities, legacy, auth, tx, metrics, validate, logr)

	accounts := service.NewAccountService(identities, grades, groups, usernames, access, notifications, tx, validate, logr, cfg.Accounts)
	gradeSvc := service.NewGradeService(grades, groups, tx, validate, logr)
	projects := service.NewProjectService(projectRepo, grades, groups, store, signer, tx, validate, logr)
	dashboard := service.NewDashboardService(identities, groups, projectRepo, cacheSvc, dashboardTTL, logr)
	rosters := service.NewRosterService(groups)

	imports := service.NewImportService(accounts, grades, cacheSvc, metrics, logr, cfg.Import.StatusTTL)
	importQueue := jobs.NewQueue("student-import", imports.Process, jobs.Config{
		Workers:     cfg.Import.Workers,
		MaxRetries:  cfg.Import.MaxRetries,
		Backoff:     2 * time.Second,
		OnExhausted: imports.MarkFailed,
		Logger:      logr,
	})
	imports.UseQueue(importQueue)

	schedules := service.NewScheduleService(scheduleRepo, grades, groups, identities, cacheSvc, metrics, logr, cfg.Import.StatusTTL)
	scheduleQueue := jobs.NewQueue("schedule-import", schedules.Process, jobs.Config{
		Workers:     1,
		MaxRetries:  cfg.Import.MaxRetries,
		Backoff:     2 * time.Second,
		OnExhausted: schedules.MarkFailed,
		Logger:      logr,
	})
	schedules.UseQueue(scheduleQueue)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	importQueue.Start(ctx)
	defer importQueue.Stop()
	scheduleQueue.Start(ctx)
	defer scheduleQueue.Stop()

	r := gin.New()
	r.Use(internalmiddleware.Recovery(rep, logr))
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.ResponseMeta())
	if cfg.Metrics.Enabled {
		r.Use(internalmiddleware.Metrics(metrics))
	}

	checks := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	ops := handler.NewMetricsHandler(metrics, checks)
	r.GET("/health", ops.Health)
	r.GET("/ready", ops.Ready)
	if cfg.Metrics.Enabled {
		r.GET("/metrics", ops.Prometheus)
		r.GET("/metrics/system", ops.System)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Register(r, cfg.APIPrefixes, handler.Handlers{
		Auth:      handler.NewAuthHandler(auth, accounts),
		Bridge:    handler.NewBridgeHandler(bridgeSvc),
		Accounts:  handler.NewAccountHandler(accounts),
		Grades:    handler.NewGradeHandler(gradeSvc),
		Groups:    handler.NewGroupHandler(groups, rosters),
		Imports:   handler.NewImportHandler(imports, cfg.Import.MaxUploadBytes),
		Schedules: handler.NewScheduleHandler(schedules, cfg.Import.MaxUploadBytes),
		Projects:  handler.NewProjectHandler(projects, cfg.Import.MaxUploadBytes),
		Dashboard: handler.NewDashboardHandler(dashboard),
	}, handler.Guards{
		Tokens:  auth,
		Access:  access,
		Members: groups,
		Audit:   auditRepo,
		Logger:  logr,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.Strings("prefixes", cfg.APIPrefixes))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
