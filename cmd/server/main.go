package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/danproc/qrverify/internal/api"
	"github.com/danproc/qrverify/internal/app"
	"github.com/danproc/qrverify/internal/app/maintenance"
	iauth "github.com/danproc/qrverify/internal/auth"
	"github.com/danproc/qrverify/internal/database"
	"github.com/danproc/qrverify/internal/gate"
	"github.com/danproc/qrverify/internal/middleware"
	"github.com/danproc/qrverify/internal/security"
	"github.com/danproc/qrverify/internal/services"
	"github.com/danproc/qrverify/pkg/logger"
	"github.com/danproc/qrverify/pkg/mail"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("qrverify-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := ensureSecretsPresent(cfg); err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	jwtService, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}

	csrfVerifier, err := security.NewHMACVerifier(
		[]byte(cfg.Auth.CSRF.Secret),
		security.WithCSRFTTL(cfg.Auth.CSRF.TTL),
	)
	if err != nil {
		return fmt.Errorf("initialise csrf verifier: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(mail.SMTPSettings{
		Enabled:  cfg.Email.SMTP.Enabled,
		Host:     cfg.Email.SMTP.Host,
		Port:     cfg.Email.SMTP.Port,
		Username: cfg.Email.SMTP.Username,
		Password: cfg.Email.SMTP.Password,
		From:     cfg.Email.SMTP.From,
		UseTLS:   cfg.Email.SMTP.UseTLS,
		Timeout:  cfg.Email.SMTP.Timeout,
	})
	if err != nil {
		return fmt.Errorf("initialise mailer: %w", err)
	}

	userSvc, err := services.NewUserService(db)
	if err != nil {
		return fmt.Errorf("initialise user service: %w", err)
	}
	verificationSvc, err := services.NewVerificationService(db, mailer,
		services.WithTokenTTL(cfg.Verification.TokenTTL),
		services.WithResendCooldown(cfg.Verification.ResendCooldown),
		services.WithTokenBytes(cfg.Verification.TokenBytes),
		services.WithVerificationBaseURL(cfg.Server.BaseURL),
	)
	if err != nil {
		return fmt.Errorf("initialise verification service: %w", err)
	}
	acceptanceSvc, err := services.NewAcceptanceService(db, services.StaticVersion(cfg.Terms.CurrentVersion))
	if err != nil {
		return fmt.Errorf("initialise acceptance service: %w", err)
	}
	usageSvc, err := services.NewUsageService(db)
	if err != nil {
		return fmt.Errorf("initialise usage service: %w", err)
	}
	evaluator, err := gate.NewEvaluator(userSvc, acceptanceSvc)
	if err != nil {
		return fmt.Errorf("initialise gate evaluator: %w", err)
	}

	publicLimiter := middleware.NewRateLimiter(30, time.Minute)

	var cleaner *maintenance.Cleaner
	if cfg.Maintenance.Enabled {
		cleaner = maintenance.NewCleaner(db,
			maintenance.WithTokenRetention(cfg.Maintenance.TokenRetention),
			maintenance.WithTokenSchedule(cfg.Maintenance.Schedule),
			maintenance.WithRateLimiter(publicLimiter),
		)
		if err := cleaner.Start(); err != nil {
			return fmt.Errorf("start maintenance jobs: %w", err)
		}
		defer func() {
			stopCtx := cleaner.Stop()
			if err := cleaner.RunOnce(stopCtx); err != nil {
				log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
			}
		}()
	}

	router, err := api.NewRouter(api.Dependencies{
		Config:            cfg,
		JWT:               jwtService,
		CSRF:              csrfVerifier,
		Users:             userSvc,
		Verification:      verificationSvc,
		Acceptance:        acceptanceSvc,
		Usage:             usageSvc,
		Evaluator:         evaluator,
		PublicRateLimiter: publicLimiter,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func ensureSecretsPresent(cfg *app.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Auth.JWT.Secret = strings.TrimSpace(cfg.Auth.JWT.Secret)
	if cfg.Auth.JWT.Secret == "" {
		return errors.New("auth.jwt.secret must be configured")
	}

	cfg.Auth.CSRF.Secret = strings.TrimSpace(cfg.Auth.CSRF.Secret)
	if len(cfg.Auth.CSRF.Secret) < security.MinCSRFKeyLen {
		return fmt.Errorf("auth.csrf.secret must be at least %d characters", security.MinCSRFKeyLen)
	}

	return nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	normalised := cfg.Database.Normalised()

	dbCfg := database.Config{
		Driver: normalised.Driver,
		Path:   normalised.Path,
		DSN:    normalised.DSN,
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
