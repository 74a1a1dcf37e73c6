package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danproc/qrverify/internal/app"
	iauth "github.com/danproc/qrverify/internal/auth"
	"github.com/danproc/qrverify/internal/gate"
	"github.com/danproc/qrverify/internal/handlers"
	"github.com/danproc/qrverify/internal/middleware"
	"github.com/danproc/qrverify/internal/security"
	"github.com/danproc/qrverify/internal/services"
)

// Dependencies bundles the constructed services the router mounts.
type Dependencies struct {
	Config       *app.Config
	JWT          *iauth.JWTService
	CSRF         security.CSRFVerifier
	Users        *services.UserService
	Verification *services.VerificationService
	Acceptance   *services.AcceptanceService
	Usage        *services.UsageService
	Evaluator    *gate.Evaluator

	// PublicRateLimiter guards the unauthenticated endpoints. Optional; a
	// default limiter is created when nil. Injected so the maintenance
	// loop can prune its buckets.
	PublicRateLimiter *middleware.RateLimiter
}

func (d Dependencies) validate() error {
	switch {
	case d.Config == nil:
		return fmt.Errorf("config must be provided")
	case d.JWT == nil:
		return fmt.Errorf("jwt service must be provided")
	case d.CSRF == nil:
		return fmt.Errorf("csrf verifier must be provided")
	case d.Users == nil, d.Verification == nil, d.Acceptance == nil, d.Usage == nil:
		return fmt.Errorf("all services must be provided")
	case d.Evaluator == nil:
		return fmt.Errorf("gate evaluator must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
//
// Route placement follows the gate rules: token consumption and registration
// are public, resend and terms acceptance stay reachable for blocked users,
// and everything else behind RequireClearance.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	r.GET("/health", handlers.Health())

	if deps.Config.Monitoring.Prometheus.Enabled {
		endpoint := deps.Config.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	authHandler, err := handlers.NewAuthHandler(deps.Users, deps.Verification, deps.Evaluator, deps.JWT)
	if err != nil {
		return nil, err
	}
	verificationHandler, err := handlers.NewVerificationHandler(deps.Users, deps.Verification)
	if err != nil {
		return nil, err
	}
	termsHandler, err := handlers.NewTermsHandler(deps.Acceptance, deps.Evaluator)
	if err != nil {
		return nil, err
	}
	usageHandler, err := handlers.NewUsageHandler(deps.Usage)
	if err != nil {
		return nil, err
	}
	codesHandler, err := handlers.NewCodesHandler(deps.Usage)
	if err != nil {
		return nil, err
	}
	securityHandler, err := handlers.NewSecurityHandler(deps.CSRF)
	if err != nil {
		return nil, err
	}
	profileHandler, err := handlers.NewProfileHandler(deps.Users, deps.Usage, deps.Evaluator)
	if err != nil {
		return nil, err
	}

	// Unauthenticated endpoints carry a per-IP limiter against token
	// guessing and registration floods.
	publicLimit := deps.PublicRateLimiter
	if publicLimit == nil {
		publicLimit = middleware.NewRateLimiter(30, time.Minute)
	}

	auth := r.Group("/api/auth")
	auth.Use(publicLimit.Middleware())
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/verify-email", authHandler.VerifyEmail)
	}

	requireAuth := middleware.Auth(deps.JWT)
	clearance := middleware.RequireClearance(deps.Evaluator)

	api := r.Group("/api")
	api.Use(requireAuth)

	// Escape hatches: reachable while the account is gated so users can
	// actually become compliant.
	api.GET("/auth/csrf", securityHandler.CSRFToken)
	api.GET("/me", profileHandler.Me)
	api.GET("/verification/status", verificationHandler.Status)
	api.POST("/verification/resend", middleware.CSRF(deps.CSRF, "verify.resend"), verificationHandler.Resend)
	api.GET("/terms", termsHandler.Current)
	api.GET("/terms/history", termsHandler.History)
	api.POST("/terms/accept", middleware.CSRF(deps.CSRF, "terms.accept"), termsHandler.Accept)

	// Anti-forgery is validated before the gate so a forged request never
	// learns the account's compliance state.
	api.GET("/usage", clearance, usageHandler.Summary)
	api.POST("/email/change", middleware.CSRF(deps.CSRF, "email.change"), clearance, verificationHandler.ChangeEmail)
	api.POST("/codes", middleware.CSRF(deps.CSRF, "codes.create"), clearance, codesHandler.Generate)

	return r, nil
}
