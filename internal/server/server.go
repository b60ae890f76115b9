// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the wiring layer: it connects handlers, middleware and
// routes, and owns the lifetime of the store, Redis client and mail sender
// handed to it.
//
// DEPENDENCY INJECTION FLOW:
//
//	cmd/server opens  Store, Redis, mail Sender  → Deps
//	Server.New builds SessionStore, RateLimiter, PasswordService, TokenIssuer
//	                  → AuthService → AuthHandler, HealthHandler
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/infinite-studio/internal/auth"
	"github.com/sakif/infinite-studio/internal/config"
	"github.com/sakif/infinite-studio/internal/handler"
	"github.com/sakif/infinite-studio/internal/middleware"
	"github.com/sakif/infinite-studio/internal/notify"
	"github.com/sakif/infinite-studio/internal/repository"
	"github.com/sakif/infinite-studio/internal/service"
)

// Store is a user repository the server can shut down.
type Store interface {
	repository.UserRepository
	io.Closer
}

// Deps are the external resources the server runs on. The server closes
// them when Start returns.
type Deps struct {
	Store Store
	Redis *redis.Client
	Mail  notify.Sender
}

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	deps   Deps
}

// New assembles the service graph on top of deps and registers every route.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Redis == nil || deps.Mail == nil {
		return nil, errors.New("server: store, redis and mail sender are required")
	}

	passwords, err := auth.NewPasswordService(cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	accounts, err := service.NewAuthService(
		deps.Store,
		passwords,
		auth.NewTokenIssuer(cfg.ResetTokenTTL),
		notify.NewDispatcher(deps.Mail, cfg.AppBaseURL),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		deps:   deps,
	}
	s.setupRoutes(accounts)
	return s, nil
}

// Handler returns the router, for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET  /health                          → DB and Redis ping
//	POST /api/auth/register               → create account, start session   [rate limited]
//	POST /api/auth/login                  → start session                    [rate limited]
//	POST /api/auth/logout                 → end session
//	GET  /api/auth/verify-email           → consume token, start session, redirect
//	POST /api/auth/resend-verification    → new verification email           [session, rate limited]
//	GET  /api/auth/me                     → current user                     [session]
//	PUT  /api/auth/profile                → change username/email            [session]
//	PUT  /api/auth/password               → change password                  [session]
//	POST /api/auth/forgot-password        → send reset email                 [rate limited]
//	POST /api/auth/reset-password         → set password from token          [rate limited]
//	GET  /api/admin/users/{id}            → any user                         [admin]
//
// Middleware order: RequestID, RealIP (only with TRUST_PROXY, since it
// believes any X-Forwarded-For), Logger, Recoverer, CORS, then session
// resolution.
func (s *Server) setupRoutes(accounts *service.AuthService) {
	sessions := auth.NewSessionStore(s.deps.Redis, auth.SessionConfig{
		TTL:          s.config.SessionTTL,
		CookieName:   s.config.SessionCookieName,
		CookieSecure: s.config.CookieSecure,
	})

	var limiter middleware.Limiter
	if s.config.RateLimitEnabled {
		limiter = auth.NewRateLimiter(s.deps.Redis, s.config.RateLimitMax, s.config.RateLimitWindow)
	}
	limit := func(scope string) func(http.Handler) http.Handler {
		return middleware.RateLimit(limiter, scope, s.logger)
	}

	authHandler := handler.NewAuthHandler(accounts, sessions, s.logger)
	healthHandler := handler.NewHealthHandler(s.logger, s.deps.Store, sessions)

	s.router.Use(chimiddleware.RequestID)
	if s.config.TrustProxy {
		s.router.Use(chimiddleware.RealIP)
	}
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/health", healthHandler.HandleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(auth.Session(sessions))

		r.Route("/api/auth", func(r chi.Router) {
			r.With(limit("register")).Post("/register", authHandler.HandleRegister)
			r.With(limit("login")).Post("/login", authHandler.HandleLogin)
			r.Post("/logout", authHandler.HandleLogout)
			r.Get("/verify-email", authHandler.HandleVerifyEmail)
			r.With(limit("forgot-password")).Post("/forgot-password", authHandler.HandleForgotPassword)
			r.With(limit("reset-password")).Post("/reset-password", authHandler.HandleResetPassword)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireSession)
				r.With(limit("resend-verification")).Post("/resend-verification", authHandler.HandleResendVerification)
				r.Get("/me", authHandler.HandleMe)
				r.Put("/profile", authHandler.HandleUpdateProfile)
				r.Put("/password", authHandler.HandleChangePassword)
			})
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(auth.RequireSession)
			r.Use(auth.RequireAdmin(s.deps.Store))
			r.Get("/users/{id}", authHandler.HandleAdminGetUser)
		})
	})
}

// Close releases the store, Redis client and, if it holds a connection, the
// mail sender.
func (s *Server) Close() error {
	var errs []error
	if c, ok := s.deps.Mail.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, s.deps.Redis.Close(), s.deps.Store.Close())
	return errors.Join(errs...)
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the mail sender, Redis and the database
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing dependencies", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("db_driver", s.config.DBDriver),
			slog.String("mail_transport", s.config.MailTransport),
			slog.Bool("rate_limit", s.config.RateLimitEnabled),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
