// Package server is the composition root: it builds every component from the
// configuration, mounts the routes and runs the background workers.
//
// DEPENDENCY FLOW:
//
//	config ─► sqlite.DB ─► identity.Engine ─► AuthHandler
//	                    └► comment.Service ─► CommentHandler
//	cache.Cache ◄─ changefeed.Invalidator ◄─ changefeed.Watcher ◄─ Source (AMQP or memory)
//	                              └► revalidate.Notifier
//
// Handlers receive interfaces; only this package knows the concrete types.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mikestefanello/backlite"

	"github.com/sakif/blogcore/internal/auth"
	"github.com/sakif/blogcore/internal/cache"
	"github.com/sakif/blogcore/internal/changefeed"
	"github.com/sakif/blogcore/internal/comment"
	"github.com/sakif/blogcore/internal/config"
	"github.com/sakif/blogcore/internal/handler"
	"github.com/sakif/blogcore/internal/identity"
	"github.com/sakif/blogcore/internal/middleware"
	"github.com/sakif/blogcore/internal/ratelimit"
	"github.com/sakif/blogcore/internal/revalidate"
	sqliteRepo "github.com/sakif/blogcore/internal/repository/sqlite"
)

const shutdownTimeout = 30 * time.Second

// Server owns every long-lived resource. Start runs it until its context
// ends, then releases them in reverse order.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger

	db        *sqliteRepo.DB
	issuer    *auth.Issuer
	engine    *identity.Engine
	cache     *cache.Cache
	notifier  revalidate.Notifier
	publisher changefeed.Publisher
	watcher   *changefeed.Watcher
	comments  *comment.Service
	limiter   *ratelimit.Limiter

	// Exactly one of these is set.
	inline *comment.InlineDispatcher
	queue  *backlite.Client

	// base outlives requests; background work runs under it.
	base   context.Context
	cancel context.CancelFunc
}

// New builds the server. Optional integrations (AMQP, Redis, revalidation,
// Turnstile) are skipped with a log line when not configured.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if err := ensureDir(cfg.DBPath); err != nil {
		return nil, err
	}

	sealer, err := auth.NewSealer(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("server: creating token sealer: %w", err)
	}
	db, err := sqliteRepo.New(cfg.DBPath, sqliteRepo.WithTokenSealer(sealer))
	if err != nil {
		return nil, fmt.Errorf("server: opening database: %w", err)
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("server: creating session issuer: %w", err)
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		issuer: issuer,
		engine: identity.NewEngine(db, db, issuer, logger),
		cache:  cache.New(cfg.CacheCapacity, cfg.CacheTTL),
		base:   base,
		cancel: cancel,
	}

	if err := s.wire(); err != nil {
		s.release()
		return nil, err
	}
	s.routes()
	return s, nil
}

func (s *Server) wire() error {
	cfg := s.config
	resolver := config.NewResolver(cfg, s.db)

	// === Cache coherency ===
	s.notifier = revalidate.Nop{}
	if cfg.RevalidateURL != "" {
		s.notifier = revalidate.NewClient(cfg.RevalidateURL, cfg.RevalidateSecret, cfg.RevalidateSalt, s.logger)
	} else {
		s.logger.Warn("REVALIDATE_URL not set, frontend revalidation disabled")
	}

	var source changefeed.Source
	if cfg.AMQPURL != "" {
		source = changefeed.NewAMQPSource(cfg.AMQPURL, cfg.ChangeExchange, cfg.ChangeQueue, s.logger)
		s.publisher = changefeed.NewAMQPPublisher(cfg.AMQPURL, cfg.ChangeExchange)
	} else {
		s.logger.Warn("AMQP_URL not set, change feed is in-process only")
		mem := changefeed.NewMemorySource(64)
		source, s.publisher = mem, mem
	}
	invalidator := changefeed.NewInvalidator(s.cache, s.notifier, s.logger)
	s.watcher = changefeed.NewWatcher(source, invalidator, s.logger)

	// === Comments ===
	classifier := comment.NewClassifier(resolver, nil, s.logger)
	reviewer := comment.NewReviewer(classifier, s.db, s.logger)

	var dispatcher comment.Dispatcher
	if cfg.ReviewDurable {
		client, err := backlite.NewClient(backlite.ClientConfig{
			DB:              s.db.Conn(),
			Logger:          s.logger,
			ReleaseAfter:    2 * time.Minute,
			NumWorkers:      cfg.ReviewWorkers,
			CleanupInterval: time.Hour,
		})
		if err != nil {
			return fmt.Errorf("server: creating review queue: %w", err)
		}
		if err := client.Install(); err != nil {
			return fmt.Errorf("server: installing review queue: %w", err)
		}
		s.queue = client
		dispatcher = comment.NewQueueDispatcher(client, reviewer.Review)
	} else {
		s.inline = comment.NewInlineDispatcher(s.base, reviewer.Review, s.logger)
		dispatcher = s.inline
	}

	var opts []comment.ServiceOption
	if cfg.TurnstileSecret != "" {
		opts = append(opts, comment.WithCaptcha(comment.NewTurnstile(cfg.TurnstileSecret, s.logger)))
	} else {
		s.logger.Warn("TURNSTILE_SECRET not set, anonymous comments skip captcha")
	}
	s.comments = comment.NewService(s.db, s.db, classifier, dispatcher, s.logger, opts...)

	// === Rate limiting ===
	if cfg.RedisAddr != "" {
		limiter, err := ratelimit.New(ratelimit.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   "blogcore:comments",
			Limit:    cfg.CommentRate,
			Window:   cfg.CommentRateSpan,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("server: creating rate limiter: %w", err)
		}
		s.limiter = limiter
	} else {
		s.logger.Warn("REDIS_ADDR not set, anonymous comments are not rate limited")
	}
	return nil
}

// routes mounts every endpoint.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz
//	GET    /auth/{provider}/login
//	GET    /auth/{provider}/callback
//	POST   /auth/logout
//	POST   /auth/bind-anonymous          RequireAuth
//	POST   /auth/skip-bind               RequireAuth
//	GET    /auth/bindable-identities     RequireAuth
//	GET    /api/me                       RequireAuth
//	GET    /api/comments                 OptionalAuth
//	POST   /api/comments                 OptionalAuth + rate limit for anonymous callers
//	GET    /api/admin/cache/stats        owner
//	POST   /api/admin/cache/flush        owner
//	POST   /api/admin/revalidate         owner
//	POST   /api/admin/changes            owner
//	PUT    /api/admin/comments/{id}/state owner
func (s *Server) routes() {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)

	providers := auth.NewProviders(config.NewResolver(s.config, s.db).OAuth)
	authHandler := handler.NewAuthHandler(providers, s.engine, s.config.FrontendURL, s.config.SecureCookies, s.logger)
	commentHandler := handler.NewCommentHandler(s.comments, s.db, s.logger)
	adminHandler := handler.NewAdminHandler(s.cache, s.notifier, s.publisher, s.logger)

	requireAuth := auth.RequireAuth(s.issuer)

	r.Get("/healthz", handler.HandleHealth(s.db.Conn()))

	r.Route("/auth", func(r chi.Router) {
		r.Get("/{provider}/login", authHandler.HandleLogin)
		r.Get("/{provider}/callback", authHandler.HandleCallback)
		r.Post("/logout", authHandler.HandleLogout)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/bind-anonymous", authHandler.HandleBind)
			r.Post("/skip-bind", authHandler.HandleSkipBind)
			r.Get("/bindable-identities", authHandler.HandleBindable)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.With(requireAuth).Get("/me", authHandler.HandleMe)

		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalAuth(s.issuer))
			r.Get("/comments", commentHandler.HandleList)
			r.With(s.commentRateLimit()...).Post("/comments", commentHandler.HandleCreate)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAuth, auth.RequireOwner(s.engine.IsOwner))
			r.Get("/cache/stats", adminHandler.HandleCacheStats)
			r.Post("/cache/flush", adminHandler.HandleCacheFlush)
			r.Post("/revalidate", adminHandler.HandleRevalidate)
			r.Post("/changes", adminHandler.HandlePublishChange)
			r.Put("/comments/{id}/state", commentHandler.HandleSetState)
		})
	})
}

// commentRateLimit limits anonymous comment posts per client IP. Signed-in
// Readers are exempt.
func (s *Server) commentRateLimit() []func(http.Handler) http.Handler {
	if s.limiter == nil {
		return nil
	}
	key := func(r *http.Request) string { return "ip:" + handler.ClientIP(r) }
	skip := func(r *http.Request) bool {
		subject, ok := auth.SubjectFromContext(r.Context())
		return ok && subject.IsResolved()
	}
	return []func(http.Handler) http.Handler{middleware.RateLimit(s.limiter, key, skip, s.logger)}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Publisher is where change events for this server go.
func (s *Server) Publisher() changefeed.Publisher { return s.publisher }

// Start serves HTTP and runs the change feed watcher until ctx ends, then
// shuts down gracefully:
//  1. stop accepting connections and drain in-flight requests
//  2. let background reviews finish, then stop the watcher
//  3. close Redis and the database
func (s *Server) Start(ctx context.Context) error {
	defer s.release()

	if s.limiter != nil {
		if err := s.limiter.Ping(ctx); err != nil {
			s.logger.Warn("redis unreachable, anonymous comments will be refused", slog.String("error", err.Error()))
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.watcher.Run(s.base)
	}()
	if s.queue != nil {
		s.queue.Start(s.base)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
			slog.Bool("durableReview", s.queue != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server: listening: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			runErr = fmt.Errorf("server: graceful shutdown: %w", err)
		}
	}

	// Reviews finish under a live base context; the watcher stops after.
	s.drainReviews()
	s.cancel()
	wg.Wait()
	s.logger.Info("server stopped")
	return runErr
}

func (s *Server) drainReviews() {
	if s.inline != nil {
		// Failures were logged as they happened.
		_ = s.inline.Wait()
	}
	if s.queue != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if !s.queue.Stop(ctx) {
			s.logger.Warn("review queue did not stop cleanly")
		}
	}
}

// release frees resources. Safe to call on a partially built server.
func (s *Server) release() {
	s.cancel()
	if s.limiter != nil {
		s.limiter.Close()
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("closing database", slog.String("error", err.Error()))
	}
}

// Close releases resources of a server that was never started.
func (s *Server) Close() {
	if s.inline != nil {
		_ = s.inline.Wait()
	}
	s.release()
}

func ensureDir(dbPath string) error {
	if dbPath == ":memory:" || strings.HasPrefix(dbPath, "file:") {
		return nil
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("server: creating database directory %s: %w", dir, err)
	}
	return nil
}
