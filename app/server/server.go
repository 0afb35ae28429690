package server

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"klaus/app/agent"
	"klaus/app/api"
	"klaus/app/middleware"
	"klaus/app/retrieval"
	"klaus/model"
	"klaus/store"
	"klaus/types"
)

const (
	shutdownTimeout  = 5 * time.Second
	rateLimitedReply = "You're sending messages a little fast. Please wait a moment and try again."
)

var config = fiber.Config{
	ErrorHandler: api.ErrorHandler,
}

type Server struct {
	cfg     types.Config
	logger  *slog.Logger
	app     *fiber.App
	watcher *store.Watcher
	closers []func() error
}

func NewServer(cfg types.Config) *Server {
	return &Server{
		cfg:    cfg,
		logger: slog.Default(),
	}
}

// Deps are the components the HTTP routes are served from.
type Deps struct {
	Router  *agent.Router
	Facts   *store.FactStore
	Limiter *middleware.RateLimiter
}

// NewApp registers every route on a fresh fiber app.
func NewApp(d Deps) *fiber.App {
	var (
		app            = fiber.New(config)
		checkHandler   = api.NewCheckHandler(d.Facts)
		klausHandler   = api.NewKlausHandler(d.Router)
		profileHandler = api.NewProfileHandler(d.Facts)
		check          = app.Group("/check")
		apiv1          = app.Group("/api")
	)

	app.Use(middleware.RequestID())
	app.Use(middleware.PlugStatic(d.Facts.DataDir(), types.ResumePDF))

	check.Get("/healthy", checkHandler.HandleHealthy)

	apiv1.Post("/klaus", d.Limiter.Handler(func(c *fiber.Ctx) error {
		return c.JSON(types.ChatReply{Reply: rateLimitedReply})
	}), klausHandler.HandleChat)
	apiv1.Get("/klaus", klausHandler.HandleHealth)
	apiv1.Get("/linkedin", d.Limiter.Handler(func(c *fiber.Ctx) error {
		return api.ErrTooManyRequests()
	}), profileHandler.HandleGetProfile)

	return app
}

// Setup builds the stores, the model provider and the routes.
func (s *Server) Setup(ctx context.Context) error {
	index, err := s.indexStore(ctx)
	if err != nil {
		return err
	}
	facts := store.NewFactStore(s.cfg.DataDir, index, s.logger)

	sessions, err := s.sessionStore(ctx)
	if err != nil {
		return err
	}

	provider, err := model.NewProvider(ctx, s.cfg.LLM)
	if err != nil {
		return err
	}

	var (
		retriever = retrieval.NewRetriever(facts, provider, retrieval.OwnerTerms(s.cfg.Persona.OwnerName))
		composer  = agent.NewComposer(s.cfg.Persona, s.cfg.LogPromptTokens)
		klaus     = agent.NewAgent(provider, retriever, composer, s.cfg.Persona, s.cfg.Production)
		router    = agent.NewRouter(klaus, sessions, provider, s.cfg.Persona)
	)

	if stats, err := facts.Stats(ctx); err != nil {
		s.logger.Warn("knowledge base not loaded", "error", err)
	} else {
		s.logger.Info("knowledge base ready", "facts", stats.Facts, "embedded", stats.EmbeddedFacts, "dimension", stats.Dimension)
	}

	if s.cfg.HotReload {
		s.watcher = store.NewWatcher(facts)
		if err := s.watcher.Start(); err != nil {
			return fmt.Errorf("start knowledge base watcher: %w", err)
		}
	}

	s.app = NewApp(Deps{
		Router:  router,
		Facts:   facts,
		Limiter: middleware.NewRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst),
	})
	return nil
}

func (s *Server) indexStore(ctx context.Context) (store.IndexStorer, error) {
	switch s.cfg.IndexBackend {
	case "postgres":
		pool, err := store.NewPostgresStore(ctx, s.cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("error to connect to Postgres database: %w", err)
		}
		if err := pool.Init(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("error to create tables: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		return pool, nil
	case "", "file":
		return store.NewFileIndex(s.cfg.DataPath(types.EmbeddingIndex)), nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", s.cfg.IndexBackend)
	}
}

func (s *Server) sessionStore(ctx context.Context) (store.SessionStorer, error) {
	switch s.cfg.SessionBackend {
	case "redis":
		rs, err := store.NewRedisSessionStore(ctx, s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, s.cfg.SessionTTL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, rs.Close)
		return rs, nil
	case "", "memory":
		return store.NewMemorySessionStore(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", s.cfg.SessionBackend)
	}
}

// Run serves until ctx is cancelled, then shuts the app down.
func (s *Server) Run(ctx context.Context) error {
	if s.app == nil {
		if err := s.Setup(ctx); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server listening", "addr", s.cfg.ServerAddr)
		return s.app.Listen(s.cfg.ServerAddr)
	})
	g.Go(func() error {
		<-ctx.Done()
		return s.app.ShutdownWithTimeout(shutdownTimeout)
	})
	return g.Wait()
}

func (s *Server) Stop() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			log.Printf("error closing resource: %v", err)
		}
	}
	s.logger.Info("server stopped")
}
