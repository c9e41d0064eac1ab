// Package server exposes the workspace as a JSON API for a browser front end.
//
// Every caller gets its own workspace. Signed-in callers are identified by a
// header set by the identity provider in front of this server; anonymous
// callers are keyed by X-Client-Id, which is assigned on first contact.
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/vedsharma/apitester/internal/codec"
	"github.com/vedsharma/apitester/internal/collection"
	"github.com/vedsharma/apitester/internal/config"
	"github.com/vedsharma/apitester/internal/docstore"
	"github.com/vedsharma/apitester/internal/history"
	"github.com/vedsharma/apitester/internal/session"
	"github.com/vedsharma/apitester/internal/tombstone"
	"github.com/vedsharma/apitester/internal/workspace"
)

// ClientIDHeader carries the anonymous client key
const ClientIDHeader = "X-Client-Id"

const (
	defaultMaxWorkspaces = 1024
	defaultIdleTimeout   = 30 * time.Minute
)

const workspaceKey = "workspace"

// Deps are the shared collaborators every workspace is built from
type Deps struct {
	Dispatcher workspace.Dispatcher
	Store      docstore.Store
	Tombstones tombstone.Set
	PageSize   int
	Logger     *zap.Logger
}

// Server is the browser-facing API
type Server struct {
	app    *fiber.App
	config config.ServerConfig
	deps   Deps
	logger *zap.Logger

	mu         sync.Mutex
	workspaces *expirable.LRU[string, *workspace.Workspace]
	closing    sync.WaitGroup
}

// New creates the server and registers its routes
func New(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.IdentityHeader == "" {
		cfg.IdentityHeader = "X-User-Id"
	}
	if cfg.MaxWorkspaces <= 0 {
		cfg.MaxWorkspaces = defaultMaxWorkspaces
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		AppName:               "API Tester",
		JSONEncoder:           codec.Marshal,
		JSONDecoder:           codec.Unmarshal,
		DisableStartupMessage: true,
		// path params and headers are kept past the handler as tombstone
		// ids and workspace keys
		Immutable: true,
	})

	s := &Server{
		app:    app,
		config: cfg,
		deps:   deps,
		logger: deps.Logger,
	}
	s.workspaces = expirable.NewLRU[string, *workspace.Workspace](cfg.MaxWorkspaces, s.evict, cfg.IdleTimeout)

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// App returns the fiber app, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on the configured address until Shutdown
func (s *Server) Listen() error {
	s.logger.Info("api server listening", zap.String("address", s.config.Address))
	return s.app.Listen(s.config.Address)
}

// Shutdown stops accepting requests and closes every workspace
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)

	s.mu.Lock()
	s.workspaces.Purge()
	s.mu.Unlock()

	s.closing.Wait()
	return err
}

// evict runs under the cache lock, so the close happens elsewhere
func (s *Server) evict(key string, ws *workspace.Workspace) {
	s.logger.Debug("closing workspace", zap.String("workspace", key))
	s.closing.Add(1)
	go func() {
		defer s.closing.Done()
		ws.Close()
	}()
}

func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))
	s.app.Use(requestid.New())

	if s.config.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins:  "*",
			AllowMethods:  "GET,POST,DELETE,OPTIONS",
			AllowHeaders:  "Origin,Content-Type,Accept," + s.config.IdentityHeader + "," + ClientIDHeader,
			ExposeHeaders: ClientIDHeader,
			MaxAge:        86400,
		}))
	}

	s.app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		s.logger.Debug("http request",
			zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)))
		return err
	})
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)

	api := s.app.Group("/api", s.identify)

	api.Get("/workspace", s.getWorkspace)
	api.Post("/send", s.send)

	api.Get("/history", s.listHistory)
	api.Post("/history/:id/load", s.loadHistory)
	api.Delete("/history/:id", s.deleteHistory)

	api.Get("/collections", s.listCollections)
	api.Post("/collections", s.createCollection)
	api.Delete("/collections/:id", s.deleteCollection)
	api.Post("/collections/items", s.saveItem)
	api.Post("/collections/:cid/items/:iid/load", s.loadItem)
	api.Delete("/collections/:cid/items/:iid", s.deleteItem)
}

// identify attaches the caller's workspace to the request. A new anonymous
// caller that only reads gets a throwaway workspace: it has nothing to read
// yet, and registering one per header-less GET would churn the cache.
func (s *Server) identify(c *fiber.Ctx) error {
	key := ""
	userID := c.Get(s.config.IdentityHeader)
	if userID != "" {
		key = "user:" + userID
	} else {
		clientID := c.Get(ClientIDHeader)
		minted := clientID == ""
		if minted {
			clientID = uuid.NewString()
		}
		c.Set(ClientIDHeader, clientID)

		if minted && c.Method() == fiber.MethodGet {
			ws := s.newWorkspace("")
			defer ws.Close()
			c.Locals(workspaceKey, ws)
			return c.Next()
		}
		key = "client:" + clientID
	}

	ws := s.workspaceFor(c.UserContext(), key, userID)
	c.Locals(workspaceKey, ws)
	return c.Next()
}

// workspaceFor returns the cached workspace for key, creating it on a miss.
// Every hit restarts the idle timer.
func (s *Server) workspaceFor(ctx context.Context, key, userID string) *workspace.Workspace {
	s.mu.Lock()
	ws, ok := s.workspaces.Get(key)
	if !ok {
		// an expired entry not yet swept is still stored under key; Add
		// would overwrite it without closing it
		s.workspaces.Remove(key)
		ws = s.newWorkspace(userID)
	}
	s.workspaces.Add(key, ws)
	s.mu.Unlock()

	if !ok && userID != "" {
		if err := ws.Sync(ctx); err != nil {
			s.logger.Warn("initial load failed", zap.String("user", userID), zap.Error(err))
		}
	}
	return ws
}

func (s *Server) newWorkspace(userID string) *workspace.Workspace {
	opts := []history.Option{}
	if s.deps.PageSize > 0 {
		opts = append(opts, history.WithPageSize(s.deps.PageSize))
	}
	return workspace.New(
		s.deps.Dispatcher,
		history.NewAdapter(s.deps.Store, s.deps.Tombstones, s.deps.Logger, opts...),
		collection.NewAdapter(s.deps.Store, s.deps.Logger),
		session.NewProvider(userID),
		s.deps.Logger,
	)
}

func current(c *fiber.Ctx) *workspace.Workspace {
	return c.Locals(workspaceKey).(*workspace.Workspace)
}

// customErrorHandler handles errors returned by handlers
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "error",
		Message: message,
	})
}
