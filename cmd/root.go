package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vedsharma/apitester/internal/collection"
	"github.com/vedsharma/apitester/internal/config"
	"github.com/vedsharma/apitester/internal/docstore"
	"github.com/vedsharma/apitester/internal/events"
	"github.com/vedsharma/apitester/internal/format"
	"github.com/vedsharma/apitester/internal/history"
	httpclient "github.com/vedsharma/apitester/internal/http"
	"github.com/vedsharma/apitester/internal/logger"
	"github.com/vedsharma/apitester/internal/session"
	"github.com/vedsharma/apitester/internal/tombstone"
	"github.com/vedsharma/apitester/internal/workspace"
)

var (
	configPath string
	userFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "apitester",
	Short: "Compose HTTP requests and send them through the API proxy",
	Long: `apitester composes HTTP requests, sends them through the API proxy,
and keeps a per-user history and named collections of saved requests.

Examples:
  apitester get https://api.example.com/users -q page=2
  apitester post https://api.example.com/users -d '{"name": "John"}'
  apitester login alice
  apitester history
  apitester collection list`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Show response headers")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.apitester/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "Act as this user instead of the remembered session")
}

// app is everything a command needs, wired from config
type app struct {
	cfg         *config.Config
	dataDir     string
	logger      *zap.Logger
	store       docstore.Store
	tombstones  tombstone.Set
	session     *session.Provider
	sessionFile *session.File
	client      *httpclient.Client
	ws          *workspace.Workspace
	closers     []func() error
}

// mustBootstrap builds the app or exits with an error message
func mustBootstrap(cmd *cobra.Command) *app {
	a, err := bootstrap(cmd.Context())
	if err != nil {
		format.PrintError(fmt.Sprintf("Failed to start: %v", err))
		os.Exit(1)
	}
	return a
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	dataDir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	if err := config.EnsureDir(dataDir); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, dataDir: dataDir, logger: logger.New(cfg.Log)}
	a.closers = append(a.closers, func() error {
		_ = a.logger.Sync()
		return nil
	})

	if a.store, err = openStore(cfg.Store); err != nil {
		a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	if a.tombstones, err = a.openTombstones(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("open tombstones: %w", err)
	}

	a.sessionFile = session.NewFile(dataDir)
	userID, err := a.identity()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("read session: %w", err)
	}
	a.session = session.NewProvider(userID)
	events.NewRecorder(a.store, a.logger, "").Attach(a.session)

	a.client = httpclient.NewClient(cfg.Proxy.BaseURL,
		httpclient.WithTimeout(cfg.Proxy.Timeout),
		httpclient.WithMaxResponseSize(cfg.Proxy.MaxResponseBytes),
		httpclient.WithLogger(a.logger))

	a.ws = workspace.New(a.client,
		history.NewAdapter(a.store, a.tombstones, a.logger, history.WithPageSize(cfg.History.PageSize)),
		collection.NewAdapter(a.store, a.logger),
		a.session,
		a.logger)
	a.ws.Attach()

	return a, nil
}

// identity picks --user, then APITESTER_USER, then the remembered session
func (a *app) identity() (string, error) {
	if userFlag != "" {
		return userFlag, nil
	}
	if a.cfg.User != "" {
		return a.cfg.User, nil
	}
	return a.sessionFile.Load()
}

func openStore(cfg config.StoreConfig) (docstore.Store, error) {
	switch cfg.Driver {
	case "memory":
		return docstore.NewMemoryStore(), nil
	default:
		return docstore.OpenSQLite(cfg.Path)
	}
}

func (a *app) openTombstones(ctx context.Context) (tombstone.Set, error) {
	tc := a.cfg.Tombstone
	switch tc.Driver {
	case "redis":
		r, err := tombstone.NewRedis(ctx, tombstone.RedisConfig{
			Addr:     tc.Redis.Addr,
			Password: tc.Redis.Password,
			DB:       tc.Redis.DB,
		}, tc.Key)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		return r, nil
	default:
		dir := tc.Path
		if dir == "" {
			dir = a.dataDir
		}
		return tombstone.NewFile(filepath.Clean(dir), tc.Key)
	}
}

// userID returns the signed-in user or ""
func (a *app) userID() string {
	uid, _ := a.session.UserID()
	return uid
}

// sync loads remote history and collections; failures only warn
func (a *app) sync(ctx context.Context) {
	if err := a.ws.Sync(ctx); err != nil {
		format.PrintWarning(fmt.Sprintf("Could not load saved data: %v", err))
	}
}

// Close flushes background writes and releases resources in reverse order
func (a *app) Close() {
	if a.ws != nil {
		a.ws.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
}

// exitf prints an error, releases the app and exits
func (a *app) exitf(msg string, args ...any) {
	format.PrintError(fmt.Sprintf(msg, args...))
	a.Close()
	os.Exit(1)
}
