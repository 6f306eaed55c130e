// Package internal wires configuration, logging, the project workspace and
// the remote client into the engines behind each convsync command.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/starford/convsync/internal/freshness"
	"github.com/starford/convsync/internal/index"
	"github.com/starford/convsync/internal/manifest"
	"github.com/starford/convsync/internal/mcpserver"
	"github.com/starford/convsync/internal/mutation"
	"github.com/starford/convsync/internal/project"
	"github.com/starford/convsync/internal/remote"
	"github.com/starford/convsync/internal/syncer"
)

// App runs convsync commands against one working directory.
type App struct {
	cfg     *Config
	fs      afero.Fs
	workDir string
	version string
	api     remote.API
	logger  *slog.Logger
}

// New builds an App from the given options.
func New(opts ...Option) (*App, error) {
	a := &application{}
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return nil, errors.New("config is required")
	}
	if a.fs == nil {
		a.fs = afero.NewOsFs()
	}
	if a.workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		a.workDir = wd
	}
	if a.logOutput == nil {
		a.logOutput = os.Stderr
	}
	if a.version == "" {
		a.version = "dev"
	}

	logger := slog.New(slog.NewTextHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)

	return &App{
		cfg:     a.config,
		fs:      a.fs,
		workDir: a.workDir,
		version: a.version,
		api:     a.api,
		logger:  logger,
	}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Init creates the .conventions directory in the working directory.
func (a *App) Init() (string, bool, error) {
	return project.Init(a.fs, a.workDir)
}

func (a *App) workspace() (*project.Workspace, error) {
	return project.Open(a.fs, a.workDir, a.cfg.Project.Root)
}

func (a *App) remoteAPI() (remote.API, error) {
	if a.api != nil {
		return a.api, nil
	}
	rc := a.cfg.Remote
	if err := rc.Ready(); err != nil {
		return nil, err
	}
	a.api = remote.NewClient(rc.BaseURL, rc.Token,
		remote.WithTimeout(rc.Timeout),
		remote.WithRetry(rc.MaxRetries, 0, 0),
		remote.WithRateLimit(rc.RequestsPerSecond),
		remote.WithLogger(a.logger),
	)
	a.logger.Debug("remote client configured", slog.String("base_url", rc.BaseURL))
	return a.api, nil
}

func (a *App) syncEngine() (*syncer.Engine, error) {
	ws, err := a.workspace()
	if err != nil {
		return nil, err
	}
	api, err := a.remoteAPI()
	if err != nil {
		return nil, err
	}
	return syncer.New(api, ws, syncer.Options{
		PageSize:    a.cfg.Remote.PageSize,
		Concurrency: a.cfg.Remote.FetchConcurrency,
		Logger:      a.logger,
	})
}

func (a *App) mutationEngine() (*mutation.Engine, error) {
	ws, err := a.workspace()
	if err != nil {
		return nil, err
	}
	api, err := a.remoteAPI()
	if err != nil {
		return nil, err
	}
	return mutation.New(api, ws, mutation.Options{Logger: a.logger}), nil
}

// Download rebuilds the local tree and manifest from the remote catalog.
func (a *App) Download(ctx context.Context) (*syncer.Result, error) {
	e, err := a.syncEngine()
	if err != nil {
		return nil, err
	}
	return e.Download(ctx)
}

// Status reports drift between the manifest and the remote catalog.
func (a *App) Status(ctx context.Context) (freshness.Report, error) {
	e, err := a.syncEngine()
	if err != nil {
		return freshness.Report{}, err
	}
	return e.Status(ctx)
}

// Create uploads untracked local files as new conventions.
func (a *App) Create(ctx context.Context, refs []string) ([]mutation.Outcome, error) {
	e, err := a.mutationEngine()
	if err != nil {
		return nil, err
	}
	return e.Create(ctx, refs)
}

// Update diffs tracked files against the server and uploads them when apply is set.
func (a *App) Update(ctx context.Context, refs []string, apply bool) ([]mutation.Outcome, error) {
	e, err := a.mutationEngine()
	if err != nil {
		return nil, err
	}
	return e.Update(ctx, refs, apply)
}

// Delete plans, and with apply performs, deletion of tracked conventions.
func (a *App) Delete(ctx context.Context, refs []string, apply bool) ([]mutation.Outcome, error) {
	e, err := a.mutationEngine()
	if err != nil {
		return nil, err
	}
	return e.Delete(ctx, refs, apply)
}

// Tracked returns the manifest entries of the current project.
func (a *App) Tracked() ([]manifest.Entry, error) {
	ws, err := a.workspace()
	if err != nil {
		return nil, err
	}
	m, err := manifest.Load(ws.Fs, ws.ManifestPath())
	if err != nil {
		return nil, err
	}
	return m.Entries, nil
}

// openIndex opens the search index and brings it up to date with the tree.
func (a *App) openIndex(ws *project.Workspace) (*index.DB, index.Tracked, error) {
	store, err := ws.Storage()
	if err != nil {
		return nil, nil, err
	}
	db, err := index.Open(ws.IndexPath())
	if err != nil {
		return nil, nil, err
	}
	tracked := index.FromManifest(ws.Fs, ws.ManifestPath())
	if err := index.Sync(db, store, tracked, a.logger); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("index sync: %w", err)
	}
	return db, tracked, nil
}

// Search runs a full-text query over the local tree.
func (a *App) Search(query string, limit int) ([]index.SearchResult, error) {
	ws, err := a.workspace()
	if err != nil {
		return nil, err
	}
	db, _, err := a.openIndex(ws)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.Search(query, limit)
}

// ServeMCP serves the MCP tools on stdio while a watcher keeps the search
// index current. It returns when stdin closes or ctx is cancelled.
func (a *App) ServeMCP(ctx context.Context) error {
	ws, err := a.workspace()
	if err != nil {
		return err
	}
	store, err := ws.Storage()
	if err != nil {
		return err
	}
	db, tracked, err := a.openIndex(ws)
	if err != nil {
		return err
	}
	defer db.Close()

	var checker mcpserver.FreshnessChecker
	if e, err := a.syncEngine(); err == nil {
		checker = e
	} else {
		a.logger.Warn("check_freshness disabled", slog.String("error", err.Error()))
	}
	srv := mcpserver.New(store, db, checker, a.version)

	g, gCtx := errgroup.WithContext(ctx)
	watchCtx, stopWatch := context.WithCancel(gCtx)
	g.Go(func() error {
		return index.Watch(watchCtx, db, store, ws.Root, tracked, a.logger, func(kind, path string) {
			a.logger.Debug("index changed", slog.String("op", kind), slog.String("path", path))
		})
	})
	g.Go(func() error {
		defer stopWatch()
		a.logger.Info("mcp server starting", slog.String("root", ws.Root))
		return srv.ServeStdio()
	})
	return g.Wait()
}
