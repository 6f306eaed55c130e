// Package syncer rebuilds the local convention tree from the remote catalog
// and regenerates the manifest.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/convsync/internal/apperr"
	"github.com/starford/convsync/internal/manifest"
	"github.com/starford/convsync/internal/models"
	"github.com/starford/convsync/internal/naming"
	"github.com/starford/convsync/internal/project"
	"github.com/starford/convsync/internal/remote"
	"github.com/starford/convsync/internal/storage"
)

const defaultConcurrency = 4

// Options tunes an Engine. Zero values pick defaults.
type Options struct {
	PageSize    int
	Concurrency int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Engine performs full downloads into one workspace.
type Engine struct {
	api         remote.API
	ws          *project.Workspace
	store       *storage.FS
	logger      *slog.Logger
	pageSize    int
	concurrency int
	now         func() time.Time
}

// New creates an Engine for ws.
func New(api remote.API, ws *project.Workspace, opts Options) (*Engine, error) {
	store, err := ws.Storage()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		api:         api,
		ws:          ws,
		store:       store,
		logger:      opts.Logger,
		pageSize:    opts.PageSize,
		concurrency: opts.Concurrency,
		now:         opts.Now,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.pageSize <= 0 {
		e.pageSize = remote.DefaultPageSize
	}
	if e.concurrency <= 0 {
		e.concurrency = defaultConcurrency
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Result summarises a download.
type Result struct {
	TemplateUpdated  bool
	GuidesWritten    int
	DocumentsWritten int
	CategoryDirs     int
	ManifestPath     string
	Message          string
}

// Download runs the full reconciliation: template, shared guides, then the
// catalog. Every body is fetched before any category directory is touched,
// and the manifest is written last.
func (e *Engine) Download(ctx context.Context) (*Result, error) {
	res := &Result{}

	res.TemplateUpdated = e.writeTemplate(ctx)

	guides, err := e.writeGuides(ctx)
	if err != nil {
		return nil, err
	}
	res.GuidesWritten = guides

	docs, err := e.api.FetchAll(ctx, e.pageSize)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	if len(docs) == 0 {
		if !res.TemplateUpdated {
			return nil, fmt.Errorf("%w: the remote catalog is empty and no template is configured", apperr.ErrNothingToSync)
		}
		res.Message = render(res, true)
		return res, nil
	}

	bodies, err := e.fetchBodies(ctx, docs)
	if err != nil {
		return nil, err
	}
	hash, err := e.guidesHash(ctx)
	if err != nil {
		return nil, err
	}

	if err := e.store.RemoveAll(project.RelPath(project.LegacyDir)); err != nil {
		return nil, err
	}

	dirs := categoryDirs(docs)
	for _, dir := range dirs {
		rel := project.RelPath(dir)
		if err := e.store.RemoveAll(rel); err != nil {
			return nil, err
		}
		if err := e.store.MkdirAll(rel); err != nil {
			return nil, err
		}
	}

	now := e.now()
	m := manifest.New(now)
	m.PlatformGuidesHash = hash
	alloc := naming.NewAllocator()
	for i, doc := range docs {
		dir := naming.SafeDirectoryName(doc.Category)
		name := alloc.Allocate(dir, naming.BuildFileName(doc.FileName, doc.Title))
		rel := project.RelPath(dir, name)
		if err := e.store.Write(rel, []byte(bodies[i])); err != nil {
			return nil, err
		}
		if err := m.Append(manifest.Entry{
			ConventionID:     doc.ID,
			FileRelativePath: rel,
			FileName:         name,
			CategoryDir:      dir,
			Title:            optional(doc.Title),
			Category:         optional(doc.Category),
			UpdatedAt:        optional(doc.UpdatedAt),
			DownloadedAt:     manifest.Timestamp(now),
		}); err != nil {
			return nil, err
		}
	}

	res.ManifestPath = e.ws.ManifestPath()
	if err := manifest.Save(e.ws.Fs, res.ManifestPath, m); err != nil {
		return nil, err
	}
	res.DocumentsWritten = len(docs)
	res.CategoryDirs = len(dirs)
	res.Message = render(res, false)

	e.logger.Info("download complete",
		slog.Int("documents", res.DocumentsWritten),
		slog.Int("categories", res.CategoryDirs),
		slog.Int("guides", res.GuidesWritten),
		slog.String("manifest", res.ManifestPath))
	return res, nil
}

// writeTemplate stores the body linked from the first agent profile.
// Every failure is swallowed.
func (e *Engine) writeTemplate(ctx context.Context) bool {
	profiles, err := e.api.FetchAgentProfiles(ctx)
	if err != nil {
		e.logger.Debug("template skipped: agent profiles unavailable", slog.String("error", err.Error()))
		return false
	}
	if len(profiles) == 0 || strings.TrimSpace(profiles[0].ConventionID) == "" {
		e.logger.Debug("template skipped: no linked convention")
		return false
	}
	body, err := e.api.FetchBody(ctx, profiles[0].ConventionID)
	if err != nil {
		e.logger.Debug("template skipped: body unavailable",
			slog.String("convention_id", profiles[0].ConventionID),
			slog.String("error", err.Error()))
		return false
	}
	if err := e.store.Write(project.RelPath(project.TemplateFile), []byte(body)); err != nil {
		e.logger.Debug("template skipped: write failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// writeGuides rebuilds the _platform directory. A 404 yields zero guides;
// other errors propagate.
func (e *Engine) writeGuides(ctx context.Context) (int, error) {
	guides, err := e.api.FetchSharedGuides(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch platform guides: %w", err)
	}
	root := project.RelPath(project.PlatformDir)
	if err := e.store.RemoveAll(root); err != nil {
		return 0, err
	}
	if len(guides) == 0 {
		return 0, nil
	}
	if err := e.store.MkdirAll(root); err != nil {
		return 0, err
	}
	alloc := naming.NewAllocator()
	for _, g := range guides {
		dir := naming.SafeDirectoryName(g.Category)
		name := alloc.Allocate(dir, naming.BuildFileName(g.FileName, g.Title))
		if err := e.store.Write(project.RelPath(project.PlatformDir, dir, name), []byte(g.Content)); err != nil {
			return 0, err
		}
	}
	return len(guides), nil
}

// guidesHash returns the shared-guide fingerprint, or nil when the
// deployment has no guides endpoint.
func (e *Engine) guidesHash(ctx context.Context) (*string, error) {
	hash, err := e.api.FetchSharedGuidesHash(ctx)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch platform guides hash: %w", err)
	}
	return &hash, nil
}

// fetchBodies downloads every body with bounded parallelism. Results keep
// catalog order.
func (e *Engine) fetchBodies(ctx context.Context, docs []models.Convention) ([]string, error) {
	bodies := make([]string, len(docs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			body, err := e.api.FetchBody(gCtx, doc.ID)
			if err != nil {
				return fmt.Errorf("fetch body of %s: %w", doc.ID, err)
			}
			bodies[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bodies, nil
}

// categoryDirs returns the distinct category directories in first-seen order.
func categoryDirs(docs []models.Convention) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, d := range docs {
		dir := naming.SafeDirectoryName(d.Category)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		out = append(out, dir)
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func render(r *Result, empty bool) string {
	var parts []string
	if r.TemplateUpdated {
		parts = append(parts, "Updated "+project.TemplateFile+".")
	}
	if r.GuidesWritten > 0 {
		parts = append(parts, fmt.Sprintf("Wrote %d platform guide%s.", r.GuidesWritten, plural(r.GuidesWritten)))
	}
	if empty {
		parts = append(parts, "No project conventions found.")
	} else {
		dirs := "categories"
		if r.CategoryDirs == 1 {
			dirs = "category"
		}
		parts = append(parts, fmt.Sprintf("Wrote %d convention%s into %d %s.",
			r.DocumentsWritten, plural(r.DocumentsWritten), r.CategoryDirs, dirs))
	}
	return strings.Join(parts, " ")
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
