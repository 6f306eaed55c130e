// Package mutation creates, updates and deletes single conventions against
// the remote service while keeping the manifest consistent. Update and
// delete default to a dry run.
package mutation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/starford/convsync/internal/manifest"
	"github.com/starford/convsync/internal/project"
	"github.com/starford/convsync/internal/remote"
)

// Action names what happened to one file.
type Action string

const (
	Created   Action = "created"
	NoChanges Action = "no-changes"
	Planned   Action = "planned"
	Updated   Action = "updated"
	Deleted   Action = "deleted"
)

// Outcome is the per-file result of a mutation.
type Outcome struct {
	Path         string // root-relative
	ConventionID string
	Action       Action
	Diff         string
	Stat         DiffStat
	Warnings     []string
	Message      string
}

// Options tunes an Engine.
type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Engine runs mutations for one workspace.
type Engine struct {
	api    remote.API
	ws     *project.Workspace
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Engine.
func New(api remote.API, ws *project.Workspace, opts Options) *Engine {
	e := &Engine{api: api, ws: ws, logger: opts.Logger, now: opts.Now}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// batch runs fn for each ref in order and stops at the first failure.
// Outcomes of earlier refs, plus the partial outcome of the failing ref when
// it got far enough to name a path, are returned alongside the error.
func batch(refs []string, fn func(ref string) (Outcome, error)) ([]Outcome, error) {
	out := make([]Outcome, 0, len(refs))
	for _, ref := range refs {
		o, err := fn(ref)
		if err != nil {
			if o.Path != "" {
				out = append(out, o)
			}
			return out, err
		}
		out = append(out, o)
	}
	return out, nil
}

// target resolves ref to its host path and root-relative path.
func (e *Engine) target(ref string) (abs, rel string, err error) {
	abs = e.ws.Resolve(ref)
	rel, err = e.ws.Rel(abs)
	if err != nil {
		return "", "", err
	}
	return abs, rel, nil
}

// tracked loads the manifest and finds the entry for rel.
func (e *Engine) tracked(rel string) (*manifest.Manifest, *manifest.Entry, error) {
	m, err := manifest.Load(e.ws.Fs, e.ws.ManifestPath())
	if err != nil {
		return nil, nil, err
	}
	entry, ok := m.Find(rel)
	if !ok {
		return nil, nil, &NotTrackedError{
			Path:    rel,
			Tracked: m.TrackedPaths(maxTrackedHint),
			Total:   len(m.Entries),
		}
	}
	return m, entry, nil
}

func (e *Engine) readLocal(abs, rel string) (string, error) {
	data, err := afero.ReadFile(e.ws.Fs, abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

func (e *Engine) save(m *manifest.Manifest) error {
	return manifest.Save(e.ws.Fs, e.ws.ManifestPath(), m)
}

func (e *Engine) stamp() string {
	return manifest.Timestamp(e.now())
}
