package mutation

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/convsync/internal/apperr"
	"github.com/starford/convsync/internal/manifest"
	"github.com/starford/convsync/internal/parser"
	"github.com/starford/convsync/internal/project"
	"github.com/starford/convsync/internal/remote"
)

// createTarget is the shape of a root-relative create path:
// .conventions/<category>/.../<file>.md
type createTarget struct {
	Root     string
	Category string
	File     string
	Ext      string
}

func parseCreateTarget(rel string) createTarget {
	segs := strings.Split(rel, "/")
	var t createTarget
	if len(segs) >= 3 {
		t.Root = segs[0]
		t.Category = segs[1]
		t.File = segs[len(segs)-1]
	} else if len(segs) > 0 {
		t.File = segs[len(segs)-1]
	}
	t.Ext = strings.ToLower(path.Ext(t.File))
	return t
}

func (t createTarget) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Root,
			validation.Required.Error("must be under "+project.ConventionsDir+"/<category>/"),
			validation.In(project.ConventionsDir).Error("must be under "+project.ConventionsDir+"/<category>/")),
		validation.Field(&t.Category,
			validation.NotIn(project.PlatformDir, project.LegacyDir).Error("is a reserved category")),
		validation.Field(&t.Ext,
			validation.Required.Error("must be a markdown file (.md or .markdown)"),
			validation.In(".md", ".markdown").Error("must be a markdown file (.md or .markdown)")),
	)
}

// Create uploads each untracked local file as a new convention and tracks
// it in the manifest. Paths are validated before any network call.
func (e *Engine) Create(ctx context.Context, refs []string) ([]Outcome, error) {
	return batch(refs, func(ref string) (Outcome, error) {
		return e.createOne(ctx, ref)
	})
}

func (e *Engine) createOne(ctx context.Context, ref string) (Outcome, error) {
	abs, rel, err := e.target(ref)
	if err != nil {
		return Outcome{}, err
	}
	t := parseCreateTarget(rel)
	if err := t.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %s: %v", apperr.ErrValidation, rel, err)
	}

	m, err := manifest.LoadOrEmpty(e.ws.Fs, e.ws.ManifestPath(), e.now())
	if err != nil {
		return Outcome{}, err
	}
	if _, ok := m.Find(rel); ok {
		return Outcome{}, fmt.Errorf("%w: %s (use `convsync update` instead)", apperr.ErrAlreadyTracked, rel)
	}

	content, err := e.readLocal(abs, rel)
	if err != nil {
		return Outcome{}, err
	}
	parsed, err := parser.Parse([]byte(content))
	if err != nil {
		return Outcome{}, fmt.Errorf("parse %s: %w", rel, err)
	}

	title := parsed.Meta.Title.Text
	if title == "" {
		title = titleFromFile(t.File)
	}
	category := parsed.Meta.Category.Text
	if category == "" {
		category = t.Category
	}

	created, err := e.api.Create(ctx, remote.CreateRequest{
		Title:            title,
		Category:         category,
		FileName:         t.File,
		Content:          content,
		Trigger:          nonBlank(parsed.Meta.Trigger),
		Description:      nonBlank(parsed.Meta.Description),
		AgentInstruction: nonBlank(parsed.Meta.AgentInstruction),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("create %s: %w", rel, err)
	}

	entry := manifest.Entry{
		ConventionID:     created.ID,
		FileRelativePath: rel,
		FileName:         t.File,
		CategoryDir:      t.Category,
		Title:            manifest.StringPtr(title),
		Category:         manifest.StringPtr(category),
		DownloadedAt:     e.stamp(),
	}
	if created.UpdatedAt != "" {
		entry.UpdatedAt = manifest.StringPtr(created.UpdatedAt)
	}
	if err := m.Append(entry); err != nil {
		return Outcome{}, err
	}
	if err := e.save(m); err != nil {
		return Outcome{}, err
	}

	e.logger.Info("convention created",
		slog.String("path", rel),
		slog.String("convention_id", created.ID))
	return Outcome{
		Path:         rel,
		ConventionID: created.ID,
		Action:       Created,
		Message:      fmt.Sprintf("Created %s as %s.", rel, created.ID),
	}, nil
}

// titleFromFile turns "api-error_handling.md" into "api error handling".
func titleFromFile(name string) string {
	stem := strings.TrimSuffix(name, path.Ext(name))
	stem = strings.NewReplacer("-", " ", "_", " ").Replace(stem)
	return strings.Join(strings.Fields(stem), " ")
}

func nonBlank(v parser.Value) *string {
	if !v.Present || v.Blank() {
		return nil
	}
	s := v.Text
	return &s
}
