package mutation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/convsync/internal/apperr"
	"github.com/starford/convsync/internal/freshness"
	"github.com/starford/convsync/internal/manifest"
	"github.com/starford/convsync/internal/parser"
	"github.com/starford/convsync/internal/remote"
)

// Update diffs each tracked local file against the server body. With apply
// set, changed files are uploaded using the server's current revision token
// as the precondition.
func (e *Engine) Update(ctx context.Context, refs []string, apply bool) ([]Outcome, error) {
	return batch(refs, func(ref string) (Outcome, error) {
		return e.updateOne(ctx, ref, apply)
	})
}

func (e *Engine) updateOne(ctx context.Context, ref string, apply bool) (Outcome, error) {
	abs, rel, err := e.target(ref)
	if err != nil {
		return Outcome{}, err
	}
	m, entry, err := e.tracked(rel)
	if err != nil {
		return Outcome{}, err
	}
	local, err := e.readLocal(abs, rel)
	if err != nil {
		return Outcome{}, err
	}

	detail, err := e.api.FetchDetail(ctx, entry.ConventionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch %s: %w", entry.ConventionID, err)
	}
	server, err := e.api.FetchBody(ctx, entry.ConventionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch body of %s: %w", entry.ConventionID, err)
	}

	out := Outcome{Path: rel, ConventionID: entry.ConventionID}
	out.Diff, out.Stat = UnifiedDiff(server, local, "server/"+rel, "local/"+rel)
	if !out.Stat.Changed() {
		out.Action = NoChanges
		out.Message = fmt.Sprintf("No changes: %s matches the server.", rel)
		return out, nil
	}

	if freshness.Classify(entry, detail) == freshness.Updated {
		out.Warnings = append(out.Warnings, fmt.Sprintf(
			"%s changed on the server since it was last synced (known %s, server %s); the diff is against the server version",
			rel, freshness.KnownToken(entry), detail.UpdatedAt))
	}

	if !apply {
		out.Action = Planned
		out.Message = fmt.Sprintf("Dry run: %s has %d addition(s) and %d removal(s). Re-run with --apply to upload.",
			rel, out.Stat.Added, out.Stat.Removed)
		return out, nil
	}

	if strings.TrimSpace(detail.UpdatedAt) == "" {
		return out, fmt.Errorf("%w: server returned no revision token for %s; refusing a blind write",
			apperr.ErrMissingRevision, entry.ConventionID)
	}

	parsed, err := parser.Parse([]byte(local))
	if err != nil {
		return out, fmt.Errorf("parse %s: %w", rel, err)
	}
	updated, err := e.api.Update(ctx, entry.ConventionID, remote.UpdateRequest{
		UpdatedAt:        detail.UpdatedAt,
		Content:          local,
		Trigger:          field(parsed.Meta.Trigger),
		Description:      field(parsed.Meta.Description),
		AgentInstruction: field(parsed.Meta.AgentInstruction),
	})
	if err != nil {
		return out, fmt.Errorf("update %s: %w", rel, err)
	}

	entry.LastUploadedAt = manifest.StringPtr(e.stamp())
	if updated.UpdatedAt != "" {
		entry.LastKnownUpdatedAt = manifest.StringPtr(updated.UpdatedAt)
	}
	if err := e.save(m); err != nil {
		return out, err
	}

	e.logger.Info("convention updated",
		slog.String("path", rel),
		slog.String("convention_id", entry.ConventionID),
		slog.String("revision", updated.UpdatedAt))
	out.Action = Updated
	out.Message = fmt.Sprintf("Updated %s (%s).", rel, entry.ConventionID)
	return out, nil
}

// field maps a frontmatter value onto the update payload: absent keeps the
// server value, blank clears it.
func field(v parser.Value) remote.Field {
	switch {
	case !v.Present:
		return remote.Keep()
	case v.Blank():
		return remote.Clear()
	default:
		return remote.Set(v.Text)
	}
}
