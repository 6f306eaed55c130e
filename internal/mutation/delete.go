package mutation

import (
	"context"
	"fmt"
	"log/slog"
)

// Delete announces each planned deletion and, with apply set, removes the
// remote convention, the local file and the manifest entry.
func (e *Engine) Delete(ctx context.Context, refs []string, apply bool) ([]Outcome, error) {
	return batch(refs, func(ref string) (Outcome, error) {
		return e.deleteOne(ctx, ref, apply)
	})
}

func (e *Engine) deleteOne(ctx context.Context, ref string, apply bool) (Outcome, error) {
	abs, rel, err := e.target(ref)
	if err != nil {
		return Outcome{}, err
	}
	m, entry, err := e.tracked(rel)
	if err != nil {
		return Outcome{}, err
	}
	id := entry.ConventionID
	out := Outcome{
		Path:         rel,
		ConventionID: id,
		Action:       Planned,
		Message:      fmt.Sprintf("Planned deletion: %s (remote id %s).", rel, id),
	}
	if !apply {
		out.Message += " Re-run with --apply to delete."
		return out, nil
	}

	if err := e.api.Delete(ctx, id); err != nil {
		return out, fmt.Errorf("delete %s: %w", id, err)
	}
	if err := e.ws.Fs.Remove(abs); err != nil {
		e.logger.Debug("local file not removed",
			slog.String("path", rel),
			slog.String("error", err.Error()))
	}
	m.Remove(rel)
	if err := e.save(m); err != nil {
		return out, err
	}

	e.logger.Info("convention deleted",
		slog.String("path", rel),
		slog.String("convention_id", id))
	out.Action = Deleted
	out.Message += " Deleted."
	return out, nil
}
