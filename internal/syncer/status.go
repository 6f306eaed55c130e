package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/convsync/internal/freshness"
	"github.com/starford/convsync/internal/manifest"
)

// Status compares the saved manifest with the live catalog. It reads only.
// Without a manifest there is nothing to compare and no drift is reported.
func (e *Engine) Status(ctx context.Context) (freshness.Report, error) {
	m, err := manifest.LoadIfExists(e.ws.Fs, e.ws.ManifestPath())
	if err != nil {
		return freshness.Report{}, err
	}
	if m == nil {
		e.logger.Debug("freshness skipped: no manifest", slog.String("manifest", e.ws.ManifestPath()))
		return freshness.Report{}, nil
	}
	docs, err := e.api.FetchAll(ctx, e.pageSize)
	if err != nil {
		return freshness.Report{}, fmt.Errorf("fetch catalog: %w", err)
	}
	var current string
	hash, err := e.guidesHash(ctx)
	if err != nil {
		return freshness.Report{}, err
	}
	if hash != nil {
		current = *hash
	}

	report := freshness.Check(m, current, docs)
	e.logger.Debug("freshness checked",
		slog.Int("tracked", len(m.Entries)),
		slog.Int("remote", len(docs)),
		slog.Int("changes", len(report.Changes)))
	return report, nil
}
