package index

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/starford/convsync/internal/checksum"
	"github.com/starford/convsync/internal/manifest"
	"github.com/starford/convsync/internal/parser"
	"github.com/starford/convsync/internal/project"
	"github.com/starford/convsync/internal/storage"
)

// Tracked reports the manifest's path-to-convention-id mapping at call time.
type Tracked func() map[string]string

// FromManifest reads the manifest at path on every call. A missing or
// unreadable manifest yields no tracked paths.
func FromManifest(fsys afero.Fs, path string) Tracked {
	return func() map[string]string {
		m, err := manifest.LoadIfExists(fsys, path)
		if err != nil || m == nil {
			return map[string]string{}
		}
		out := make(map[string]string, len(m.Entries))
		for _, e := range m.Entries {
			out[e.FileRelativePath] = e.ConventionID
		}
		return out
	}
}

// Sync walks the conventions tree and brings the index up to date:
//   - new/changed files, and files whose tracked id changed, are upserted
//   - files removed from disk are deleted from the index
func Sync(db *DB, store storage.Provider, tracked Tracked, logger *slog.Logger) error {
	files, err := store.List(project.ConventionsDir)
	if err != nil {
		return err
	}
	stamps, err := db.AllStamps()
	if err != nil {
		return err
	}
	ids := lookup(tracked)

	disk := make(map[string]struct{}, len(files))
	for _, f := range files {
		disk[f.Path] = struct{}{}
		if stamps[f.Path] == (Stamp{Checksum: f.Checksum, ConventionID: ids[f.Path]}) {
			continue
		}
		data, err := store.Read(f.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		if err := indexFile(db, f.Path, ids[f.Path], data, f.UpdatedAt); err != nil {
			logger.Warn("sync: index failed", slog.String("path", f.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", f.Path))
		}
	}

	for p := range stamps {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := db.Delete(p); err != nil {
			logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: removed stale", slog.String("path", p))
		}
	}
	return nil
}

// indexFile parses data and upserts it into the DB.
func indexFile(db *DB, path, conventionID string, data []byte, modTime time.Time) error {
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}
	return db.Upsert(Row{
		Path:         path,
		Title:        res.Title,
		Category:     categoryOf(path),
		ConventionID: conventionID,
		Checksum:     checksum.Sum(data),
		Tags:         res.Tags,
		UpdatedAt:    modTime,
	}, res.Body)
}

// categoryOf returns the directory directly under .conventions, or "" for
// files at the top level such as TEMPLATE.md.
func categoryOf(path string) string {
	rest, ok := strings.CutPrefix(path, project.ConventionsDir+"/")
	if !ok {
		return ""
	}
	dir, _, found := strings.Cut(rest, "/")
	if !found {
		return ""
	}
	return dir
}

func lookup(tracked Tracked) map[string]string {
	if tracked == nil {
		return map[string]string{}
	}
	return tracked()
}
