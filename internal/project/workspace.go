// Package project locates the convention project root and maps between
// host paths and the root-relative, forward-slash paths stored in the
// manifest.
package project

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/starford/convsync/internal/apperr"
	"github.com/starford/convsync/internal/storage"
)

// Local layout under the project root.
const (
	ConventionsDir = ".conventions"
	PlatformDir    = "_platform"
	LegacyDir      = "downloaded"
	TemplateFile   = "TEMPLATE.md"
	ManifestFile   = "manifest.json"
	IndexFile      = ".index.db"
)

// Workspace is a discovered project: the filesystem, the directory the
// command was run from, and the root holding the .conventions directory.
type Workspace struct {
	Fs   afero.Fs
	Cwd  string
	Root string
}

// FindRoot walks upward from start until it finds a directory containing
// .conventions.
func FindRoot(fsys afero.Fs, start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("project: resolve %s: %w", start, err)
	}
	for {
		ok, err := afero.DirExists(fsys, filepath.Join(dir, ConventionsDir))
		if err != nil {
			return "", fmt.Errorf("project: stat %s: %w", dir, err)
		}
		if ok {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w above %s (run `convsync init` first)", apperr.ErrNoProjectRoot, start)
		}
		dir = parent
	}
}

// Open discovers the workspace for cwd. A non-empty root skips discovery
// but must still contain .conventions.
func Open(fsys afero.Fs, cwd, root string) (*Workspace, error) {
	absCwd, err := filepath.Abs(cwd)
	if err != nil {
		return nil, fmt.Errorf("project: resolve %s: %w", cwd, err)
	}
	if root == "" {
		root, err = FindRoot(fsys, absCwd)
		if err != nil {
			return nil, err
		}
	} else {
		root, err = filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("project: resolve %s: %w", root, err)
		}
		if ok, _ := afero.DirExists(fsys, filepath.Join(root, ConventionsDir)); !ok {
			return nil, fmt.Errorf("%w: %s has no %s directory (run `convsync init` first)",
				apperr.ErrNoProjectRoot, root, ConventionsDir)
		}
	}
	return &Workspace{Fs: fsys, Cwd: absCwd, Root: root}, nil
}

// Init creates the .conventions directory in dir. It reports whether the
// directory was newly created.
func Init(fsys afero.Fs, dir string) (string, bool, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", false, fmt.Errorf("project: resolve %s: %w", dir, err)
	}
	target := filepath.Join(abs, ConventionsDir)
	if ok, _ := afero.DirExists(fsys, target); ok {
		return target, false, nil
	}
	if err := fsys.MkdirAll(target, 0o755); err != nil {
		return "", false, fmt.Errorf("project: create %s: %w", target, err)
	}
	return target, true, nil
}

// Storage returns a storage provider rooted at the project root.
func (w *Workspace) Storage() (*storage.FS, error) {
	return storage.NewFS(w.Fs, w.Root)
}

// RelPath joins segments under .conventions into a root-relative path.
func RelPath(segments ...string) string {
	return path.Join(append([]string{ConventionsDir}, segments...)...)
}

// ManifestRel is the root-relative manifest path.
func ManifestRel() string { return RelPath(ManifestFile) }

// ManifestPath is the absolute manifest path.
func (w *Workspace) ManifestPath() string { return w.Abs(ManifestRel()) }

// IndexPath is the absolute search index path.
func (w *Workspace) IndexPath() string { return w.Abs(RelPath(IndexFile)) }

// Abs converts a root-relative path to an absolute host path.
func (w *Workspace) Abs(rel string) string {
	return filepath.Join(w.Root, filepath.FromSlash(rel))
}

// Rel converts a host path to the root-relative, forward-slash form used in
// the manifest. Paths outside the root are rejected.
func (w *Workspace) Rel(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.Cwd, p)
	}
	rel, err := filepath.Rel(w.Root, p)
	if err != nil {
		return "", fmt.Errorf("project: %s: %w", p, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s is outside the project root %s", apperr.ErrValidation, p, w.Root)
	}
	return rel, nil
}

// Resolve maps a user-supplied file reference to a host path. Candidates,
// in order: the path as given when absolute; a .conventions/-prefixed path
// against the project root; the path against the working directory. The
// first that exists wins, else the working-directory form is returned.
func (w *Workspace) Resolve(ref string) string {
	var candidates []string
	if filepath.IsAbs(ref) {
		candidates = append(candidates, filepath.Clean(ref))
	}
	slashed := filepath.ToSlash(ref)
	if strings.HasPrefix(slashed, ConventionsDir+"/") {
		candidates = append(candidates, w.Abs(slashed))
	}
	fallback := filepath.Join(w.Cwd, ref)
	if filepath.IsAbs(ref) {
		fallback = filepath.Clean(ref)
	}
	candidates = append(candidates, fallback)

	for _, c := range candidates {
		if exists(w.Fs, c) {
			return c
		}
	}
	return fallback
}

func exists(fsys afero.Fs, p string) bool {
	ok, _ := afero.Exists(fsys, p)
	return ok
}
