// Package manifest reads, validates and writes the side-car index that maps
// tracked local files to remote convention ids and revision tokens.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"time"

	"github.com/spf13/afero"

	"github.com/starford/convsync/internal/apperr"
	"github.com/starford/convsync/internal/storage"
)

// Version is the only manifest version this client reads or writes.
const Version = 1

// Manifest is the persisted mapping of local files to remote documents.
type Manifest struct {
	Version            int     `json:"version"`
	GeneratedAt        string  `json:"generatedAt"`
	PlatformGuidesHash *string `json:"platformGuidesHash,omitempty"`
	Entries            []Entry `json:"entries"`
}

// Entry tracks one local file. Optional fields are pointers so an absent
// field and an explicit empty value stay distinct across save and load.
type Entry struct {
	ConventionID       string  `json:"conventionId"`
	FileRelativePath   string  `json:"fileRelativePath"`
	FileName           string  `json:"fileName"`
	CategoryDir        string  `json:"categoryDir"`
	Title              *string `json:"title,omitempty"`
	Category           *string `json:"category,omitempty"`
	UpdatedAt          *string `json:"updatedAt,omitempty"`
	DownloadedAt       string  `json:"downloadedAt"`
	LastUploadedAt     *string `json:"lastUploadedAt,omitempty"`
	LastKnownUpdatedAt *string `json:"lastKnownUpdatedAt,omitempty"`
}

// New returns an empty manifest stamped with now.
func New(now time.Time) *Manifest {
	return &Manifest{
		Version:     Version,
		GeneratedAt: Timestamp(now),
		Entries:     []Entry{},
	}
}

// Timestamp formats t the way manifest timestamps are stored.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// raw mirrors Manifest with entries left undecoded so shape can be checked
// before decoding.
type raw struct {
	Version            *int            `json:"version"`
	GeneratedAt        string          `json:"generatedAt"`
	PlatformGuidesHash *string         `json:"platformGuidesHash"`
	Entries            json.RawMessage `json:"entries"`
}

// Load reads and validates the manifest at path.
func Load(fsys afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s (run `convsync download` first)", apperr.ErrNoManifest, path)
		}
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return Decode(data, path)
}

// Decode validates and decodes manifest bytes. path is only used in errors.
func Decode(data []byte, path string) (*Manifest, error) {
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrInvalidManifest, path, err)
	}
	if r.Version == nil || *r.Version != Version {
		got := "missing"
		if r.Version != nil {
			got = fmt.Sprint(*r.Version)
		}
		return nil, fmt.Errorf("%w: %s: unsupported version %s (want %d)", apperr.ErrInvalidManifest, path, got, Version)
	}
	entries := bytes.TrimSpace(r.Entries)
	if len(entries) == 0 || entries[0] != '[' {
		return nil, fmt.Errorf("%w: %s: entries must be a list", apperr.ErrInvalidManifest, path)
	}
	m := &Manifest{
		Version:            Version,
		GeneratedAt:        r.GeneratedAt,
		PlatformGuidesHash: r.PlatformGuidesHash,
	}
	if err := json.Unmarshal(entries, &m.Entries); err != nil {
		return nil, fmt.Errorf("%w: %s: entries: %v", apperr.ErrInvalidManifest, path, err)
	}
	if m.Entries == nil {
		m.Entries = []Entry{}
	}
	return m, nil
}

// LoadOrEmpty is Load, but a missing file yields New(now).
func LoadOrEmpty(fsys afero.Fs, path string, now time.Time) (*Manifest, error) {
	m, err := Load(fsys, path)
	if errors.Is(err, apperr.ErrNoManifest) {
		return New(now), nil
	}
	return m, err
}

// LoadIfExists is Load, but a missing file yields nil without error.
func LoadIfExists(fsys afero.Fs, path string) (*Manifest, error) {
	m, err := Load(fsys, path)
	if errors.Is(err, apperr.ErrNoManifest) {
		return nil, nil
	}
	return m, err
}

// Save writes m as two-space indented JSON plus a trailing newline in one
// atomic replace.
func Save(fsys afero.Fs, path string, m *Manifest) error {
	if m.Entries == nil {
		m.Entries = []Entry{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}
	data = append(data, '\n')
	if err := storage.WriteAtomic(fsys, path, data); err != nil {
		return fmt.Errorf("manifest: save %s: %w", path, err)
	}
	return nil
}

// Find returns the entry for relPath.
func (m *Manifest) Find(relPath string) (*Entry, bool) {
	for i := range m.Entries {
		if m.Entries[i].FileRelativePath == relPath {
			return &m.Entries[i], true
		}
	}
	return nil, false
}

// FindByID returns the first entry tracking conventionID.
func (m *Manifest) FindByID(conventionID string) (*Entry, bool) {
	for i := range m.Entries {
		if m.Entries[i].ConventionID == conventionID {
			return &m.Entries[i], true
		}
	}
	return nil, false
}

// Append adds e, rejecting a path that is already tracked.
func (m *Manifest) Append(e Entry) error {
	if _, ok := m.Find(e.FileRelativePath); ok {
		return fmt.Errorf("%w: %s", apperr.ErrAlreadyTracked, e.FileRelativePath)
	}
	m.Entries = append(m.Entries, e)
	return nil
}

// Remove drops the entry for relPath and reports whether one existed.
func (m *Manifest) Remove(relPath string) bool {
	i := slices.IndexFunc(m.Entries, func(e Entry) bool { return e.FileRelativePath == relPath })
	if i < 0 {
		return false
	}
	m.Entries = slices.Delete(m.Entries, i, i+1)
	return true
}

// TrackedPaths returns up to limit tracked paths in manifest order.
// limit <= 0 returns all of them.
func (m *Manifest) TrackedPaths(limit int) []string {
	var out []string
	for _, e := range m.Entries {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, e.FileRelativePath)
	}
	return out
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
