// Package freshness compares a saved manifest with the current remote
// catalog and reports drift. It never mutates anything.
package freshness

import (
	"fmt"
	"strings"

	"github.com/starford/convsync/internal/manifest"
	"github.com/starford/convsync/internal/models"
)

// ChangeType classifies one drifted document.
type ChangeType string

const (
	New     ChangeType = "new"
	Updated ChangeType = "updated"
	Deleted ChangeType = "deleted"
)

// Change is one drifted document.
type Change struct {
	ID    string     `json:"id"`
	Type  ChangeType `json:"type"`
	Label string     `json:"label"`
}

// Report is the outcome of a freshness check.
type Report struct {
	PlatformGuidesChanged bool     `json:"platformGuidesChanged"`
	Changes               []Change `json:"changes"`
}

// Stale reports whether anything drifted.
func (r Report) Stale() bool {
	return r.PlatformGuidesChanged || len(r.Changes) > 0
}

// String renders the report for the terminal.
func (r Report) String() string {
	if !r.Stale() {
		return "Local conventions are up to date."
	}
	var b strings.Builder
	if r.PlatformGuidesChanged {
		b.WriteString("Platform guides changed upstream.\n")
	}
	for _, c := range r.Changes {
		fmt.Fprintf(&b, "  %-8s %s (%s)\n", c.Type, c.Label, c.ID)
	}
	b.WriteString("Run `convsync download` to refresh.")
	return b.String()
}

// Check classifies drift between m and the remote catalog docs. A nil
// manifest means there is nothing to compare against.
func Check(m *manifest.Manifest, currentHash string, docs []models.Convention) Report {
	var r Report
	if m == nil {
		return r
	}

	if m.PlatformGuidesHash != nil && *m.PlatformGuidesHash != "" && *m.PlatformGuidesHash != currentHash {
		r.PlatformGuidesChanged = true
	}

	remote := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		remote[d.ID] = struct{}{}
	}
	tracked := make(map[string]*manifest.Entry, len(m.Entries))
	for i := range m.Entries {
		e := &m.Entries[i]
		if _, dup := tracked[e.ConventionID]; !dup {
			tracked[e.ConventionID] = e
		}
	}

	for _, d := range docs {
		e, ok := tracked[d.ID]
		if !ok {
			r.Changes = append(r.Changes, Change{ID: d.ID, Type: New, Label: label(ptr(d.Title), ptr(d.FileName), d.ID)})
			continue
		}
		if Classify(e, d) == Updated {
			r.Changes = append(r.Changes, Change{ID: d.ID, Type: Updated, Label: label(ptr(d.Title), ptr(d.FileName), d.ID)})
		}
	}
	for _, e := range m.Entries {
		if _, ok := remote[e.ConventionID]; ok {
			continue
		}
		r.Changes = append(r.Changes, Change{ID: e.ConventionID, Type: Deleted, Label: label(e.Title, ptr(e.FileName), e.ConventionID)})
	}
	return r
}

// Classify compares one tracked entry with its remote document. It returns
// Updated only when both sides carry a token and they differ, else "".
func Classify(e *manifest.Entry, doc models.Convention) ChangeType {
	local := KnownToken(e)
	if local == "" || doc.UpdatedAt == "" {
		return ""
	}
	if local != doc.UpdatedAt {
		return Updated
	}
	return ""
}

// KnownToken is the last revision token this client saw for e: the token of
// its own last upload when there was one, else the download-time token.
func KnownToken(e *manifest.Entry) string {
	if e.LastKnownUpdatedAt != nil && *e.LastKnownUpdatedAt != "" {
		return *e.LastKnownUpdatedAt
	}
	if e.UpdatedAt != nil {
		return *e.UpdatedAt
	}
	return ""
}

func label(title, fileName *string, id string) string {
	if title != nil && strings.TrimSpace(*title) != "" {
		return *title
	}
	if fileName != nil && strings.TrimSpace(*fileName) != "" {
		return *fileName
	}
	return id
}

func ptr(s string) *string { return &s }
