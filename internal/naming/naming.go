// Package naming derives filesystem-safe file and directory names from
// untrusted convention titles and categories.
package naming

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxNameLen = 60

	// MarkdownExt is appended to every generated file name.
	MarkdownExt = ".md"

	fallbackDir  = "uncategorized"
	fallbackFile = "convention"
)

var unsafeRun = regexp.MustCompile(`[^a-z0-9]+`)

// SafeFileName lowercases input, collapses every run of non-alphanumeric
// characters into a single hyphen, trims hyphens from both ends and
// truncates the result to 60 characters. Empty input yields "".
func SafeFileName(input string) string {
	s := unsafeRun.ReplaceAllString(strings.ToLower(input), "-")
	s = strings.Trim(s, "-")
	if len(s) > maxNameLen {
		s = s[:maxNameLen]
	}
	return s
}

// SafeDirectoryName is SafeFileName with an "uncategorized" fallback.
func SafeDirectoryName(category string) string {
	if s := SafeFileName(category); s != "" {
		return s
	}
	return fallbackDir
}

// BuildFileName picks the on-disk name for a document: the explicit file
// name when present, else the title, else "convention". The result always
// ends in exactly one ".md".
func BuildFileName(fileName, title string) string {
	stem := strings.TrimSpace(fileName)
	if strings.HasSuffix(strings.ToLower(stem), MarkdownExt) {
		stem = stem[:len(stem)-len(MarkdownExt)]
	}
	base := SafeFileName(stem)
	if base == "" {
		base = SafeFileName(title)
	}
	if base == "" {
		base = fallbackFile
	}
	return base + MarkdownExt
}

// Allocator hands out collision-free file names within one download pass.
// The first request for categoryDir/name keeps the name; later ones get
// -2, -3, ... inserted before the extension, skipping any name already
// handed out in that directory. The zero value is not usable; call
// NewAllocator.
type Allocator struct {
	taken map[string]struct{}
	next  map[string]int
}

// NewAllocator returns an empty Allocator.
func NewAllocator() *Allocator {
	return &Allocator{
		taken: make(map[string]struct{}),
		next:  make(map[string]int),
	}
}

// Allocate returns the unique file name for base inside categoryDir.
func (a *Allocator) Allocate(categoryDir, base string) string {
	key := categoryDir + "/" + base
	name := base
	if _, ok := a.taken[categoryDir+"/"+name]; ok {
		stem := strings.TrimSuffix(base, MarkdownExt)
		n := max(a.next[key], 2)
		for {
			name = fmt.Sprintf("%s-%d%s", stem, n, MarkdownExt)
			if _, ok := a.taken[categoryDir+"/"+name]; !ok {
				break
			}
			n++
		}
		a.next[key] = n + 1
	}
	a.taken[categoryDir+"/"+name] = struct{}{}
	return name
}
