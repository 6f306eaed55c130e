package naming

import (
	"strings"
	"testing"
)

func TestSafeFileName(t *testing.T) {
	cases := map[string]string{
		"Rules":                   "rules",
		"  API  Design / Rules! ": "api-design-rules",
		"--already--hyphenated--": "already-hyphenated",
		"":                        "",
		"!!!":                     "",
		"Über Café":               "ber-caf",
		"v2.1 Release_Notes":      "v2-1-release-notes",
	}
	for in, want := range cases {
		if got := SafeFileName(in); got != want {
			t.Errorf("SafeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSafeFileName_Truncates(t *testing.T) {
	got := SafeFileName(strings.Repeat("a", 100))
	if len(got) != 60 {
		t.Errorf("len = %d, want 60", len(got))
	}
}

func TestSafeDirectoryName_Fallback(t *testing.T) {
	if got := SafeDirectoryName(""); got != "uncategorized" {
		t.Errorf("got %q, want uncategorized", got)
	}
	if got := SafeDirectoryName("???"); got != "uncategorized" {
		t.Errorf("got %q, want uncategorized", got)
	}
	if got := SafeDirectoryName("Code Style"); got != "code-style" {
		t.Errorf("got %q, want code-style", got)
	}
}

func TestBuildFileName(t *testing.T) {
	cases := []struct {
		fileName, title, want string
	}{
		{"naming.md", "Ignored", "naming.md"},
		{"Naming", "Ignored", "naming.md"},
		{"  ", "Error Handling", "error-handling.md"},
		{"", "", "convention.md"},
		{"", "!!!", "convention.md"},
		{"rules.MD", "", "rules.md"},
	}
	for _, c := range cases {
		if got := BuildFileName(c.fileName, c.title); got != c.want {
			t.Errorf("BuildFileName(%q, %q) = %q, want %q", c.fileName, c.title, got, c.want)
		}
	}
}

func TestAllocator_Duplicates(t *testing.T) {
	a := NewAllocator()
	got := []string{
		a.Allocate("security", "rules.md"),
		a.Allocate("security", "rules.md"),
		a.Allocate("style", "rules.md"),
		a.Allocate("security", "rules.md"),
	}
	want := []string{"rules.md", "rules-2.md", "rules.md", "rules-3.md"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("allocation %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAllocator_SkipsNamesAlreadyHandedOut(t *testing.T) {
	a := NewAllocator()
	got := []string{
		a.Allocate("security", "rules.md"),
		a.Allocate("security", "rules.md"),
		a.Allocate("security", "rules-2.md"),
		a.Allocate("security", "rules-3.md"),
		a.Allocate("security", "rules.md"),
	}
	want := []string{"rules.md", "rules-2.md", "rules-2-2.md", "rules-3.md", "rules-4.md"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("allocation %d = %q, want %q", i, got[i], want[i])
		}
	}
	seen := make(map[string]bool)
	for _, name := range got {
		if seen[name] {
			t.Errorf("name %q handed out twice", name)
		}
		seen[name] = true
	}
}
