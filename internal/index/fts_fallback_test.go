//go:build !sqlite_fts5

package index

import (
	"testing"
	"time"
)

func TestFallbackSearch_AllTermsMustMatch(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.Upsert(Row{Path: ".conventions/api/errors.md", Title: "Errors", Category: "api", Checksum: "1", UpdatedAt: now}, "wrap errors with context")
	_ = db.Upsert(Row{Path: ".conventions/api/logging.md", Title: "Logging", Category: "api", Checksum: "2", UpdatedAt: now}, "log errors once")

	results, err := db.Search("errors context", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != ".conventions/api/errors.md" {
		t.Errorf("results = %+v, want only errors.md", results)
	}
}

func TestFallbackSearch_TitleHitsFirst(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.Upsert(Row{Path: ".conventions/a/body.md", Title: "Other", Checksum: "1", UpdatedAt: now}, "mentions naming in passing")
	_ = db.Upsert(Row{Path: ".conventions/z/title.md", Title: "Naming", Checksum: "2", UpdatedAt: now}, "rules")

	results, err := db.Search("naming", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[0].Path != ".conventions/z/title.md" {
		t.Errorf("results = %+v, want title match first", results)
	}
}

func TestFallbackSearch_WildcardsAreLiteral(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.Upsert(Row{Path: "pct.md", Title: "Coverage", Checksum: "1", UpdatedAt: now}, "keep 80% coverage")
	_ = db.Upsert(Row{Path: "plain.md", Title: "Plain", Checksum: "2", UpdatedAt: now}, "nothing special")

	results, err := db.Search("%", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "pct.md" {
		t.Errorf("results = %+v, want only pct.md", results)
	}

	results, err = db.Search("   ", 10)
	if err != nil || len(results) != 0 {
		t.Errorf("blank query = %+v, %v", results, err)
	}
}
