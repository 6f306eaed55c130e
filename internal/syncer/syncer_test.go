package syncer_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/convsync/internal/apperr"
	"github.com/starford/convsync/internal/manifest"
	"github.com/starford/convsync/internal/models"
	"github.com/starford/convsync/internal/project"
	"github.com/starford/convsync/internal/remote"
	"github.com/starford/convsync/internal/remote/remotetest"
	"github.com/starford/convsync/internal/syncer"
)

type fixture struct {
	srv    *remotetest.Server
	fs     afero.Fs
	ws     *project.Workspace
	engine *syncer.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := remotetest.New(t)
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/repo/.conventions", 0o755))
	ws, err := project.Open(fsys, "/repo", "")
	require.NoError(t, err)

	client := remote.NewClient(srv.URL(), "token", remote.WithRetry(0, time.Millisecond, time.Millisecond))
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine, err := syncer.New(client, ws, syncer.Options{
		PageSize:    2,
		Concurrency: 3,
		Now: func() time.Time {
			tick = tick.Add(time.Minute)
			return tick
		},
	})
	require.NoError(t, err)
	return &fixture{srv: srv, fs: fsys, ws: ws, engine: engine}
}

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := afero.ReadFile(f.fs, f.ws.Abs(rel))
	require.NoError(t, err, rel)
	return string(data)
}

func (f *fixture) exists(rel string) bool {
	ok, _ := afero.Exists(f.fs, f.ws.Abs(rel))
	return ok
}

func (f *fixture) manifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Load(f.fs, f.ws.ManifestPath())
	require.NoError(t, err)
	return m
}

func seedCatalog(srv *remotetest.Server) {
	srv.AddConvention(models.Convention{Title: "Rules", Category: "Security", Content: "# Rules A\n"})
	srv.AddConvention(models.Convention{Title: "Naming", Category: "Style Guide", Content: "# Naming\n"})
	srv.AddConvention(models.Convention{Title: "Rules", Category: "Security", Content: "# Rules B\n"})
	srv.AddConvention(models.Convention{Title: "Misc", FileName: "Custom Name.md", Content: "misc\n"})
}

func TestDownload_WritesTreeAndManifest(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.srv)

	res, err := f.engine.Download(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.DocumentsWritten)
	assert.Equal(t, 3, res.CategoryDirs)
	assert.False(t, res.TemplateUpdated)
	assert.Contains(t, res.Message, "Wrote 4 conventions into 3 categories.")

	assert.Equal(t, "# Rules A\n", f.read(t, ".conventions/security/rules.md"))
	assert.Equal(t, "# Rules B\n", f.read(t, ".conventions/security/rules-2.md"))
	assert.Equal(t, "# Naming\n", f.read(t, ".conventions/style-guide/naming.md"))
	assert.Equal(t, "misc\n", f.read(t, ".conventions/uncategorized/custom-name.md"))

	m := f.manifest(t)
	require.Len(t, m.Entries, 4)
	paths := m.TrackedPaths(0)
	assert.Equal(t, []string{
		".conventions/security/rules.md",
		".conventions/style-guide/naming.md",
		".conventions/security/rules-2.md",
		".conventions/uncategorized/custom-name.md",
	}, paths)

	first := m.Entries[0]
	assert.Equal(t, "cv-1", first.ConventionID)
	assert.Equal(t, "security", first.CategoryDir)
	assert.Equal(t, "rules.md", first.FileName)
	require.NotNil(t, first.UpdatedAt)
	doc, _ := f.srv.Convention("cv-1")
	assert.Equal(t, doc.UpdatedAt, *first.UpdatedAt)
	require.NotNil(t, m.PlatformGuidesHash)
	assert.Equal(t, "guides-v1", *m.PlatformGuidesHash)

	assert.Nil(t, m.Entries[3].Category, "blank category must stay absent")
}

func TestDownload_Idempotent(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.srv)

	_, err := f.engine.Download(context.Background())
	require.NoError(t, err)
	first := f.manifest(t)
	firstFiles := map[string]string{}
	for _, p := range first.TrackedPaths(0) {
		firstFiles[p] = f.read(t, p)
	}

	_, err = f.engine.Download(context.Background())
	require.NoError(t, err)
	second := f.manifest(t)
	for _, p := range second.TrackedPaths(0) {
		assert.Equal(t, firstFiles[p], f.read(t, p), p)
	}

	assert.NotEqual(t, first.GeneratedAt, second.GeneratedAt)
	ignoreTimes := cmp.Options{
		cmpopts.IgnoreFields(manifest.Manifest{}, "GeneratedAt"),
		cmpopts.IgnoreFields(manifest.Entry{}, "DownloadedAt"),
	}
	if diff := cmp.Diff(first, second, ignoreTimes); diff != "" {
		t.Errorf("manifests differ beyond timestamps (-first +second):\n%s", diff)
	}
}

func TestDownload_DuplicateTitlesFollowCatalogOrder(t *testing.T) {
	f := newFixture(t)
	f.srv.AddConvention(models.Convention{Title: "Rules", Category: "General", Content: "first"})
	f.srv.AddConvention(models.Convention{Title: "Rules", Category: "General", Content: "second"})
	f.srv.AddConvention(models.Convention{Title: "Rules", Category: "General", Content: "third"})

	_, err := f.engine.Download(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "first", f.read(t, ".conventions/general/rules.md"))
	assert.Equal(t, "second", f.read(t, ".conventions/general/rules-2.md"))
	assert.Equal(t, "third", f.read(t, ".conventions/general/rules-3.md"))
}

func TestDownload_ExplicitNameMatchingSuffixedDuplicate(t *testing.T) {
	f := newFixture(t)
	a := f.srv.AddConvention(models.Convention{Title: "Rules", Category: "Security", Content: "A\n"})
	b := f.srv.AddConvention(models.Convention{Title: "Rules", Category: "Security", Content: "B\n"})
	c := f.srv.AddConvention(models.Convention{Title: "Other", FileName: "rules-2.md", Category: "Security", Content: "C\n"})

	_, err := f.engine.Download(context.Background())
	require.NoError(t, err)

	m := f.manifest(t)
	paths := make(map[string]string)
	for _, e := range m.Entries {
		prev, dup := paths[e.FileRelativePath]
		require.False(t, dup, "%s tracked by %s and %s", e.FileRelativePath, prev, e.ConventionID)
		paths[e.FileRelativePath] = e.ConventionID
	}
	assert.Equal(t, a.ID, paths[".conventions/security/rules.md"])
	assert.Equal(t, b.ID, paths[".conventions/security/rules-2.md"])
	assert.Equal(t, c.ID, paths[".conventions/security/rules-2-2.md"])
	assert.Equal(t, "B\n", f.read(t, ".conventions/security/rules-2.md"))
	assert.Equal(t, "C\n", f.read(t, ".conventions/security/rules-2-2.md"))
}

func TestDownload_RebuildsCategoryAndRemovesLegacy(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.srv)
	require.NoError(t, afero.WriteFile(f.fs, f.ws.Abs(".conventions/security/manual.md"), []byte("local"), 0o644))
	require.NoError(t, afero.WriteFile(f.fs, f.ws.Abs(".conventions/downloaded/old.md"), []byte("legacy"), 0o644))

	_, err := f.engine.Download(context.Background())
	require.NoError(t, err)

	assert.False(t, f.exists(".conventions/security/manual.md"), "category dirs are rebuilt from scratch")
	assert.False(t, f.exists(".conventions/downloaded"), "legacy directory is removed")
}

func TestDownload_BodyFailureLeavesTreeAndManifest(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.srv)
	_, err := f.engine.Download(context.Background())
	require.NoError(t, err)
	before, err := afero.ReadFile(f.fs, f.ws.ManifestPath())
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(f.fs, f.ws.Abs(".conventions/security/manual.md"), []byte("local"), 0o644))

	f.srv.AddConvention(models.Convention{Title: "Late", Category: "Security", Content: "late"})
	f.srv.Fail(remotetest.RouteBody, http.StatusInternalServerError, 100)

	_, err = f.engine.Download(context.Background())
	require.Error(t, err)

	after, err := afero.ReadFile(f.fs, f.ws.ManifestPath())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "manifest must not change")
	assert.True(t, f.exists(".conventions/security/manual.md"), "no destructive change before bodies are fetched")
}

func TestDownload_CatalogFailureAborts(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.srv)
	f.srv.Fail(remotetest.RouteList, http.StatusBadGateway, 1)

	_, err := f.engine.Download(context.Background())
	require.Error(t, err)
	assert.False(t, f.exists(project.ManifestRel()))
}

func TestDownload_SharedGuides(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.srv)
	require.NoError(t, afero.WriteFile(f.fs, f.ws.Abs(".conventions/_platform/old/stale.md"), []byte("stale"), 0o644))
	f.srv.SetGuides([]models.SharedGuide{
		{Title: "Intro", Category: "General", Content: "intro"},
		{Title: "Intro", Category: "General", Content: "intro again"},
		{FileName: "setup.md", Content: "setup"},
	}, "h-42")

	res, err := f.engine.Download(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.GuidesWritten)
	assert.Contains(t, res.Message, "Wrote 3 platform guides.")
	assert.Equal(t, "intro", f.read(t, ".conventions/_platform/general/intro.md"))
	assert.Equal(t, "intro again", f.read(t, ".conventions/_platform/general/intro-2.md"))
	assert.Equal(t, "setup", f.read(t, ".conventions/_platform/uncategorized/setup.md"))
	assert.False(t, f.exists(".conventions/_platform/old/stale.md"))

	m := f.manifest(t)
	require.NotNil(t, m.PlatformGuidesHash)
	assert.Equal(t, "h-42", *m.PlatformGuidesHash)
}

func TestDownload_SharedGuidesUnavailable(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.srv)
	f.srv.DisableGuides()

	res, err := f.engine.Download(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.GuidesWritten)
	assert.NotContains(t, res.Message, "platform guide")

	m := f.manifest(t)
	assert.Nil(t, m.PlatformGuidesHash, "no hash is captured when guides are unavailable")
}

func TestDownload_SharedGuidesErrorPropagates(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.srv)
	f.srv.Fail(remotetest.RouteGuides, http.StatusBadRequest, 1)

	_, err := f.engine.Download(context.Background())
	require.Error(t, err)
	assert.False(t, f.exists(project.ManifestRel()))
}

func TestDownload_MalformedHashIsFatal(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.srv)
	f.srv.SetGuides(nil, "")

	_, err := f.engine.Download(context.Background())
	require.Error(t, err)
	assert.False(t, f.exists(project.ManifestRel()))
}

func TestDownload_Template(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.srv)
	tpl := f.srv.AddUnlisted(models.Convention{Title: "Template", Content: "# Template\n"})
	f.srv.SetProfiles([]models.AgentProfile{{ID: "agent-1", Name: "Main", ConventionID: tpl.ID}})

	res, err := f.engine.Download(context.Background())
	require.NoError(t, err)
	assert.True(t, res.TemplateUpdated)
	assert.Equal(t, "# Template\n", f.read(t, ".conventions/TEMPLATE.md"))
	assert.Len(t, f.manifest(t).Entries, 4, "the template is not tracked")
}

func TestDownload_TemplateFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f.srv)
	f.srv.SetProfiles([]models.AgentProfile{{ID: "agent-1", ConventionID: "missing"}})

	res, err := f.engine.Download(context.Background())
	require.NoError(t, err)
	assert.False(t, res.TemplateUpdated)
	assert.False(t, f.exists(".conventions/TEMPLATE.md"))
}

func TestDownload_EmptyCatalogWithTemplate(t *testing.T) {
	f := newFixture(t)
	tpl := f.srv.AddUnlisted(models.Convention{Title: "Template", Content: "tpl"})
	f.srv.SetProfiles([]models.AgentProfile{{ID: "agent-1", ConventionID: tpl.ID}})
	require.NoError(t, afero.WriteFile(f.fs, f.ws.Abs(".conventions/security/keep.md"), []byte("keep"), 0o644))

	res, err := f.engine.Download(context.Background())
	require.NoError(t, err)
	assert.Contains(t, res.Message, "No project conventions found.")
	assert.True(t, f.exists(".conventions/security/keep.md"), "category directories are untouched")
	assert.False(t, f.exists(project.ManifestRel()), "manifest is untouched")
}

func TestDownload_NothingToSync(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Download(context.Background())
	require.ErrorIs(t, err, apperr.ErrNothingToSync)
	assert.False(t, f.exists(project.ManifestRel()))
}
