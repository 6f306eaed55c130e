package mutation_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/convsync/internal/apperr"
	"github.com/starford/convsync/internal/manifest"
	"github.com/starford/convsync/internal/models"
	"github.com/starford/convsync/internal/mutation"
	"github.com/starford/convsync/internal/project"
	"github.com/starford/convsync/internal/remote"
	"github.com/starford/convsync/internal/remote/remotetest"
)

var fixedNow = time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	srv    *remotetest.Server
	fs     afero.Fs
	ws     *project.Workspace
	engine *mutation.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := remotetest.New(t)
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/repo/.conventions", 0o755))
	ws, err := project.Open(fsys, "/repo", "")
	require.NoError(t, err)
	client := remote.NewClient(srv.URL(), "token", remote.WithRetry(0, time.Millisecond, time.Millisecond))
	engine := mutation.New(client, ws, mutation.Options{Now: func() time.Time { return fixedNow }})
	return &fixture{srv: srv, fs: fsys, ws: ws, engine: engine}
}

// track creates a remote document, writes its body to rel and records it in
// the manifest as a download would.
func (f *fixture) track(t *testing.T, rel, body string) models.Convention {
	t.Helper()
	doc := f.srv.AddConvention(models.Convention{Title: rel, Category: "Security", Content: body})
	f.write(t, rel, body)
	m, err := manifest.LoadOrEmpty(f.fs, f.ws.ManifestPath(), fixedNow)
	require.NoError(t, err)
	require.NoError(t, m.Append(manifest.Entry{
		ConventionID:     doc.ID,
		FileRelativePath: rel,
		FileName:         "x.md",
		CategoryDir:      "security",
		UpdatedAt:        manifest.StringPtr(doc.UpdatedAt),
		DownloadedAt:     manifest.Timestamp(fixedNow),
	}))
	require.NoError(t, manifest.Save(f.fs, f.ws.ManifestPath(), m))
	return doc
}

func (f *fixture) write(t *testing.T, rel, body string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, f.ws.Abs(rel), []byte(body), 0o644))
}

func (f *fixture) manifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Load(f.fs, f.ws.ManifestPath())
	require.NoError(t, err)
	return m
}

func (f *fixture) manifestBytes(t *testing.T) string {
	t.Helper()
	data, err := afero.ReadFile(f.fs, f.ws.ManifestPath())
	require.NoError(t, err)
	return string(data)
}

const rulesPath = ".conventions/security/rules.md"

// --- update ---

func TestUpdate_NoChanges(t *testing.T) {
	for _, apply := range []bool{false, true} {
		t.Run(fmt.Sprintf("apply=%v", apply), func(t *testing.T) {
			f := newFixture(t)
			f.track(t, rulesPath, "# Rules\nSame.\n")
			before := f.manifestBytes(t)

			out, err := f.engine.Update(context.Background(), []string{rulesPath}, apply)
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, mutation.NoChanges, out[0].Action)
			assert.Empty(t, out[0].Diff)
			assert.Contains(t, out[0].Message, "No changes")
			assert.Zero(t, f.srv.Calls(remotetest.RouteUpdate))
			assert.Equal(t, before, f.manifestBytes(t))
		})
	}
}

func TestUpdate_DryRunShowsDiff(t *testing.T) {
	f := newFixture(t)
	f.track(t, rulesPath, "# Rules\nOld line.\n")
	f.write(t, rulesPath, "# Rules\nNew line.\n")
	before := f.manifestBytes(t)

	out, err := f.engine.Update(context.Background(), []string{rulesPath}, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, mutation.Planned, out[0].Action)
	assert.Contains(t, out[0].Diff, "--- server/"+rulesPath)
	assert.Contains(t, out[0].Diff, "-Old line.\n")
	assert.Contains(t, out[0].Diff, "+New line.\n")
	assert.Contains(t, out[0].Message, "--apply")
	assert.Zero(t, f.srv.Calls(remotetest.RouteUpdate))
	assert.Equal(t, before, f.manifestBytes(t))
}

func TestUpdate_Apply(t *testing.T) {
	f := newFixture(t)
	doc := f.track(t, rulesPath, "# Rules\nOld line.\n")
	f.write(t, rulesPath, "# Rules\nNew line.\n")

	out, err := f.engine.Update(context.Background(), []string{rulesPath}, true)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, mutation.Updated, out[0].Action)
	assert.NotEmpty(t, out[0].Diff, "the diff is shown in apply mode too")
	assert.Empty(t, out[0].Warnings)

	stored, ok := f.srv.Convention(doc.ID)
	require.True(t, ok)
	assert.Equal(t, "# Rules\nNew line.\n", stored.Content)
	assert.NotEqual(t, doc.UpdatedAt, stored.UpdatedAt)

	entry, ok := f.manifest(t).Find(rulesPath)
	require.True(t, ok)
	require.NotNil(t, entry.LastKnownUpdatedAt)
	assert.Equal(t, stored.UpdatedAt, *entry.LastKnownUpdatedAt)
	require.NotNil(t, entry.LastUploadedAt)
	assert.Equal(t, manifest.Timestamp(fixedNow), *entry.LastUploadedAt)
	require.NotNil(t, entry.UpdatedAt)
	assert.Equal(t, doc.UpdatedAt, *entry.UpdatedAt, "download-time token is kept")

	// A second apply with nothing new is a no-op.
	out, err = f.engine.Update(context.Background(), []string{rulesPath}, true)
	require.NoError(t, err)
	assert.Equal(t, mutation.NoChanges, out[0].Action)
	assert.Equal(t, 1, f.srv.Calls(remotetest.RouteUpdate))
}

func TestUpdate_MissingRevisionFailsFast(t *testing.T) {
	f := newFixture(t)
	f.track(t, rulesPath, "old\n")
	f.write(t, rulesPath, "new\n")
	f.srv.OmitRevision = true
	before := f.manifestBytes(t)

	out, err := f.engine.Update(context.Background(), []string{rulesPath}, true)
	require.ErrorIs(t, err, apperr.ErrMissingRevision)
	assert.Zero(t, f.srv.Calls(remotetest.RouteUpdate), "no upload without a precondition")
	assert.Equal(t, before, f.manifestBytes(t))
	require.Len(t, out, 1, "the failing file still reports its diff")
	assert.Equal(t, rulesPath, out[0].Path)
	assert.Contains(t, out[0].Diff, "+new")
}

func TestUpdate_FrontmatterFieldsAndClears(t *testing.T) {
	f := newFixture(t)
	f.track(t, rulesPath, "old\n")
	f.write(t, rulesPath, "---\ntrigger: \"\"\nagentInstruction: Be strict\n---\nnew\n")

	_, err := f.engine.Update(context.Background(), []string{rulesPath}, true)
	require.NoError(t, err)

	fields := f.srv.LastUpdate()
	assert.JSONEq(t, `null`, string(fields["trigger"]))
	assert.JSONEq(t, `"Be strict"`, string(fields["agentInstruction"]))
	_, sent := fields["description"]
	assert.False(t, sent, "absent frontmatter fields are left untouched")
}

func TestUpdate_DriftWarning(t *testing.T) {
	f := newFixture(t)
	doc := f.track(t, rulesPath, "old\n")
	f.write(t, rulesPath, "new\n")
	f.srv.Touch(doc.ID)

	out, err := f.engine.Update(context.Background(), []string{rulesPath}, true)
	require.NoError(t, err)
	require.Len(t, out[0].Warnings, 1)
	assert.Contains(t, out[0].Warnings[0], "changed on the server")
	assert.Equal(t, mutation.Updated, out[0].Action)
}

func TestUpdate_StaleTokenConflict(t *testing.T) {
	f := newFixture(t)
	f.track(t, rulesPath, "old\n")
	f.write(t, rulesPath, "new\n")
	f.srv.Fail(remotetest.RouteUpdate, 409, 1)
	before := f.manifestBytes(t)

	_, err := f.engine.Update(context.Background(), []string{rulesPath}, true)
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, before, f.manifestBytes(t))
}

func TestUpdate_NotTracked(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 35; i++ {
		f.track(t, fmt.Sprintf(".conventions/security/doc-%02d.md", i), "x\n")
	}
	f.write(t, rulesPath, "untracked\n")

	_, err := f.engine.Update(context.Background(), []string{rulesPath}, false)
	require.ErrorIs(t, err, apperr.ErrNotTracked)
	var nt *mutation.NotTrackedError
	require.True(t, errors.As(err, &nt))
	assert.Equal(t, rulesPath, nt.Path)
	assert.Len(t, nt.Tracked, 30)
	assert.Equal(t, 35, nt.Total)
	assert.Contains(t, err.Error(), "... and 5 more")
	assert.Zero(t, f.srv.Calls(remotetest.RouteDetail))
}

func TestUpdate_NoManifest(t *testing.T) {
	f := newFixture(t)
	f.write(t, rulesPath, "x\n")

	_, err := f.engine.Update(context.Background(), []string{rulesPath}, false)
	require.ErrorIs(t, err, apperr.ErrNoManifest)
	assert.Contains(t, err.Error(), "convsync download")
}

func TestUpdate_BatchStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	a := ".conventions/security/a.md"
	b := ".conventions/security/b.md"
	f.track(t, a, "a-old\n")
	f.track(t, b, "b-old\n")
	f.write(t, a, "a-new\n")
	f.write(t, b, "b-new\n")
	f.write(t, rulesPath, "untracked\n")

	out, err := f.engine.Update(context.Background(), []string{a, rulesPath, b}, true)
	require.ErrorIs(t, err, apperr.ErrNotTracked)
	require.Len(t, out, 1)
	assert.Equal(t, a, out[0].Path)
	assert.Equal(t, 1, f.srv.Calls(remotetest.RouteUpdate))

	m := f.manifest(t)
	ea, _ := m.Find(a)
	eb, _ := m.Find(b)
	assert.NotNil(t, ea.LastKnownUpdatedAt, "earlier commits stay")
	assert.Nil(t, eb.LastKnownUpdatedAt, "later files are not processed")
}

// --- create ---

func TestCreate(t *testing.T) {
	f := newFixture(t)
	rel := ".conventions/security/api-keys_policy.md"
	f.write(t, rel, "---\ndescription: Key handling\ntrigger: \"\"\n---\n# Keys\n")

	out, err := f.engine.Create(context.Background(), []string{rel})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, mutation.Created, out[0].Action)

	stored, ok := f.srv.Convention(out[0].ConventionID)
	require.True(t, ok)
	assert.Equal(t, "api keys policy", stored.Title)
	assert.Equal(t, "security", stored.Category)
	assert.Equal(t, "api-keys_policy.md", stored.FileName)
	require.NotNil(t, stored.Description)
	assert.Equal(t, "Key handling", *stored.Description)
	assert.Nil(t, stored.Trigger, "blank fields are not sent on create")

	m := f.manifest(t)
	entry, ok := m.Find(rel)
	require.True(t, ok)
	assert.Equal(t, stored.ID, entry.ConventionID)
	assert.Equal(t, "security", entry.CategoryDir)
	require.NotNil(t, entry.UpdatedAt)
	assert.Equal(t, stored.UpdatedAt, *entry.UpdatedAt)
	assert.Nil(t, entry.LastUploadedAt)
}

func TestCreate_FrontmatterTitleAndCategory(t *testing.T) {
	f := newFixture(t)
	rel := ".conventions/style/naming.md"
	f.write(t, rel, "---\ntitle: Naming Rules\ncategory: Code Style\n---\nbody\n")

	out, err := f.engine.Create(context.Background(), []string{rel})
	require.NoError(t, err)
	stored, _ := f.srv.Convention(out[0].ConventionID)
	assert.Equal(t, "Naming Rules", stored.Title)
	assert.Equal(t, "Code Style", stored.Category)
}

func TestCreate_PathValidation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.fs.MkdirAll("/elsewhere", 0o755))
	cases := map[string]string{
		"outside project":     "/elsewhere/x.md",
		"outside conventions": "notes/x.md",
		"no category":         ".conventions/x.md",
		"platform category":   ".conventions/_platform/general/x.md",
		"legacy category":     ".conventions/downloaded/x.md",
		"not markdown":        ".conventions/security/x.txt",
		"no extension":        ".conventions/security/README",
	}
	for name, ref := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.Create(context.Background(), []string{ref})
			require.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
	assert.Zero(t, f.srv.Calls(remotetest.RouteCreate), "validation happens before any network call")
}

func TestCreate_MarkdownExtension(t *testing.T) {
	f := newFixture(t)
	rel := ".conventions/security/long.markdown"
	f.write(t, rel, "# Long\n")

	_, err := f.engine.Create(context.Background(), []string{rel})
	require.NoError(t, err)
}

func TestCreate_AlreadyTracked(t *testing.T) {
	f := newFixture(t)
	f.track(t, rulesPath, "x\n")

	_, err := f.engine.Create(context.Background(), []string{rulesPath})
	require.ErrorIs(t, err, apperr.ErrAlreadyTracked)
	assert.Zero(t, f.srv.Calls(remotetest.RouteCreate))
}

// --- delete ---

func TestDelete_DryRunIsPure(t *testing.T) {
	f := newFixture(t)
	doc := f.track(t, rulesPath, "x\n")
	before := f.manifestBytes(t)

	out, err := f.engine.Delete(context.Background(), []string{rulesPath}, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, mutation.Planned, out[0].Action)
	assert.Contains(t, out[0].Message, "Planned deletion")
	assert.Contains(t, out[0].Message, doc.ID)

	assert.Zero(t, f.srv.Calls(remotetest.RouteDelete))
	_, ok := f.srv.Convention(doc.ID)
	assert.True(t, ok)
	exists, _ := afero.Exists(f.fs, f.ws.Abs(rulesPath))
	assert.True(t, exists)
	assert.Equal(t, before, f.manifestBytes(t))
}

func TestDelete_Apply(t *testing.T) {
	f := newFixture(t)
	doc := f.track(t, rulesPath, "x\n")
	f.track(t, ".conventions/security/other.md", "y\n")

	out, err := f.engine.Delete(context.Background(), []string{rulesPath}, true)
	require.NoError(t, err)
	assert.Equal(t, mutation.Deleted, out[0].Action)
	assert.Contains(t, out[0].Message, "Planned deletion")

	_, ok := f.srv.Convention(doc.ID)
	assert.False(t, ok)
	exists, _ := afero.Exists(f.fs, f.ws.Abs(rulesPath))
	assert.False(t, exists)
	m := f.manifest(t)
	_, tracked := m.Find(rulesPath)
	assert.False(t, tracked)
	assert.Len(t, m.Entries, 1)
}

func TestDelete_MissingLocalFileIsTolerated(t *testing.T) {
	f := newFixture(t)
	f.track(t, rulesPath, "x\n")
	require.NoError(t, f.fs.Remove(f.ws.Abs(rulesPath)))

	_, err := f.engine.Delete(context.Background(), []string{rulesPath}, true)
	require.NoError(t, err)
	_, tracked := f.manifest(t).Find(rulesPath)
	assert.False(t, tracked)
}

func TestDelete_NotTracked(t *testing.T) {
	f := newFixture(t)
	f.track(t, rulesPath, "x\n")

	_, err := f.engine.Delete(context.Background(), []string{".conventions/security/nope.md"}, true)
	require.ErrorIs(t, err, apperr.ErrNotTracked)
	assert.Zero(t, f.srv.Calls(remotetest.RouteDelete))
}
