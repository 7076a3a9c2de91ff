package discovery

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	p := New("hooks", "/k", WithGlobalRoot("/g"))

	assert.Equal(t, "hooks", p.ResourceType())
	assert.True(t, p.UsesDefaults())
	assert.Equal(t, []string{"/g/hooks", "/k/.ember/hooks"}, p.DefaultPaths())
	assert.Equal(t, []string{"/g/hooks", "/k/.ember/hooks"}, p.AllPaths())
}

func TestNew_NoKiln(t *testing.T) {
	p := New("hooks", "", WithGlobalRoot("/g"))
	assert.Equal(t, []string{"/g/hooks"}, p.AllPaths())
}

func TestNew_RelativePathsResolved(t *testing.T) {
	root := t.TempDir()
	t.Chdir(root)

	p := New("hooks", "vault", WithGlobalRoot("conf")).WithAdditional("extra/")
	assert.Equal(t, []string{
		filepath.Join(root, "extra"),
		filepath.Join(root, "conf", "hooks"),
		filepath.Join(root, "vault", KilnDirName, "hooks"),
	}, p.AllPaths())

	// Relative and absolute spellings of a file resolve to the same source.
	rel, ok := p.SourceOf(filepath.Join("vault", KilnDirName, "hooks", "a.lua"))
	require.True(t, ok)
	abs, ok := p.SourceOf(filepath.Join(root, "vault", KilnDirName, "hooks", "a.lua"))
	require.True(t, ok)
	assert.Equal(t, rel, abs)
	assert.Equal(t, OriginKiln, abs.Origin)
}

func TestAllPaths_AdditionalFirst(t *testing.T) {
	p := New("hooks", "/k", WithGlobalRoot("/g")).WithAdditional("/extra")

	assert.Equal(t, []string{"/extra", "/g/hooks", "/k/.ember/hooks"}, p.AllPaths())
	assert.Equal(t, []string{"/extra"}, p.WithoutDefaults().AllPaths())
}

func TestAllPaths_Dedup(t *testing.T) {
	p := New("hooks", "/k", WithGlobalRoot("/g")).
		WithPath("/extra").
		WithPath("/extra/").
		WithPath("/k/.ember/hooks")

	assert.Equal(t, []string{"/extra", "/k/.ember/hooks", "/g/hooks"}, p.AllPaths())

	// The duplicate keeps the origin of its first occurrence.
	sources := p.Sources()
	require.Len(t, sources, 3)
	assert.Equal(t, OriginAdditional, sources[1].Origin)
	assert.Equal(t, OriginGlobal, sources[2].Origin)
}

func TestWithMethodsCopy(t *testing.T) {
	base := New("hooks", "/k", WithGlobalRoot("/g"))
	_ = base.WithAdditional("/extra").WithoutDefaults()

	assert.Equal(t, []string{"/g/hooks", "/k/.ember/hooks"}, base.AllPaths())
	assert.Equal(t, base.AllPaths(), base.WithoutDefaults().WithDefaults().AllPaths())
}

func TestMerge(t *testing.T) {
	off := false
	p := New("hooks", "/k", WithGlobalRoot("/g")).
		Merge(Config{AdditionalPaths: []string{"/a", "/b"}, UseDefaults: &off})
	assert.Equal(t, []string{"/a", "/b"}, p.AllPaths())

	// A nil UseDefaults keeps the current setting.
	p = New("hooks", "", WithGlobalRoot("/g")).Merge(Config{AdditionalPaths: []string{"/a"}})
	assert.Equal(t, []string{"/a", "/g/hooks"}, p.AllPaths())
}

func TestSubdir(t *testing.T) {
	p := New("hooks", "/k", WithGlobalRoot("/g")).WithAdditional("/extra").Subdir("deploy")

	assert.Equal(t, []string{"/extra/deploy", "/g/hooks/deploy", "/k/.ember/hooks/deploy"}, p.AllPaths())
	assert.Equal(t, "hooks/deploy", p.ResourceType())
}

func TestOriginRank(t *testing.T) {
	assert.Greater(t, OriginAdditional.Rank(), OriginKiln.Rank())
	assert.Greater(t, OriginKiln.Rank(), OriginGlobal.Rank())
	assert.Equal(t, "kiln", OriginKiln.String())
}

func TestExistingPaths(t *testing.T) {
	root := t.TempDir()
	global := filepath.Join(root, "global")
	kiln := filepath.Join(root, "kiln")
	extra := filepath.Join(root, "extra")

	p := New("hooks", kiln, WithGlobalRoot(global)).WithAdditional(extra)
	assert.Empty(t, p.ExistingPaths())

	require.NoError(t, os.MkdirAll(filepath.Join(kiln, KilnDirName, "hooks"), 0o755))
	assert.Equal(t, []string{filepath.Join(kiln, KilnDirName, "hooks")}, p.ExistingPaths())

	// A regular file in place of a directory does not count.
	require.NoError(t, os.WriteFile(extra, []byte("x"), 0o644))
	assert.Len(t, p.ExistingPaths(), 1)

	// Not cached: creating a directory later is picked up.
	require.NoError(t, os.MkdirAll(filepath.Join(global, "hooks"), 0o755))
	assert.Equal(t, []string{
		filepath.Join(global, "hooks"),
		filepath.Join(kiln, KilnDirName, "hooks"),
	}, p.ExistingPaths())
}

func TestSourceOf(t *testing.T) {
	p := New("hooks", "/k", WithGlobalRoot("/g")).WithAdditional("/k/.ember/hooks/extra")

	s, ok := p.SourceOf("/k/.ember/hooks/extra/a.lua")
	require.True(t, ok)
	assert.Equal(t, OriginAdditional, s.Origin)

	s, ok = p.SourceOf("/k/.ember/hooks/b.lua")
	require.True(t, ok)
	assert.Equal(t, OriginKiln, s.Origin)

	_, ok = p.SourceOf("/elsewhere/c.lua")
	assert.False(t, ok)
	_, ok = p.SourceOf("/g/hooks-other/c.lua")
	assert.False(t, ok)
}

func TestFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "extra")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	for _, name := range []string{"b.lua", "a.lua", "notes.txt", "nested/c.lua"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644))
	}

	p := New("hooks", "", WithGlobalRoot(filepath.Join(root, "missing"))).WithAdditional(dir)
	files, errs := p.Files(func(path string) bool { return filepath.Ext(path) == ".lua" })

	assert.Empty(t, errs)
	var got []string
	for _, f := range files {
		got = append(got, f.Path)
		assert.Equal(t, OriginAdditional, f.Source.Origin)
	}
	assert.Equal(t, []string{
		filepath.Join(dir, "a.lua"),
		filepath.Join(dir, "b.lua"),
		filepath.Join(dir, "nested", "c.lua"),
	}, got)
}

func TestFiles_NotDirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	p := New("hooks", "", WithGlobalRoot(filepath.Join(root, "g"))).WithAdditional(file)
	files, errs := p.Files(nil)

	assert.Empty(t, files)
	require.Len(t, errs, 1)
	var pe *PathError
	require.ErrorAs(t, errs[0], &pe)
	assert.ErrorIs(t, pe, ErrNotDirectory)
	assert.Equal(t, file, pe.Path)
}

func TestFiles_UnreadableDirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits not enforced")
	}
	root := t.TempDir()
	good := filepath.Join(root, "good")
	bad := filepath.Join(root, "bad")
	require.NoError(t, os.MkdirAll(good, 0o755))
	require.NoError(t, os.MkdirAll(bad, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(good, "a.lua"), []byte("--"), 0o644))
	require.NoError(t, os.Chmod(bad, 0o000))
	t.Cleanup(func() { _ = os.Chmod(bad, 0o755) })

	p := New("hooks", "", WithGlobalRoot(filepath.Join(root, "g"))).WithAdditional(bad, good)
	files, errs := p.Files(nil)

	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(good, "a.lua"), files[0].Path)
	require.NotEmpty(t, errs)
	var pe *PathError
	assert.ErrorAs(t, errs[0], &pe)
}
