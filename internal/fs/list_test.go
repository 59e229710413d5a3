package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkTree(t *testing.T, root string, dirs []string, files map[string]string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
	for f, content := range files {
		p := filepath.Join(root, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestList_DirsFirstThenFiles(t *testing.T) {
	tmpDir := t.TempDir()
	mkTree(t, tmpDir,
		[]string{"zeta", "Alpha", "beta", ".hidden_dir"},
		map[string]string{
			"b.txt":        "b",
			"A.txt":        "a",
			".hidden_file": "h",
			"a.go":         "package a",
		})

	entries, err := List(tmpDir)
	require.NoError(t, err)

	assert.Equal(t,
		[]string{".hidden_dir", "Alpha", "beta", "zeta", ".hidden_file", "A.txt", "a.go", "b.txt"},
		names(entries))

	for i, e := range entries {
		assert.Equal(t, i < 4, e.IsDir, "entry %s", e.Name)
		assert.Equal(t, filepath.Join(tmpDir, e.Name), e.Path)
	}
}

func TestList_OnlyDirectChildren(t *testing.T) {
	tmpDir := t.TempDir()
	mkTree(t, tmpDir, []string{"dir1/deeper"}, map[string]string{
		"dir1/nested.txt": "nested",
		"top.txt":         "top",
	})

	entries, err := List(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"dir1", "top.txt"}, names(entries))
}

func TestList_StableAcrossCalls(t *testing.T) {
	tmpDir := t.TempDir()
	mkTree(t, tmpDir, []string{"c", "a", "b"}, map[string]string{"z": "", "y": "", "x": ""})

	first, err := List(tmpDir)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := List(tmpDir)
		require.NoError(t, err)
		assert.Equal(t, names(first), names(again))
	}
}

func TestList_Empty(t *testing.T) {
	entries, err := List(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestList_NonExistent(t *testing.T) {
	_, err := List(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestList_SymlinkToDirectoryListsAsDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	mkTree(t, tmpDir, []string{"real"}, nil)
	if err := os.Symlink(filepath.Join(tmpDir, "real"), filepath.Join(tmpDir, "link")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	entries, err := List(tmpDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].IsDir)
	assert.True(t, entries[1].IsDir)
}

func TestSize(t *testing.T) {
	tmpDir := t.TempDir()
	mkTree(t, tmpDir, []string{"tree/empty"}, map[string]string{
		"one.txt":           "12345",
		"tree/a.txt":        "abc",
		"tree/sub/b.txt":    "abcdefg",
		"tree/sub/deep/c.x": "",
	})

	assert.Equal(t, int64(5), Size(filepath.Join(tmpDir, "one.txt")))
	assert.Equal(t, int64(10), Size(filepath.Join(tmpDir, "tree")))
	assert.Equal(t, int64(0), Size(filepath.Join(tmpDir, "tree", "empty")))
	assert.Equal(t, int64(0), Size(filepath.Join(tmpDir, "vanished")))
	assert.Equal(t, int64(15), TotalSize([]string{
		filepath.Join(tmpDir, "one.txt"),
		filepath.Join(tmpDir, "tree"),
	}))
}

func TestWalk(t *testing.T) {
	tmpDir := t.TempDir()
	mkTree(t, tmpDir, []string{"root/empty", "root/full"}, map[string]string{
		"root/full/f.txt": "data",
	})

	nodes, err := Walk(filepath.Join(tmpDir, "root"))
	require.NoError(t, err)

	byPath := make(map[string]Node)
	for _, n := range nodes {
		byPath[n.Path] = n
	}
	require.Len(t, byPath, 4)

	assert.True(t, byPath[filepath.Join(tmpDir, "root", "empty")].IsDir)
	f := byPath[filepath.Join(tmpDir, "root", "full", "f.txt")]
	assert.False(t, f.IsDir)
	assert.Equal(t, int64(4), f.Size)
}

func TestWalk_FollowsFileSymlinksOnly(t *testing.T) {
	tmpDir := t.TempDir()
	mkTree(t, tmpDir, []string{"root/links", "elsewhere"}, map[string]string{
		"target.txt":         "123456",
		"elsewhere/deep.txt": "zz",
	})
	root := filepath.Join(tmpDir, "root")
	if err := os.Symlink(filepath.Join(tmpDir, "target.txt"), filepath.Join(root, "links", "file")); err != nil {
		t.Skip("symlinks not supported")
	}
	require.NoError(t, os.Symlink(filepath.Join(tmpDir, "elsewhere"), filepath.Join(root, "links", "dir")))
	require.NoError(t, os.Symlink(filepath.Join(tmpDir, "missing"), filepath.Join(root, "links", "broken")))
	// A link back up the tree must not be descended into
	require.NoError(t, os.Symlink(root, filepath.Join(root, "links", "loop")))

	nodes, err := Walk(root)
	require.NoError(t, err)

	byPath := make(map[string]Node)
	for _, n := range nodes {
		byPath[n.Path] = n
	}
	assert.Len(t, byPath, 3)

	link, ok := byPath[filepath.Join(root, "links", "file")]
	require.True(t, ok)
	assert.False(t, link.IsDir)
	assert.Equal(t, int64(6), link.Size)
	assert.True(t, link.Mode.IsRegular())

	assert.Equal(t, int64(6), Size(root))
}
