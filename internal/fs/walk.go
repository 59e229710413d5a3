package fs

import (
	iofs "io/fs"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
	"github.com/justyntemme/diskbot/internal/debug"
)

// Size returns the byte size of a regular file, or the sum of every regular
// file below a directory. Paths that vanish or cannot be read count as zero.
func Size(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		debug.Log(debug.FS_WALK, "Size: %q: %v", path, err)
		return 0
	}
	if !info.IsDir() {
		if info.Mode().IsRegular() {
			return info.Size()
		}
		return 0
	}

	var total atomic.Int64

	// Don't descend into directory symlinks to avoid cycles; file links count
	conf := &fastwalk.Config{Follow: false}
	err = fastwalk.Walk(conf, path, func(fullPath string, d iofs.DirEntry, err error) error {
		if err != nil {
			debug.Log(debug.FS_WALK, "Size: error at %q: %v", fullPath, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if fi, ok := regularFile(fullPath, d); ok {
			total.Add(fi.Size())
		}
		return nil
	})
	if err != nil {
		debug.Log(debug.FS_WALK, "Size: walk %q: %v", path, err)
	}
	return total.Load()
}

// TotalSize sums Size over paths.
func TotalSize(paths []string) int64 {
	var total int64
	for _, p := range paths {
		total += Size(p)
	}
	return total
}

// Node is one item found by Walk.
type Node struct {
	Path  string
	IsDir bool
	Size  int64
	Mode  iofs.FileMode
}

// Walk collects root and everything below it. Symlinks to regular files are
// reported as files with the target's size and mode; directory symlinks are
// neither followed nor reported. Other non-regular files are skipped. Order
// is unspecified; callers sort.
func Walk(root string) ([]Node, error) {
	var nodes []Node
	var mu sync.Mutex

	conf := &fastwalk.Config{Follow: false}
	err := fastwalk.Walk(conf, root, func(fullPath string, d iofs.DirEntry, err error) error {
		if err != nil {
			debug.Log(debug.FS_WALK, "Walk: error at %q: %v", fullPath, err)
			if fullPath == root {
				return err
			}
			return nil
		}

		var n Node
		if d.IsDir() {
			n = Node{Path: fullPath, IsDir: true, Mode: iofs.ModeDir | 0o755}
		} else {
			fi, ok := regularFile(fullPath, d)
			if !ok {
				return nil
			}
			n = Node{Path: fullPath, Size: fi.Size(), Mode: fi.Mode()}
		}

		mu.Lock()
		nodes = append(nodes, n)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// regularFile resolves d, following a symlink, and reports whether it is a
// regular file.
func regularFile(fullPath string, d iofs.DirEntry) (iofs.FileInfo, bool) {
	if !d.Type().IsRegular() && d.Type()&iofs.ModeSymlink == 0 {
		return nil, false
	}
	fi, err := fastwalk.StatDirEntry(fullPath, d)
	if err != nil {
		debug.Log(debug.FS_WALK, "stat %q: %v", fullPath, err)
		return nil, false
	}
	return fi, fi.Mode().IsRegular()
}
