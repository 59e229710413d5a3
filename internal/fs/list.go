// Package fs reads the directory tree diskbot exposes: single-level listings
// for the browser, recursive walks for selection sizes and archives.
package fs

import (
	iofs "io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/justyntemme/diskbot/internal/debug"
)

type Entry struct {
	Name    string
	Path    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// List returns the direct children of dir, directories first, each group
// ordered by name in byte order.
func List(dir string) ([]Entry, error) {
	debug.Log(debug.FS, "List: reading %q", dir)

	var result []Entry
	var mu sync.Mutex

	// Follow symlinks so a link to a directory lists as a directory
	conf := &fastwalk.Config{
		Follow: true,
	}

	dirLen := len(dir)

	err := fastwalk.Walk(conf, dir, func(fullPath string, d iofs.DirEntry, err error) error {
		if err != nil {
			debug.Log(debug.FS_ENTRY, "List: walk error at %q: %v", fullPath, err)
			if fullPath == dir {
				return err
			}
			return nil
		}

		if fullPath == dir {
			return nil
		}

		// Only direct children; fullPath always starts with dir
		relStart := dirLen
		if relStart < len(fullPath) && fullPath[relStart] == os.PathSeparator {
			relStart++
		}
		if strings.ContainsRune(fullPath[relStart:], os.PathSeparator) {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}

		info, err := fastwalk.StatDirEntry(fullPath, d)
		if err != nil {
			// Broken symlink: list the link itself
			info, err = os.Lstat(fullPath)
			if err != nil {
				debug.Log(debug.FS_ENTRY, "List: skipping %q: stat error: %v", d.Name(), err)
				return nil
			}
		}

		debug.Log(debug.FS_ENTRY, "List: %q isDir=%v size=%d", d.Name(), info.IsDir(), info.Size())

		mu.Lock()
		result = append(result, Entry{
			Name:    d.Name(),
			Path:    fullPath,
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		mu.Unlock()

		if d.IsDir() {
			return fastwalk.SkipDir
		}
		return nil
	})
	if err != nil {
		debug.Log(debug.FS, "List: walk error: %v", err)
		return nil, err
	}

	SortEntries(result)
	debug.Log(debug.FS, "List: returning %d entries", len(result))
	return result, nil
}

// SortEntries orders entries in place: directories before files, then by name.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
}
