// Package archive packs a selection of files and directories into a
// temporary zip file.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/justyntemme/diskbot/internal/debug"
	"github.com/justyntemme/diskbot/internal/fs"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// DefaultLimit is the largest uncompressed selection Build accepts. It
// matches the Telegram bot upload ceiling.
const DefaultLimit int64 = 50 << 20

var (
	ErrOverLimit      = errors.New("selection exceeds size limit")
	ErrEmptySelection = errors.New("nothing selected")
)

// OverLimitError reports the measured selection size.
type OverLimitError struct {
	Total int64
	Limit int64
}

func (e *OverLimitError) Error() string {
	return fmt.Sprintf("selection is %s, limit is %s",
		humanize.IBytes(uint64(e.Total)), humanize.IBytes(uint64(e.Limit)))
}

func (e *OverLimitError) Is(target error) bool { return target == ErrOverLimit }

// Archive is a finished zip on disk. The caller owns the file and must call
// Remove once it has been delivered or abandoned.
type Archive struct {
	Path string
	// Name is the display name for the recipient, e.g. "docs.zip".
	Name string
	// Size is the compressed size in bytes.
	Size int64
	// Entries are the stored names, in write order.
	Entries []string
	// Uncompressed is the summed size of the archived files.
	Uncompressed int64
}

// Remove deletes the archive file. Safe to call more than once.
func (a *Archive) Remove() error {
	if a == nil || a.Path == "" {
		return nil
	}
	err := os.Remove(a.Path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	debug.Log(debug.ARCHIVE, "Remove: %q err=%v", a.Path, err)
	return err
}

// Open returns a reader over the archive contents.
func (a *Archive) Open() (*os.File, error) {
	return os.Open(a.Path)
}

// Build zips selected, storing each item relative to base. Directories are
// stored recursively, empty ones as "name/" entries. When the selection's
// total size is above limit nothing is written and the error matches
// ErrOverLimit. A limit <= 0 disables the check.
func Build(selected []string, base string, limit int64) (*Archive, error) {
	return BuildIn("", selected, base, limit)
}

// BuildIn is Build with the temporary file created in dir ("" for the
// system default).
func BuildIn(dir string, selected []string, base string, limit int64) (*Archive, error) {
	if len(selected) == 0 {
		return nil, ErrEmptySelection
	}

	total := fs.TotalSize(selected)
	debug.Log(debug.ARCHIVE, "Build: %d items, %d bytes, limit %d", len(selected), total, limit)
	if limit > 0 && total > limit {
		return nil, &OverLimitError{Total: total, Limit: limit}
	}

	items, err := collect(selected, base)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(dir, "diskbot-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	a := &Archive{Path: tmp.Name(), Name: displayName(selected, base)}

	if err := write(tmp, items, a); err != nil {
		tmp.Close()
		a.Remove()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		a.Remove()
		return nil, fmt.Errorf("close archive: %w", err)
	}

	info, err := os.Stat(a.Path)
	if err != nil {
		a.Remove()
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	a.Size = info.Size()

	debug.Log(debug.ARCHIVE, "Build: wrote %q (%s) with %d entries", a.Path, humanize.IBytes(uint64(a.Size)), len(a.Entries))
	return a, nil
}

func displayName(selected []string, base string) string {
	name := filepath.Base(base)
	if len(selected) == 1 {
		name = filepath.Base(selected[0])
	}
	if name == string(filepath.Separator) || name == "." || name == "" {
		name = "root"
	}
	return name + ".zip"
}

type item struct {
	src   string
	name  string
	isDir bool
	mode  os.FileMode
}

// collect resolves the selection to a sorted list of zip members. Items that
// vanished since selection are skipped. A directory that contributes no
// member below it is stored as a "name/" marker.
func collect(selected []string, base string) ([]item, error) {
	var items []item
	var dirs []item
	seen := make(map[string]bool)

	add := func(src string, isDir bool, mode os.FileMode) error {
		rel, err := filepath.Rel(base, src)
		if err != nil {
			return fmt.Errorf("%s is not below %s: %w", src, base, err)
		}
		name := filepath.ToSlash(rel)
		if name == "." || strings.HasPrefix(name, "../") || name == ".." {
			return fmt.Errorf("%s is not below %s", src, base)
		}
		if isDir {
			name += "/"
		}
		if seen[name] {
			return nil
		}
		seen[name] = true
		it := item{src: src, name: name, isDir: isDir, mode: mode}
		if isDir {
			dirs = append(dirs, it)
		} else {
			items = append(items, it)
		}
		return nil
	}

	for _, p := range selected {
		info, err := os.Stat(p)
		if err != nil {
			debug.Log(debug.ARCHIVE, "collect: skipping %q: %v", p, err)
			continue
		}
		if !info.IsDir() {
			if info.Mode().IsRegular() {
				if err := add(p, false, info.Mode()); err != nil {
					return nil, err
				}
			}
			continue
		}

		nodes, err := fs.Walk(p)
		if err != nil {
			debug.Log(debug.ARCHIVE, "collect: walk %q: %v", p, err)
			continue
		}
		for _, n := range nodes {
			if err := add(n.Path, n.IsDir, n.Mode); err != nil {
				return nil, err
			}
		}
	}

	// Every ancestor of a member is implied by the member's name
	covered := make(map[string]bool)
	cover := func(name string) {
		for i := len(name) - 2; i >= 0; i-- {
			if name[i] == '/' {
				covered[name[:i+1]] = true
			}
		}
	}
	for _, it := range items {
		cover(it.name)
	}
	// Children sort after their parents, so walking backwards marks the
	// deepest empty directory before deciding on its ancestors.
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].name < dirs[j].name })
	for i := len(dirs) - 1; i >= 0; i-- {
		if covered[dirs[i].name] {
			continue
		}
		items = append(items, dirs[i])
		cover(dirs[i].name)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].name < items[j].name })
	return items, nil
}

func write(w io.Writer, items []item, a *Archive) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	for _, it := range items {
		if it.isDir {
			hdr := &zip.FileHeader{Name: it.name, Method: zip.Store}
			hdr.SetMode(os.ModeDir | 0o755)
			if _, err := zw.CreateHeader(hdr); err != nil {
				return fmt.Errorf("add %s: %w", it.name, err)
			}
			a.Entries = append(a.Entries, it.name)
			continue
		}

		n, err := addFile(zw, it)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				debug.Log(debug.ARCHIVE, "write: %q vanished", it.src)
				continue
			}
			return fmt.Errorf("add %s: %w", it.name, err)
		}
		a.Entries = append(a.Entries, it.name)
		a.Uncompressed += n
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, it item) (int64, error) {
	f, err := os.Open(it.src)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return 0, err
	}
	hdr.Name = it.name
	hdr.Method = zip.Deflate

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return 0, err
	}
	return io.Copy(dst, f)
}
