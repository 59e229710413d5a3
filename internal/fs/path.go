package fs

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Path is an absolute, cleaned filesystem path held as its segment list.
// The zero value is not a valid path; use NewPath.
type Path struct {
	volume   string
	segments []string
}

// NewPath parses an absolute path.
func NewPath(p string) (Path, error) {
	if !filepath.IsAbs(p) {
		return Path{}, fmt.Errorf("path %q is not absolute", p)
	}
	p = filepath.Clean(p)
	vol := filepath.VolumeName(p)
	rest := strings.Trim(p[len(vol):], string(filepath.Separator))

	var segs []string
	if rest != "" {
		segs = strings.Split(rest, string(filepath.Separator))
	}
	return Path{volume: vol, segments: segs}, nil
}

func (p Path) String() string {
	return p.volume + string(filepath.Separator) + strings.Join(p.segments, string(filepath.Separator))
}

// Segments returns a copy of the segment list; empty at the root.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

func (p Path) IsRoot() bool {
	return len(p.segments) == 0
}

// Parent drops the last segment. It reports false at the root.
func (p Path) Parent() (Path, bool) {
	if p.IsRoot() {
		return p, false
	}
	return Path{volume: p.volume, segments: p.segments[:len(p.segments)-1:len(p.segments)-1]}, true
}

// Join appends a single entry name.
func (p Path) Join(name string) (Path, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, filepath.Separator) {
		return Path{}, fmt.Errorf("invalid entry name %q", name)
	}
	segs := make([]string, len(p.segments), len(p.segments)+1)
	copy(segs, p.segments)
	return Path{volume: p.volume, segments: append(segs, name)}, nil
}

// Base returns the last segment, or "" at the root.
func (p Path) Base() string {
	if p.IsRoot() {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

func (p Path) Equal(o Path) bool {
	if p.volume != o.volume || len(p.segments) != len(o.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != o.segments[i] {
			return false
		}
	}
	return true
}

// Within reports whether p is root or below it.
func (p Path) Within(root Path) bool {
	if p.volume != root.volume || len(p.segments) < len(root.segments) {
		return false
	}
	for i := range root.segments {
		if p.segments[i] != root.segments[i] {
			return false
		}
	}
	return true
}

// Rel returns p relative to root with forward slashes ("" when equal).
// It reports false when p is not within root.
func (p Path) Rel(root Path) (string, bool) {
	if !p.Within(root) {
		return "", false
	}
	return strings.Join(p.segments[len(root.segments):], "/"), true
}
