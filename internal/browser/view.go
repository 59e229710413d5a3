package browser

import (
	"strings"

	"github.com/justyntemme/diskbot/internal/fs"
)

func (s *Session) Home() string    { return s.home.String() }
func (s *Session) Current() string { return s.current.String() }
func (s *Session) Cursor() int     { return s.cursor }

// Entries returns a copy of the sorted listing.
func (s *Session) Entries() []fs.Entry {
	out := make([]fs.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Selected returns the selected paths in the order they were picked.
func (s *Session) Selected() []string {
	out := make([]string, len(s.selected))
	copy(out, s.selected)
	return out
}

func (s *Session) IsSelected(path string) bool { return s.selectedSet[path] }

func (s *Session) SelectedSize() int64 { return s.selectedSize }

// RelativePath renders the current directory relative to home, wrapped in
// slashes: "/" at home, "/docs/2024/" below it. Outside home (unconfined
// sessions) the absolute path is used.
func (s *Session) RelativePath() string {
	rel, ok := s.current.Rel(s.home)
	if !ok {
		rel = strings.TrimPrefix(s.current.String(), "/")
	}
	if rel == "" {
		return "/"
	}
	return "/" + rel + "/"
}
