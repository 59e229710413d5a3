// Package browser holds the navigation state of one chat: the directory being
// shown, its sorted listing, the pagination cursor and the selection set.
//
// A Session has a single mutator. Callers serialize Apply and ResetToHome;
// nothing here locks.
package browser

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/justyntemme/diskbot/internal/action"
	"github.com/justyntemme/diskbot/internal/debug"
	"github.com/justyntemme/diskbot/internal/fs"
)

var (
	// ErrInvalidIndex means an action referenced an entry outside the
	// listing. A correctly rendered menu never produces one.
	ErrInvalidIndex = errors.New("entry index out of range")

	// ErrNotFound means the navigation target disappeared after the menu
	// was rendered.
	ErrNotFound = errors.New("directory not found")

	// ErrNotStateAction is returned for actions the session does not own,
	// such as fetching the selection.
	ErrNotStateAction = errors.New("action does not change navigation state")
)

type Session struct {
	home    fs.Path
	current fs.Path
	confine bool

	entries []fs.Entry
	cursor  int

	// selected keeps insertion order; selectedSet mirrors it for lookup
	selected     []string
	selectedSet  map[string]bool
	selectedSize int64
}

// Option configures a Session.
type Option func(*Session)

// WithConfinement keeps parent navigation from leaving the home directory.
func WithConfinement(confine bool) Option {
	return func(s *Session) { s.confine = confine }
}

// New creates a session positioned at home. home must be an existing
// absolute directory.
func New(home string, opts ...Option) (*Session, error) {
	hp, err := fs.NewPath(home)
	if err != nil {
		return nil, err
	}
	s := &Session{home: hp, confine: true, selectedSet: make(map[string]bool)}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ResetToHome(); err != nil {
		return nil, err
	}
	return s, nil
}

// ResetToHome moves to the home directory and rebuilds all derived state,
// even when already there.
func (s *Session) ResetToHome() error {
	return s.changeDir(s.home)
}

// Apply executes a. changed is false when the action was rejected without
// effect (navigating onto a file, or past the top) and the caller should not
// re-render. On error the state is unchanged.
func (s *Session) Apply(a action.Action) (changed bool, err error) {
	debug.Log(debug.APP, "Apply: %s index=%d amount=%d path=%q", a.Kind, a.Index, a.Amount, s.current)

	switch a.Kind {
	case action.Select:
		return s.toggle(a.Index)
	case action.ScrollUp:
		s.cursor -= a.Amount
		if s.cursor < 0 {
			s.cursor = 0
		}
		return true, nil
	case action.ScrollDown:
		if a.Amount > math.MaxInt-s.cursor {
			s.cursor = math.MaxInt
		} else {
			s.cursor += a.Amount
		}
		if s.cursor < 0 {
			s.cursor = 0
		}
		return true, nil
	case action.NavigateParent:
		return s.parent()
	case action.Navigate:
		return s.enter(a.Index)
	}
	return false, fmt.Errorf("%w: %s", ErrNotStateAction, a.Kind)
}

func (s *Session) toggle(i int) (bool, error) {
	e, err := s.entry(i)
	if err != nil {
		return false, err
	}

	if s.selectedSet[e.Path] {
		delete(s.selectedSet, e.Path)
		for j, p := range s.selected {
			if p == e.Path {
				s.selected = append(s.selected[:j], s.selected[j+1:]...)
				break
			}
		}
	} else {
		s.selectedSet[e.Path] = true
		s.selected = append(s.selected, e.Path)
	}

	s.selectedSize = fs.TotalSize(s.selected)
	debug.Log(debug.APP, "toggle: %q selected=%d size=%d", e.Path, len(s.selected), s.selectedSize)
	return true, nil
}

func (s *Session) parent() (bool, error) {
	if s.confine && s.current.Equal(s.home) {
		debug.Log(debug.APP, "parent: already at home %q", s.home)
		return false, nil
	}
	p, ok := s.current.Parent()
	if !ok {
		return false, nil
	}
	if err := s.changeDir(p); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Session) enter(i int) (bool, error) {
	e, err := s.entry(i)
	if err != nil {
		return false, err
	}
	if !e.IsDir {
		return false, nil
	}
	target, err := s.current.Join(e.Name)
	if err != nil {
		return false, err
	}
	if err := s.changeDir(target); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Session) entry(i int) (fs.Entry, error) {
	if i < 0 || i >= len(s.entries) {
		return fs.Entry{}, fmt.Errorf("%w: %d of %d", ErrInvalidIndex, i, len(s.entries))
	}
	return s.entries[i], nil
}

// changeDir validates target and commits it with fresh derived state. The
// session is untouched when validation or listing fails.
func (s *Session) changeDir(target fs.Path) error {
	dir := target.String()

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNotFound, dir)
	}

	entries, err := fs.List(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}

	s.current = target
	s.entries = entries
	s.cursor = 0
	s.selected = nil
	s.selectedSet = make(map[string]bool)
	s.selectedSize = 0

	debug.Log(debug.APP, "changeDir: %q entries=%d", dir, len(entries))
	return nil
}
