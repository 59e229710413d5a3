// Package console drives a browser session from the terminal with the same
// button menu the chat shows. Downloads are written to a local directory.
package console

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/justyntemme/diskbot/internal/action"
	"github.com/justyntemme/diskbot/internal/archive"
	"github.com/justyntemme/diskbot/internal/browser"
	"github.com/justyntemme/diskbot/internal/menu"
)

type Options struct {
	PageSize int
	MaxBytes int64
	TempDir  string
	// OutDir receives downloaded archives.
	OutDir string
}

type fetchDoneMsg struct {
	path string
	size int64
	err  error
}

type Model struct {
	session *browser.Session
	opts    Options

	rows     []menu.Row
	row, col int

	status string
	failed bool
	busy   bool
	keys   keyMap
	help   help.Model
	styles styles
	width  int
}

func New(s *browser.Session, opts Options) *Model {
	if opts.PageSize <= 0 {
		opts.PageSize = menu.DefaultPageSize
	}
	if opts.OutDir == "" {
		opts.OutDir = "."
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = archive.DefaultLimit
	}
	m := &Model{
		session: s,
		opts:    opts,
		keys:    defaultKeys(),
		help:    help.New(),
		styles:  newStyles(),
	}
	m.render()
	return m
}

func (m *Model) Init() tea.Cmd { return nil }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case fetchDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.setError(msg.err)
		} else {
			m.setStatus(fmt.Sprintf("Saved %s (%s)", msg.path, humanize.IBytes(uint64(msg.size))))
		}

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keys.Up):
			m.moveRow(-1)
		case key.Matches(msg, m.keys.Down):
			m.moveRow(1)
		case key.Matches(msg, m.keys.Left):
			m.moveCol(-1)
		case key.Matches(msg, m.keys.Right):
			m.moveCol(1)
		case key.Matches(msg, m.keys.Press):
			return m, m.press()
		}
	}
	return m, nil
}

// Focused returns the button under the cursor.
func (m *Model) Focused() menu.Button {
	return m.rows[m.row][m.col]
}

func (m *Model) press() tea.Cmd {
	a := m.Focused().Action
	if a.Kind == action.Fetch {
		if m.busy {
			return nil
		}
		m.busy = true
		m.setStatus("Creating archive...")
		return m.fetch()
	}

	changed, err := m.session.Apply(a)
	if err != nil {
		m.setError(err)
		return nil
	}
	if changed {
		m.status = ""
		m.render()
	}
	return nil
}

// fetch snapshots the selection so the archive matches what was on screen
// when the button was pressed.
func (m *Model) fetch() tea.Cmd {
	selected := m.session.Selected()
	base := m.session.Current()
	opts := m.opts
	return func() tea.Msg {
		path, size, err := Export(selected, base, opts)
		return fetchDoneMsg{path: path, size: size, err: err}
	}
}

// Export builds an archive of selected and copies it into opts.OutDir. The
// temporary archive is always removed.
func Export(selected []string, base string, opts Options) (string, int64, error) {
	a, err := archive.BuildIn(opts.TempDir, selected, base, opts.MaxBytes)
	if err != nil {
		return "", 0, err
	}
	defer a.Remove()

	src, err := a.Open()
	if err != nil {
		return "", 0, err
	}
	defer src.Close()

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return "", 0, err
	}
	dest := filepath.Join(opts.OutDir, a.Name)
	out, err := os.Create(dest)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return "", 0, fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return dest, n, nil
}

func (m *Model) moveRow(delta int) {
	m.row = clamp(m.row+delta, 0, len(m.rows)-1)
	m.col = clamp(m.col, 0, len(m.rows[m.row])-1)
}

func (m *Model) moveCol(delta int) {
	m.col = clamp(m.col+delta, 0, len(m.rows[m.row])-1)
}

// render rebuilds the buttons and keeps the focus on a valid button.
func (m *Model) render() {
	m.rows = menu.Render(m.session, m.opts.PageSize)
	m.moveRow(0)
}

func (m *Model) setStatus(s string) {
	m.status, m.failed = s, false
}

func (m *Model) setError(err error) {
	switch {
	case errors.Is(err, archive.ErrEmptySelection):
		m.status = "Nothing selected."
	case errors.Is(err, browser.ErrNotFound):
		m.status = "Directory no longer exists."
	default:
		m.status = err.Error()
	}
	m.failed = true
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(m.styles.Caption.Render(menu.Caption(m.session)))
	b.WriteString("\n")

	for i, row := range m.rows {
		cells := make([]string, 0, len(row))
		for j, btn := range row {
			style := m.styles.Button
			if i == m.row && j == m.col {
				style = m.styles.Focused
			}
			cells = append(cells, style.Render(btn.Label))
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		b.WriteString("\n")
	}

	if m.status != "" {
		style := m.styles.Status
		if m.failed {
			style = m.styles.Error
		}
		b.WriteString(style.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
