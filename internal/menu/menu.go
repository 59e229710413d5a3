// Package menu turns a browser view into rows of inline buttons.
package menu

import (
	"github.com/justyntemme/diskbot/internal/action"
	"github.com/justyntemme/diskbot/internal/debug"
	"github.com/justyntemme/diskbot/internal/fs"
)

// DefaultPageSize is the number of entry rows shown per page.
const DefaultPageSize = 10

const (
	IconFile     = "📄"
	IconFolder   = "📁"
	IconSelected = "🔘"
	IconDownload = "⬇️"

	labelMore     = "..."
	labelDownload = IconDownload + "Download"
)

// View is the read-only state the renderer needs. *browser.Session
// satisfies it.
type View interface {
	Entries() []fs.Entry
	Cursor() int
	IsSelected(path string) bool
}

type Button struct {
	Label  string
	Action action.Action
}

type Row []Button

// Render lays out the menu for v:
//
//	[...(parent)] [Download]
//	[...(scroll up)]            when the cursor is past the first page
//	[icon name] [Select]        one row per visible entry
//	[...(scroll down)]          when entries remain below the window
func Render(v View, pageSize int) []Row {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	entries := v.Entries()
	cursor := v.Cursor()

	rows := []Row{{
		{Label: labelMore, Action: action.Parent()},
		{Label: labelDownload, Action: action.FetchSelection()},
	}}

	if cursor > 0 {
		rows = append(rows, Row{{Label: labelMore, Action: action.Up(pageSize)}})
	}

	// Compare against what remains so a huge cursor cannot overflow
	remaining := len(entries) - cursor
	for i := 0; i < min(pageSize, remaining); i++ {
		idx := cursor + i
		rows = append(rows, entryRow(idx, entries[idx], v.IsSelected(entries[idx].Path)))
	}

	if remaining > pageSize {
		rows = append(rows, Row{{Label: labelMore, Action: action.Down(pageSize)}})
	}

	debug.Log(debug.MENU, "Render: cursor=%d entries=%d rows=%d", cursor, len(entries), len(rows))
	return rows
}

func entryRow(i int, e fs.Entry, selected bool) Row {
	icon := IconFile
	if e.IsDir {
		icon = IconFolder
	}
	sel := "Select"
	if selected {
		sel = IconSelected + "Selected"
	}
	return Row{
		{Label: icon + e.Name, Action: action.NavigateTo(i)},
		{Label: sel, Action: action.SelectEntry(i)},
	}
}
