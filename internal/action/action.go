// Package action defines the user inputs the browser understands and their
// encoding as Telegram callback data.
package action

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind tags an Action.
type Kind int

const (
	Select Kind = iota
	ScrollUp
	ScrollDown
	Navigate
	NavigateParent
	Fetch
)

func (k Kind) String() string {
	switch k {
	case Select:
		return "select"
	case ScrollUp:
		return "scroll_up"
	case ScrollDown:
		return "scroll_down"
	case Navigate:
		return "navigate"
	case NavigateParent:
		return "navigate_parent"
	case Fetch:
		return "fetch"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Action is a decoded user input. Index is set for Select and Navigate,
// Amount for ScrollUp and ScrollDown.
type Action struct {
	Kind   Kind
	Index  int
	Amount int
}

func SelectEntry(i int) Action { return Action{Kind: Select, Index: i} }
func NavigateTo(i int) Action { return Action{Kind: Navigate, Index: i} }
func Up(n int) Action { return Action{Kind: ScrollUp, Amount: n} }
func Down(n int) Action { return Action{Kind: ScrollDown, Amount: n} }
func Parent() Action { return Action{Kind: NavigateParent} }
func FetchSelection() Action { return Action{Kind: Fetch} }

var ErrMalformed = errors.New("malformed action token")

// MaxArg is the largest index or scroll amount Decode accepts.
const MaxArg = math.MaxInt32

// Callback data layout, "<verb>//<arg>".
const (
	sep        = "//"
	verbSelect = "select"
	verbUp     = "up"
	verbDown   = "down"
	verbCd     = "cd"
	verbFetch  = "upload"
	parentArg  = ".."
)

// Encode renders a as callback data.
func Encode(a Action) string {
	switch a.Kind {
	case Select:
		return verbSelect + sep + strconv.Itoa(a.Index)
	case ScrollUp:
		return verbUp + sep + strconv.Itoa(a.Amount)
	case ScrollDown:
		return verbDown + sep + strconv.Itoa(a.Amount)
	case Navigate:
		return verbCd + sep + strconv.Itoa(a.Index)
	case NavigateParent:
		return verbCd + sep + parentArg
	case Fetch:
		return verbFetch + sep
	}
	return ""
}

// Decode parses callback data produced by Encode.
func Decode(data string) (Action, error) {
	verb, arg, ok := strings.Cut(data, sep)
	if !ok {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, data)
	}

	switch verb {
	case verbFetch:
		return FetchSelection(), nil
	case verbCd:
		if arg == parentArg {
			return Parent(), nil
		}
	}

	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 || n > MaxArg {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, data)
	}

	switch verb {
	case verbSelect:
		return SelectEntry(n), nil
	case verbUp:
		return Up(n), nil
	case verbDown:
		return Down(n), nil
	case verbCd:
		return NavigateTo(n), nil
	}
	return Action{}, fmt.Errorf("%w: unknown verb %q", ErrMalformed, verb)
}
