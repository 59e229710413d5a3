package menu

import (
	"math"
	"strconv"
)

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// FormatSize renders n with binary scaling as "~<value><unit>", choosing the
// largest unit up to GB that keeps the value at or above 1.
func FormatSize(n int64) string {
	v := float64(n)
	unit := 0
	for unit < len(sizeUnits)-1 && v/1024 >= 1 {
		v /= 1024
		unit++
	}
	return "~" + strconv.FormatInt(int64(math.Round(v)), 10) + sizeUnits[unit]
}

// Located is what Caption needs from a browser session.
type Located interface {
	RelativePath() string
	Selected() []string
	SelectedSize() int64
}

// Caption is the message text shown above the buttons.
func Caption(l Located) string {
	text := "path:" + l.RelativePath()
	if len(l.Selected()) > 0 {
		text += "\nSelected:" + FormatSize(l.SelectedSize())
	}
	return text
}
