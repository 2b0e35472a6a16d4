package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const (
	colorReset    = "\033[0m"
	colorBold     = "\033[1m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

// termMu serializes terminal output so a progress line is never split by a
// log write.
var termMu sync.Mutex

// TermWidth reports the width of stdout, or 80 when it is not a terminal.
func TermWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

type termWriter struct {
	w io.Writer
}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return tw.w.Write(p)
}

// NewTermWriter wraps w so its writes interleave safely with PrintLine and
// PrintProgress.
func NewTermWriter(w io.Writer) io.Writer {
	return termWriter{w: w}
}

func PrintBanner(w io.Writer) {
	banner := `
   _____ __                  _____                  __
  / ___// /_____  ________  / ___/_________  __  __/ /_
  \__ \/ __/ __ \/ ___/ _ \ \__ \/ ___/ __ \/ / / / __/
 ___/ / /_/ /_/ / /  /  __/___/ / /__/ /_/ / /_/ / /_
/____/\__/\____/_/   \___//____/\___/\____/\__,_/\__/

          >> FIRST-TIME SHOPPER AUDITS <<
`
	width := TermWidth()
	termMu.Lock()
	defer termMu.Unlock()
	for _, l := range strings.Split(banner, "\n") {
		padding := clamp((width-len(l))/2, 0, width)
		fmt.Fprintf(w, "%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

// PrintLine writes one line, clearing any progress line first.
func PrintLine(w io.Writer, format string, args ...any) {
	termMu.Lock()
	defer termMu.Unlock()
	fmt.Fprintf(w, "\r\033[K"+format+"\n", args...)
}

// PrintProgress redraws the single-line progress indicator: done of total
// stages plus a label, truncated to the terminal width.
func PrintProgress(w io.Writer, done, total int, label string) {
	barWidth := 20
	filled := 0
	if total > 0 {
		filled = clamp(done*barWidth/total, 0, barWidth)
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("▒", barWidth-filled)

	maxLabel := clamp(TermWidth()-barWidth-12, 10, 200)
	if r := []rune(label); len(r) > maxLabel {
		label = string(r[:maxLabel-3]) + "..."
	}

	line := fmt.Sprintf("\r\033[K%s%s%s %s%d/%d%s %s", colorNeonCyan, bar, colorReset, colorBold, done, total, colorReset, label)
	termMu.Lock()
	fmt.Fprint(w, line)
	termMu.Unlock()
}

// Highlight wraps s in an accent color.
func Highlight(s string) string {
	return colorNeonMag + s + colorReset
}

// Dim wraps s in a muted color.
func Dim(s string) string {
	return colorPurple + s + colorReset
}
