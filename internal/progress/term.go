package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

const (
	defaultWidth = 80
	minBarWidth  = 10
)

// TermSink renders progress for a human at a terminal. On a TTY it keeps
// an in-place bar on the last line; otherwise it prints plain lines and
// reports percentages in steps of 10.
type TermSink struct {
	out   io.Writer
	tty   bool
	width int

	status string
	pct    int
	busy   bool
	spin   int
	drawn  bool
}

// NewTermSink creates a sink writing to out. TTY detection only applies
// when out is an *os.File.
func NewTermSink(out io.Writer) *TermSink {
	s := &TermSink{out: out, width: defaultWidth, pct: -1}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		s.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			s.width = w
		}
	}
	return s
}

func (s *TermSink) Status(text string) {
	s.status = text
	if s.tty {
		s.redraw()
		return
	}
	fmt.Fprintln(s.out, text)
}

func (s *TermSink) Percent(pct int) {
	pct = Clamp(pct)
	prev := s.pct
	s.pct = pct
	if s.tty {
		if pct != prev {
			s.redraw()
		}
		return
	}
	if prev < 0 || pct/10 != prev/10 {
		fmt.Fprintf(s.out, "  %3d%%\n", pct)
	}
}

func (s *TermSink) Indeterminate(on bool) {
	s.busy = on
	if s.tty {
		s.redraw()
	}
}

func (s *TermSink) Log(line string) {
	if s.tty && s.drawn {
		fmt.Fprint(s.out, "\r\033[K")
	}
	fmt.Fprintln(s.out, line)
	if s.tty {
		s.redraw()
	}
}

// Pump advances the busy spinner on a TTY.
func (s *TermSink) Pump() {
	if s.tty && s.busy {
		s.spin++
		s.redraw()
	}
}

// Finish moves the cursor past the bar.
func (s *TermSink) Finish() {
	if s.tty && s.drawn {
		fmt.Fprintln(s.out)
		s.drawn = false
	}
}

func (s *TermSink) redraw() {
	fmt.Fprint(s.out, "\r\033[K"+s.line())
	s.drawn = true
}

func (s *TermSink) line() string {
	barWidth := s.width / 3
	if barWidth < minBarWidth {
		barWidth = minBarWidth
	}

	var bar string
	if s.busy {
		pos := s.spin % barWidth
		bar = strings.Repeat(" ", pos) + "<=>" + strings.Repeat(" ", barWidth-pos)
		bar = "[" + bar[:barWidth] + "]     "
	} else {
		pct := s.pct
		if pct < 0 {
			pct = 0
		}
		filled := barWidth * pct / 100
		bar = fmt.Sprintf("[%s%s] %3d%%", strings.Repeat("#", filled), strings.Repeat(" ", barWidth-filled), pct)
	}

	line := bar + "  " + s.status
	if max := s.width - 1; max > 0 && utf8.RuneCountInString(line) > max {
		line = string([]rune(line)[:max])
	}
	return line
}
