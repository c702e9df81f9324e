// Package format holds the text helpers shared by the report, the console
// summary and the TUI.
package format

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// PageWidth is the width the report is laid out for.
const PageWidth = 80

// Indentation constants
const (
	IndentLevel1 = "  "   // 2 spaces
	IndentLevel2 = "    " // 4 spaces
)

// Divider returns a row of dashes one column short of the page width,
// followed by a newline.
func Divider() string {
	return strings.Repeat("-", PageWidth-1) + "\n"
}

// Center indents s so that it sits in the middle of the page. Text wider
// than the page is returned unchanged.
func Center(s string) string {
	indent := (PageWidth - len(s)) / 2
	if indent <= 0 {
		return s
	}
	return strings.Repeat(" ", indent) + s
}

// Duration formats d as HH:MM:SS.mmm.
func Duration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, milliseconds)
}

// ExpandTabs replaces tab characters with spaces.
func ExpandTabs(s string, tabWidth int) string {
	var b strings.Builder
	col := 0
	for _, r := range s {
		switch r {
		case '\n':
			b.WriteRune(r)
			col = 0
		case '\t':
			spaces := tabWidth - (col % tabWidth)
			b.WriteString(strings.Repeat(" ", spaces))
			col += spaces
		default:
			b.WriteRune(r)
			col++
		}
	}
	return b.String()
}

// Styles colors console output. A zero Styles renders plain text.
type Styles struct {
	useColors    bool
	passStyle    lipgloss.Style
	failStyle    lipgloss.Style
	warnStyle    lipgloss.Style
	neutralStyle lipgloss.Style
}

// NewStyles creates styles for w. Colors are enabled only when w is a
// terminal.
func NewStyles(w io.Writer) Styles {
	useColors := false
	if f, ok := w.(*os.File); ok {
		useColors = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return newStyles(useColors)
}

// PlainStyles returns styles that never color.
func PlainStyles() Styles {
	return newStyles(false)
}

func newStyles(useColors bool) Styles {
	return Styles{
		useColors:    useColors,
		passStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")), // green
		failStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		warnStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("3")), // yellow
		neutralStyle: lipgloss.NewStyle(),
	}
}

// Pass renders s as good news.
func (s Styles) Pass(text string) string {
	return s.render(s.passStyle, text)
}

// Fail renders s as a failure.
func (s Styles) Fail(text string) string {
	return s.render(s.failStyle, text)
}

// Warn renders s as a warning.
func (s Styles) Warn(text string) string {
	return s.render(s.warnStyle, text)
}

func (s Styles) render(style lipgloss.Style, text string) string {
	if !s.useColors {
		return text
	}
	return style.Render(text)
}
