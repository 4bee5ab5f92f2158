// Package ui renders root progress reports on a terminal.
package ui

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	tracker "github.com/JakeFAU/nested-progress/internal/progress"
)

const (
	defaultWidth = 80
	barWidth     = 30
)

// Console draws a progress bar that redraws in place on a terminal, or one
// line per visible change otherwise.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	tty   bool
	width int
	bar   progress.Model
	desc  lipgloss.Style

	lastPercent int
	lastDesc    string
	open        bool
}

// NewConsole writes to out. Terminal detection applies when out is an
// *os.File.
func NewConsole(out io.Writer) *Console {
	c := &Console{
		out:         out,
		width:       defaultWidth,
		lastPercent: -1,
		bar:         progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth)),
		desc:        lipgloss.NewStyle().Faint(true),
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			c.width = w
		}
	}
	return c
}

// Callback returns the root callback that drives the console.
func (c *Console) Callback() tracker.Callback {
	return func(fraction float64, description string, args ...any) error {
		return c.Render(fraction, tracker.Describe(description, args...).String())
	}
}

// Render draws one report.
func (c *Console) Render(fraction float64, desc string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	percent := int(math.Floor(fraction*100 + 1e-9))
	if percent == c.lastPercent && desc == c.lastDesc {
		return nil
	}
	c.lastPercent, c.lastDesc = percent, desc

	var err error
	if c.tty {
		err = c.redraw(fraction, desc)
	} else {
		_, err = fmt.Fprintf(c.out, "[%3d%%] %s\n", percent, desc)
	}
	if err != nil {
		return fmt.Errorf("render progress: %w", err)
	}
	return nil
}

func (c *Console) redraw(fraction float64, desc string) error {
	line := c.bar.ViewAs(fraction)
	room := c.width - barWidth - 6
	if room > 0 && desc != "" {
		line += " " + c.desc.Render(runewidth.Truncate(desc, room, "…"))
	}
	pad := c.width - lipgloss.Width(line)
	if pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	if _, err := io.WriteString(c.out, "\r"+line); err != nil {
		return err
	}
	c.open = true
	if fraction >= 1 {
		return c.endLine()
	}
	return nil
}

// Done terminates an in-place line, e.g. after a failed run.
func (c *Console) Done() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endLine()
}

func (c *Console) endLine() error {
	if !c.open {
		return nil
	}
	c.open = false
	_, err := io.WriteString(c.out, "\n")
	return err
}
