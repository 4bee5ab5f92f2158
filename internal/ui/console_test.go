package ui

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	tracker "github.com/JakeFAU/nested-progress/internal/progress"
)

func TestConsolePlainOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := NewConsole(&buf)
	cb := c.Callback()

	require.NoError(t, cb(0, "loading %s", "base mesh"))
	require.NoError(t, cb(0.001, "loading %s", "base mesh"))
	require.NoError(t, cb(0.25, "macro %s", "Age"))
	require.NoError(t, cb(1, ""))
	require.NoError(t, c.Done())

	require.Equal(t, "[  0%] loading base mesh\n[ 25%] macro Age\n[100%] \n", buf.String())
}

func TestConsoleRedrawsOnTerminal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := NewConsole(&buf)
	c.tty = true
	c.width = 60

	require.NoError(t, c.Render(0.5, "skin"))
	require.NoError(t, c.Render(1, "export done"))
	require.NoError(t, c.Done())

	out := buf.String()
	require.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\r")))
	require.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
	require.Contains(t, out, "100%")
	require.Contains(t, out, "export done")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestConsoleReportsWriteErrors(t *testing.T) {
	t.Parallel()

	c := NewConsole(failingWriter{})
	err := c.Render(0.5, "skin")
	require.ErrorContains(t, err, "render progress")

	// A console error propagates out of the tracker.
	tr := tracker.NewTracker(tracker.WithHost(c.Callback()))
	scope, err := tr.New()
	require.NoError(t, err)
	require.Error(t, scope.Report(0.75, tracker.Keep()))
}
