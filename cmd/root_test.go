package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/nested-progress/internal/config"
	"github.com/JakeFAU/nested-progress/internal/pipeline"
	"github.com/JakeFAU/nested-progress/internal/progress"
)

type fakeEvents struct {
	mu     sync.Mutex
	stages []progress.Stage
}

func (f *fakeEvents) Emit(evt progress.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, evt.Stage)
}

func (f *fakeEvents) Callback([16]byte) progress.Callback { return nil }

func (f *fakeEvents) Logger([16]byte) progress.Logger { return nil }

type fakeApp struct {
	cfg      config.Config
	events   fakeEvents
	serveErr error
	served   bool
	closed   bool
}

func (f *fakeApp) Config() config.Config { return f.cfg }

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

func (f *fakeApp) Events() pipeline.Events { return &f.events }

func (f *fakeApp) Serve(context.Context) error {
	f.served = true
	return f.serveErr
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

// useFakeApp swaps the application factory for the duration of the test.
func useFakeApp(t *testing.T, app *fakeApp, buildErr error) {
	t.Helper()
	orig := newApp
	newApp = func(_ context.Context, cfg config.Config) (App, error) {
		if buildErr != nil {
			return nil, buildErr
		}
		app.cfg = cfg
		return app, nil
	}
	t.Cleanup(func() { newApp = orig })
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommandExportsCharacter(t *testing.T) {
	app := &fakeApp{}
	useFakeApp(t, app, nil)

	dir := t.TempDir()
	target := filepath.Join(dir, "out", "bob.mhx")
	out, err := execute("run", "--age", "60", "--gender", "1", "--race", "african",
		"--rig", "default", "--hair", "short02", "--output", target)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Equal(t, "[  0%] base mesh", lines[0])
	require.Contains(t, lines, "[  7%] loading base mesh")
	require.True(t, strings.HasPrefix(lines[len(lines)-1], "[100%] "))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "# MHX export bob.mhx\n"))
	require.Contains(t, string(data), "proxy hair data/hair/short02.mhclo")

	require.Equal(t, []progress.Stage{progress.StageRunStart, progress.StageRunDone}, app.events.stages)
	require.True(t, app.closed)
}

func TestRunCommandRejectsOptions(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "race", args: []string{"--race", "martian"}, want: "unknown race martian"},
		{name: "export", args: []string{"--output", "bob.obj"}, want: "only MHX export"},
		{name: "age", args: []string{"--age", "0"}, want: "age 0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := &fakeApp{}
			useFakeApp(t, app, nil)
			_, err := execute(append([]string{"run"}, tc.args...)...)
			require.ErrorContains(t, err, tc.want)
			require.Empty(t, app.events.stages)
		})
	}
}

func TestServeCommand(t *testing.T) {
	app := &fakeApp{}
	useFakeApp(t, app, nil)

	_, err := execute("serve")
	require.NoError(t, err)
	require.True(t, app.served)
	require.True(t, app.closed)

	failing := &fakeApp{serveErr: errors.New("address in use")}
	useFakeApp(t, failing, nil)
	_, err = execute("serve")
	require.ErrorContains(t, err, "address in use")
}

func TestRootCommandErrors(t *testing.T) {
	useFakeApp(t, &fakeApp{}, nil)
	_, err := execute("--config", filepath.Join(t.TempDir(), "missing.yaml"), "serve")
	require.ErrorContains(t, err, "load config")

	useFakeApp(t, nil, errors.New("db unreachable"))
	_, err = execute("serve")
	require.ErrorContains(t, err, "failed to initialize application services")
}
