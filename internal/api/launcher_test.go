package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nested-progress/internal/pipeline"
	"github.com/JakeFAU/nested-progress/internal/storage/memory"
)

func postRun(l *Launcher, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(body))
	rr := httptest.NewRecorder()
	l.Launch(rr, req)
	return rr
}

func TestLaunchRunsCharacterBuild(t *testing.T) {
	t.Parallel()

	exports := memory.NewBlobStore()
	launcher := NewLauncher(pipeline.NewRunner(nil), exports, LauncherConfig{MaxRuns: 2}, nil)
	var started atomic.Int32
	launcher.OnStart(func(name string) {
		require.Equal(t, pipeline.CharacterRunName, name)
		started.Add(1)
	})

	rr := postRun(launcher, `{"age":40,"gender":1,"race":"african","rig":"default","output":"bob.mhx"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotEmpty(t, body["run_id"])
	require.Equal(t, "exports/"+body["run_id"]+"/bob.mhx", body["output"])

	launcher.Wait()
	data, ok := exports.Object(body["output"])
	require.True(t, ok)
	require.True(t, strings.HasPrefix(string(data), "# MHX export bob.mhx\n"))
	require.Contains(t, string(data), "rig default 163\n")
	require.EqualValues(t, 1, started.Load())
}

func TestLaunchDefaults(t *testing.T) {
	t.Parallel()

	opts := launchRequest{}.options()
	require.InDelta(t, 25.0, opts.Age, 1e-9)
	require.InDelta(t, 0.5, opts.Gender, 1e-9)
	require.Equal(t, "caucasian", opts.Race)
	require.Equal(t, "character.mhx", opts.Output)
	require.NoError(t, opts.Validate())
}

func TestLaunchRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "json", body: `{"age":`, want: "invalid JSON"},
		{name: "race", body: `{"race":"martian"}`, want: "unknown race martian"},
		{name: "age", body: `{"age":120}`, want: "age 120"},
		{name: "export", body: `{"output":"bob.obj"}`, want: "only MHX export"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			launcher := NewLauncher(pipeline.NewRunner(nil), memory.NewBlobStore(), LauncherConfig{}, nil)
			rr := postRun(launcher, tc.body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			require.Contains(t, rr.Body.String(), tc.want)
		})
	}
}

func TestLaunchCapsConcurrentRuns(t *testing.T) {
	t.Parallel()

	launcher := NewLauncher(
		pipeline.NewRunner(nil),
		memory.NewBlobStore(),
		LauncherConfig{MaxRuns: 1, WorkDelay: time.Hour},
		nil,
	)

	require.Equal(t, http.StatusAccepted, postRun(launcher, `{}`).Code)
	require.Equal(t, http.StatusTooManyRequests, postRun(launcher, `{}`).Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, launcher.Shutdown(ctx))

	require.Equal(t, http.StatusServiceUnavailable, postRun(launcher, `{}`).Code)
}
