package sink

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tonic/internal/job"
	"tonic/internal/orchestrator"
	"tonic/internal/storage"
	logx "tonic/pkg/logx"
)

func emit(result any) job.Func {
	return func(ctx context.Context, c job.Call, done job.Done) error {
		done(result)
		return nil
	}
}

func newOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	o := orchestrator.New()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = o.Close(ctx)
	})
	return o
}

func openStore(t *testing.T, path string) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	return st
}

func TestCachePersistsEveryCompletionAndSeeds(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.json")
	st := openStore(t, path)

	o := newOrchestrator(t)
	a, _ := o.Add("weather", emit(map[string]any{"temp": 21.5}))
	a.Once()
	b, _ := o.Add("news", emit([]string{"headline"}))
	b.Once()
	cache := NewCache(st, logx.Nop())
	cj := cache.Job("cache")
	require.NoError(t, o.Register(cj))
	require.NoError(t, o.Start(ctx))

	require.Eventually(t, func() bool { return cj.Stats().Completions == 2 }, 2*time.Second, 5*time.Millisecond)
	cj.Run("", nil)
	require.Eventually(t, func() bool { return cj.Stats().Skipped == 1 }, time.Second, 5*time.Millisecond)

	runs, err := st.Runs(ctx, "weather", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Event)
	require.NoError(t, st.Close())

	st = openStore(t, path)
	defer st.Close()
	fresh := []*job.Job{job.New("weather", emit(nil)), job.New("news", emit(nil)), job.New("other", emit(nil))}
	n, err := NewCache(st, logx.Nop()).Seed(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, map[string]any{"temp": 21.5}, fresh[0].Last())
	assert.Equal(t, []any{"headline"}, fresh[1].Last())
	assert.Nil(t, fresh[2].Last())
}

func TestCacheFaultRecordsFailure(t *testing.T) {
	ctx := context.Background()
	st := openStore(t, filepath.Join(t.TempDir(), "cache.json"))
	defer st.Close()

	NewCache(st, logx.Nop()).Fault("weather", assert.AnError)
	runs, err := st.Runs(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Event)
	assert.Equal(t, assert.AnError.Error(), runs[0].Error)
}

func writeTemplate(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(p, []byte(`<p>{{index .Jobs "a"}}/{{index .Jobs "b"}}</p>`), 0o644))
	return p
}

func TestRenderWaitsForEveryEnabledJob(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out", "index.html")

	o := newOrchestrator(t)
	a, _ := o.Add("a", emit("alpha"))
	a.Once()
	b, _ := o.Add("b", emit("<beta>"))
	off, _ := o.Add("off", emit("never"))
	off.Disable()

	r, err := NewRender(RenderConfig{Template: writeTemplate(t, dir), Output: out}, o.Jobs, logx.Nop())
	require.NoError(t, err)
	rj := r.Job("render")
	require.NoError(t, o.Register(rj))
	require.NoError(t, o.Start(context.Background()))

	require.Eventually(t, func() bool { return rj.Stats().Skipped == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.NoFileExists(t, out)

	b.Run("", nil)
	require.Eventually(t, func() bool { return rj.Stats().Completions == 1 }, 2*time.Second, 5*time.Millisecond)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "<p>alpha/&lt;beta&gt;</p>", string(got))
	assert.Equal(t, out, rj.Last())
}

func TestRenderMinInterval(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "index.html")

	o := newOrchestrator(t)
	a, _ := o.Add("a", emit(1))
	b, _ := o.Add("b", emit(2))
	r, err := NewRender(RenderConfig{Template: writeTemplate(t, dir), Output: out, MinInterval: time.Hour}, o.Jobs, logx.Nop())
	require.NoError(t, err)
	rj := r.Job("render")
	t.Cleanup(r.Stop)
	require.NoError(t, o.Register(rj))
	require.NoError(t, o.Start(context.Background()))

	a.Run("", nil)
	require.Eventually(t, func() bool { return rj.Stats().Skipped == 1 }, 2*time.Second, 5*time.Millisecond)
	b.Run("", nil)
	require.Eventually(t, func() bool { return rj.Stats().Completions == 1 }, 2*time.Second, 5*time.Millisecond)
	a.Run("", nil)
	require.Eventually(t, func() bool { return rj.Stats().Skipped == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, rj.Stats().Completions)
}

func TestRenderFlushesLastCompletionOfABurst(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "index.html")

	o := newOrchestrator(t)
	var value atomic.Value
	value.Store("first")
	a, _ := o.Add("a", func(ctx context.Context, c job.Call, done job.Done) error {
		done(value.Load())
		return nil
	})
	b, _ := o.Add("b", emit("b"))
	r, err := NewRender(RenderConfig{Template: writeTemplate(t, dir), Output: out, MinInterval: 200 * time.Millisecond}, o.Jobs, logx.Nop())
	require.NoError(t, err)
	rj := r.Job("render")
	t.Cleanup(r.Stop)
	require.NoError(t, o.Register(rj))
	require.NoError(t, o.Start(context.Background()))

	b.Run("", nil)
	require.Eventually(t, func() bool { return rj.Stats().Skipped == 1 }, 2*time.Second, 5*time.Millisecond)
	a.Run("", nil)
	require.Eventually(t, func() bool { return rj.Stats().Completions == 1 }, 2*time.Second, 5*time.Millisecond)

	for _, v := range []string{"second", "third", "last"} {
		value.Store(v)
		a.Run("", nil)
		require.Eventually(t, func() bool { return a.Last() == v }, time.Second, 5*time.Millisecond)
	}
	require.Eventually(t, func() bool { return rj.Stats().Completions == 2 }, 2*time.Second, 10*time.Millisecond)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "<p>last/b</p>", string(got))

	time.Sleep(300 * time.Millisecond)
	assert.EqualValues(t, 2, rj.Stats().Completions)
}

func TestCacheStoresRetainedValue(t *testing.T) {
	ctx := context.Background()
	st := openStore(t, filepath.Join(t.TempDir(), "cache.json"))
	defer st.Close()

	o := newOrchestrator(t)
	a, _ := o.Add("history", emit([]int{3}))
	a.Once().KeepLast(3).SetLast([]int{1, 2})
	cache := NewCache(st, logx.Nop())
	cache.Lookup(o.Job)
	cj := cache.Job("cache")
	require.NoError(t, o.Register(cj))
	require.NoError(t, o.Start(ctx))

	require.Eventually(t, func() bool { return cj.Stats().Completions == 1 }, 2*time.Second, 5*time.Millisecond)
	results, err := st.Results(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3]`, string(results["history"]))
}

func TestNewRenderErrors(t *testing.T) {
	_, err := NewRender(RenderConfig{Template: "missing.html", Output: "out.html"}, nil, logx.Nop())
	require.Error(t, err)
	_, err = NewRender(RenderConfig{Template: "x"}, nil, logx.Nop())
	require.Error(t, err)
}
