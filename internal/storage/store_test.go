package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	logx "tonic/pkg/logx"
)

func testDrivers() []string { return []string{"file", "sqlite"} }

func openTest(t *testing.T, driver, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "postgres", Path: "x"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}

func TestResultsRoundTripAndSurviveReopen(t *testing.T) {
	for _, driver := range testDrivers() {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "cache", "tonic.db")

			st := openTest(t, driver, path)
			require.NoError(t, st.PutResult(ctx, "weather", []byte(`{"temp":21}`)))
			require.NoError(t, st.PutResult(ctx, "news", []byte(`["a","b"]`)))
			require.NoError(t, st.PutResult(ctx, "weather", []byte(`{"temp":22}`)))

			got, ok, err := st.GetResult(ctx, "weather")
			require.NoError(t, err)
			require.True(t, ok)
			assert.JSONEq(t, `{"temp":22}`, string(got))

			_, ok, err = st.GetResult(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
			require.NoError(t, st.Close())

			st = openTest(t, driver, path)
			defer st.Close()
			all, err := st.Results(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.JSONEq(t, `{"temp":22}`, string(all["weather"]))
			assert.JSONEq(t, `["a","b"]`, string(all["news"]))
		})
	}
}

func TestRunsNewestFirst(t *testing.T) {
	for _, driver := range testDrivers() {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openTest(t, driver, filepath.Join(t.TempDir(), "tonic.db"))
			defer st.Close()

			base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			require.NoError(t, st.AppendRun(ctx, RunEntry{At: base, JobID: "a", Event: "completed", TookMS: 5}))
			require.NoError(t, st.AppendRun(ctx, RunEntry{At: base.Add(time.Second), JobID: "b", Parent: "a", Event: "completed"}))
			require.NoError(t, st.AppendRun(ctx, RunEntry{At: base.Add(2 * time.Second), JobID: "a", Event: "failed", Error: "boom"}))

			runs, err := st.Runs(ctx, "a", 10)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, "failed", runs[0].Event)
			assert.Equal(t, "boom", runs[0].Error)
			assert.True(t, runs[0].At.Equal(base.Add(2*time.Second)))
			assert.EqualValues(t, 5, runs[1].TookMS)

			runs, err = st.Runs(ctx, "", 2)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, "b", runs[1].JobID)
			assert.Equal(t, "a", runs[1].Parent)
		})
	}
}

func TestFileStoreRejectsInvalidJSONAndClosed(t *testing.T) {
	ctx := context.Background()
	st := openTest(t, "file", filepath.Join(t.TempDir(), "tonic.json"))
	require.Error(t, st.PutResult(ctx, "a", []byte("not json")))
	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.PutResult(ctx, "a", []byte(`1`)), ErrClosed)
}

func TestFileStoreCompactsOnClose(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st := openTest(t, "file", filepath.Join(dir, "tonic.json"))
	require.NoError(t, st.PutResult(ctx, "a", []byte(`1`)))
	require.NoError(t, st.Close())

	assert.FileExists(t, filepath.Join(dir, "tonic.results.snapshot.json"))
	st = openTest(t, "file", filepath.Join(dir, "tonic.json"))
	defer st.Close()
	results, err := st.Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", string(results["a"]))
}
