package job

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tonic/internal/eventbus"
	"tonic/internal/runtime/supervisor"
	"tonic/internal/schedule"
	"tonic/internal/scheduler"
	logx "tonic/pkg/logx"
)

type faults struct {
	mu   sync.Mutex
	errs map[string][]error
}

func (f *faults) record(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = map[string][]error{}
	}
	f.errs[id] = append(f.errs[id], err)
}

func (f *faults) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs[id])
}

func testEnv(t *testing.T) (Env, *faults) {
	t.Helper()
	timers := scheduler.New(scheduler.Config{}, logx.Nop())
	timers.Start(context.Background())
	sup := supervisor.New(context.Background())
	t.Cleanup(func() {
		timers.Stop(context.Background())
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})
	f := &faults{}
	return Env{Timers: timers, Sup: sup, Log: logx.Nop(), Bus: eventbus.New(), Config: "shared", OnFault: f.record}, f
}

// counter returns a callback that completes immediately with result and
// counts its invocations.
func counter(n *atomic.Int32, result any) Func {
	return func(ctx context.Context, c Call, done Done) error {
		n.Add(1)
		done(result)
		return nil
	}
}

func TestOnceFiresOnStart(t *testing.T) {
	env, _ := testEnv(t)
	var n atomic.Int32
	j := New("a", counter(&n, 1)).Once().Bind(env)

	require.NoError(t, j.Start(context.Background()))
	require.NoError(t, j.Start(context.Background()))
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, n.Load())
	assert.Equal(t, 1, j.Last())
	assert.True(t, j.Started())
}

func TestUnboundJobUsesPrivateHost(t *testing.T) {
	var n atomic.Int32
	j := New("solo", counter(&n, nil)).Once()
	require.NoError(t, j.Start(context.Background()))
	t.Cleanup(j.Stop)
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestUnboundStartFailureStopsPrivateHost(t *testing.T) {
	j := New("solo", counter(new(atomic.Int32), nil)).Every("5m").Every("not a schedule")
	require.Error(t, j.Start(context.Background()))

	j.mu.Lock()
	timers := j.env.Timers
	j.mu.Unlock()
	require.NotNil(t, timers)
	assert.False(t, timers.Running())
	assert.Zero(t, timers.Len())
}

func TestDeferredOnceNeverFires(t *testing.T) {
	env, _ := testEnv(t)
	var n atomic.Int32
	j := New("a", counter(&n, nil)).Once().Defer().Bind(env)

	require.NoError(t, j.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, n.Load())
}

func TestDisabledJobKeepsTimersAndRunsAfterEnable(t *testing.T) {
	env, _ := testEnv(t)
	var n atomic.Int32
	j := New("a", counter(&n, nil)).Once().Every("1s").Disable().Bind(env)

	require.NoError(t, j.Start(context.Background()))
	assert.Equal(t, 1, env.Timers.Len())
	time.Sleep(1500 * time.Millisecond)
	assert.Zero(t, n.Load())

	j.Run("", nil)
	assert.Zero(t, j.Stats().Runs)

	j.Enable()
	require.Eventually(t, func() bool { return n.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestStopHaltsRecurringFirings(t *testing.T) {
	env, _ := testEnv(t)
	var n atomic.Int32
	j := New("tick", counter(&n, nil)).Every("1s").Bind(env)

	require.NoError(t, j.Start(context.Background()))
	require.Eventually(t, func() bool { return n.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
	j.Stop()
	j.Stop()
	assert.Zero(t, env.Timers.Len())
	assert.False(t, j.Armed())
	assert.True(t, j.Started())

	time.Sleep(100 * time.Millisecond)
	seen := n.Load()
	time.Sleep(2500 * time.Millisecond)
	assert.Equal(t, seen, n.Load())
}

func TestRestartReinstallsTimersWithoutRefiringOnce(t *testing.T) {
	env, _ := testEnv(t)
	var n atomic.Int32
	j := New("a", counter(&n, nil)).Once().Every("1h").Bind(env)

	require.NoError(t, j.Start(context.Background()))
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 5*time.Millisecond)
	j.Stop()
	require.NoError(t, j.Start(context.Background()))
	assert.Equal(t, 1, env.Timers.Len())
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, n.Load())
}

func TestStartRollsBackOnInvalidSchedule(t *testing.T) {
	env, _ := testEnv(t)
	var n atomic.Int32
	j := New("a", counter(&n, nil)).Once().Every("5m").Every("every now and then").Bind(env)

	err := j.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, schedule.ErrInvalidSchedule))
	assert.Zero(t, env.Timers.Len())
	assert.False(t, j.Armed())
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, n.Load())
}

func TestConfigurationErrors(t *testing.T) {
	assert.True(t, errors.Is(New(" ", counter(new(atomic.Int32), nil)).Err(), ErrInvalidJob))
	assert.True(t, errors.Is(New("x", nil).Err(), ErrInvalidJob))

	j := New("b", counter(new(atomic.Int32), nil)).After("a", "", "a", Wildcard)
	assert.True(t, errors.Is(j.Err(), ErrInvalidDependency))
	assert.Equal(t, []string{"a", Wildcard}, j.Dependencies())
	assert.True(t, j.Wildcard())
	require.Error(t, j.Start(context.Background()))
}

func TestOverlapSkipDropsReentry(t *testing.T) {
	env, _ := testEnv(t)
	release := make(chan struct{})
	var n atomic.Int32
	j := New("slow", func(ctx context.Context, c Call, done Done) error {
		n.Add(1)
		<-release
		done(nil)
		return nil
	}).Bind(env)

	j.Run("", nil)
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 5*time.Millisecond)
	j.Run("", nil)
	j.Run("", nil)
	close(release)

	require.Eventually(t, func() bool { return j.Stats().InFlight == 0 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, n.Load())
	assert.EqualValues(t, 2, j.Stats().Skipped)

	j.Run("", nil)
	require.Eventually(t, func() bool { return n.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestOverlapQueueSerializesRuns(t *testing.T) {
	env, _ := testEnv(t)
	gate := make(chan struct{})
	var mu sync.Mutex
	var seen []any
	var active, maxActive atomic.Int32
	j := New("sink", func(ctx context.Context, c Call, done Done) error {
		if a := active.Add(1); a > maxActive.Load() {
			maxActive.Store(a)
		}
		if c.Payload == 1 {
			<-gate
		}
		mu.Lock()
		seen = append(seen, c.Payload)
		mu.Unlock()
		active.Add(-1)
		done(nil)
		return nil
	}).Overlap(OverlapQueue).Bind(env)

	j.Run("a", 1)
	require.Eventually(t, func() bool { return active.Load() == 1 }, time.Second, 5*time.Millisecond)
	j.Run("b", 2)
	j.Run("c", 3)
	assert.Equal(t, 2, j.Stats().Queued)
	close(gate)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{1, 2, 3}, seen)
	assert.EqualValues(t, 1, maxActive.Load())
	assert.Zero(t, j.Stats().Skipped)
}

func TestOverlapAllowRunsConcurrently(t *testing.T) {
	env, _ := testEnv(t)
	gate := make(chan struct{})
	var active atomic.Int32
	j := New("par", func(ctx context.Context, c Call, done Done) error {
		active.Add(1)
		<-gate
		done(nil)
		return nil
	}).Overlap(OverlapAllow).Bind(env)

	j.Run("", nil)
	j.Run("", nil)
	require.Eventually(t, func() bool { return active.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(gate)
}

func TestRepeatedDoneBroadcastsEachTime(t *testing.T) {
	env, _ := testEnv(t)
	j := New("chatty", func(ctx context.Context, c Call, done Done) error {
		done("one")
		done("two")
		return nil
	}).Bind(env)

	var mu sync.Mutex
	var got []any
	j.Subscribe("watcher", func(c Completion) {
		mu.Lock()
		got = append(got, c.Result)
		mu.Unlock()
	})
	assert.Equal(t, []string{"watcher"}, j.Subscribers())

	j.Run("", nil)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{"one", "two"}, got)
	assert.Equal(t, "two", j.Last())
	assert.Zero(t, j.Stats().InFlight)
}

func TestPanicGoesToFaultHandlerAndReleasesGuard(t *testing.T) {
	env, f := testEnv(t)
	events, unsub := env.Bus.Subscribe(8, "job.failed")
	defer unsub()

	var n atomic.Int32
	j := New("boom", func(ctx context.Context, c Call, done Done) error {
		if n.Add(1) == 1 {
			panic("kaboom")
		}
		done("ok")
		return nil
	}).Bind(env)
	var completions atomic.Int32
	j.Subscribe("w", func(Completion) { completions.Add(1) })

	j.Run("", nil)
	require.Eventually(t, func() bool { return f.count("boom") == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, completions.Load())
	assert.Contains(t, j.Stats().LastError, "kaboom")

	select {
	case e := <-events:
		assert.Equal(t, "boom", e.Job)
	case <-time.After(time.Second):
		t.Fatal("no job.failed event")
	}

	j.Run("", nil)
	require.Eventually(t, func() bool { return completions.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestReturnedErrorIsAFault(t *testing.T) {
	env, f := testEnv(t)
	j := New("bad", func(ctx context.Context, c Call, done Done) error {
		return errors.New("upstream unavailable")
	}).Bind(env)

	j.Run("", nil)
	require.Eventually(t, func() bool { return f.count("bad") == 1 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, j.Stats().Failures)
	assert.Zero(t, j.Stats().Completions)
	assert.Nil(t, j.Last())
}

func TestCompletionForwardsPayloadToDependent(t *testing.T) {
	env, _ := testEnv(t)
	calls := make(chan Call, 1)
	a := New("A", counter(new(atomic.Int32), map[string]int{"temp": 21})).Once().Bind(env)
	b := New("B", func(ctx context.Context, c Call, done Done) error {
		calls <- c
		done(nil)
		return nil
	}).Bind(env)
	a.Subscribe("B", func(c Completion) { b.Run(c.JobID, c.Result) })

	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, a.Start(context.Background()))

	select {
	case c := <-calls:
		assert.Equal(t, "B", c.ID)
		assert.Equal(t, "A", c.Parent)
		assert.Equal(t, map[string]int{"temp": 21}, c.Payload)
		assert.Equal(t, "shared", c.Config)
	case <-time.After(time.Second):
		t.Fatal("dependent did not run")
	}
}

func TestCallSeesLastResult(t *testing.T) {
	env, _ := testEnv(t)
	lasts := make(chan any, 2)
	j := New("a", func(ctx context.Context, c Call, done Done) error {
		lasts <- c.Last
		done("fresh")
		return nil
	}).Bind(env)
	j.SetLast("cached")

	j.Run("", nil)
	assert.Equal(t, "cached", <-lasts)
	require.Eventually(t, func() bool { return j.Stats().InFlight == 0 }, time.Second, 5*time.Millisecond)
	j.Run("", nil)
	assert.Equal(t, "fresh", <-lasts)
}

func TestKeepLastTrimsSliceResults(t *testing.T) {
	env, _ := testEnv(t)
	var batch atomic.Int32
	j := New("feed", func(ctx context.Context, c Call, done Done) error {
		b := int(batch.Add(1))
		done([]int{b * 10, b*10 + 1})
		return nil
	}).KeepLast(3).Bind(env)
	var mu sync.Mutex
	var broadcast []any
	j.Subscribe("watcher", func(c Completion) {
		mu.Lock()
		broadcast = append(broadcast, c.Result)
		mu.Unlock()
	})

	for i := 1; i <= 2; i++ {
		j.Run("", nil)
		require.Eventually(t, func() bool { return j.Stats().Completions == uint64(i) }, time.Second, 5*time.Millisecond)
	}
	assert.Equal(t, []int{11, 20, 21}, j.Last())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{[]int{10, 11}, []int{20, 21}}, broadcast)
}

func TestKeepLastN(t *testing.T) {
	keep := KeepLastN(2)
	assert.Equal(t, []string{"b", "c"}, keep([]string{"a"}, []string{"b", "c"}))
	assert.Equal(t, "scalar", keep([]string{"a"}, "scalar"))
	assert.Equal(t, []int{1, 2}, keep([]string{"a"}, []int{1, 2}))
	assert.Equal(t, []int{2, 3}, keep(nil, []int{1, 2, 3}))
}

func TestAnonymousIDs(t *testing.T) {
	a := Anonymous(counter(new(atomic.Int32), nil))
	assert.True(t, a.IsAnonymous())
	assert.Len(t, a.ID(), 8)
	require.NoError(t, a.Err())

	old := a.ID()
	a.RerollID(func(id string) bool { return id == old })
	assert.NotEqual(t, old, a.ID())
	assert.False(t, New("named", counter(new(atomic.Int32), nil)).IsAnonymous())
}

func TestParseOverlap(t *testing.T) {
	for in, want := range map[string]OverlapPolicy{"": OverlapSkip, "Skip": OverlapSkip, "queue": OverlapQueue, " allow ": OverlapAllow} {
		got, err := ParseOverlap(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOverlap("parallel")
	require.Error(t, err)
}

func TestErrSkipReleasesWithoutFault(t *testing.T) {
	env, f := testEnv(t)
	var n atomic.Int32
	j := New("picky", func(ctx context.Context, c Call, done Done) error {
		n.Add(1)
		if c.Parent == "" {
			return ErrSkip
		}
		done(c.Payload)
		return nil
	}).Overlap(OverlapQueue).Bind(env)

	j.Run("", nil)
	j.Run("up", 7)
	require.Eventually(t, func() bool { return j.Last() == 7 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, n.Load())
	assert.EqualValues(t, 1, j.Stats().Skipped)
	assert.Zero(t, f.count("picky"))
}
