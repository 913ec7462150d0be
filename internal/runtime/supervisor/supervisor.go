// Package supervisor runs named goroutines under one cancelable context.
// Panics are recovered and turned into errors; the first error is kept and
// can optionally cancel everything else.
package supervisor

import (
	"context"
	"math/rand/v2"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	logx "tonic/pkg/logx"
)

// A run that lasted this long counts as healthy and resets GoRestart's backoff.
const healthyRun = 30 * time.Second

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	firstErr error
	started  uint64
	tasks    map[string]*Task
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first error or panic.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

// Task aggregates the goroutines started under one name.
type Task struct {
	Name     string
	Active   int
	Runs     uint64
	Restarts uint64
	Panics   uint64
	Runtime  time.Duration
	LastErr  string
}

type Snapshot struct {
	Active  int
	Started uint64
	Err     string
	Tasks   []Task
}

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, done: make(chan struct{}), tasks: map[string]*Task{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first error any goroutine reported.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	snap := Snapshot{Started: s.started, Tasks: make([]Task, 0, len(s.tasks))}
	if s.firstErr != nil {
		snap.Err = s.firstErr.Error()
	}
	for _, t := range s.tasks {
		snap.Active += t.Active
		snap.Tasks = append(snap.Tasks, *t)
	}
	s.mu.Unlock()
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].Name < snap.Tasks[j].Name })
	return snap
}

// Go runs fn once on its own goroutine. A returned context.Canceled is not
// an error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		at := s.begin(name, false)
		err := s.call(name, fn)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		s.end(name, at, err)
		if err != nil {
			s.fail(errors.Wrapf(err, "%s", name))
		}
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// GoRestart keeps fn running: an error or panic restarts it after a jittered
// exponential backoff between minBackoff and maxBackoff. A nil return, or the
// context ending, stops it for good. Failures here never reach Err.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, minBackoff, maxBackoff time.Duration) {
	if fn == nil {
		return
	}
	if minBackoff <= 0 {
		minBackoff = 250 * time.Millisecond
	}
	maxBackoff = max(maxBackoff, minBackoff)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := minBackoff
		for attempt := 0; s.ctx.Err() == nil; attempt++ {
			at := s.begin(name, attempt > 0)
			err := s.call(name, fn)
			if err == nil || s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				s.end(name, at, nil)
				return
			}
			s.end(name, at, err)

			if time.Since(at) >= healthyRun {
				backoff = minBackoff
			}
			wait := backoff + rand.N(backoff/5+1)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff = min(backoff*2, maxBackoff)
		}
	}()
}

// Stop cancels the context and waits for every goroutine, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			s.mu.Lock()
			s.task(name).Panics++
			s.mu.Unlock()
			err = errors.Newf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

func (s *Supervisor) task(name string) *Task {
	t := s.tasks[name]
	if t == nil {
		t = &Task{Name: name}
		s.tasks[name] = t
	}
	return t
}

func (s *Supervisor) begin(name string, restart bool) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	t := s.task(name)
	t.Active++
	t.Runs++
	if restart {
		t.Restarts++
	}
	return time.Now()
}

func (s *Supervisor) end(name string, at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.task(name)
	t.Active--
	t.Runtime += time.Since(at)
	if err != nil {
		t.LastErr = err.Error()
	}
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}
