// Package job implements a single schedulable unit of work.
//
// A Job holds its triggers, declared dependencies, callback and last result.
// Runs are dispatched asynchronously on a supervisor; the callback reports a
// result through done, which stores it and broadcasts a Completion to every
// subscriber. Dependents are wired as subscribers by the graph package.
package job

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
	"tonic/internal/schedule"
	logx "tonic/pkg/logx"
)

// Wildcard declares a dependency on every other registered job.
const Wildcard = "*"

var (
	ErrInvalidJob        = errors.New("invalid job")
	ErrInvalidDependency = errors.New("invalid dependency")
	// ErrSkip lets a callback finish without completing. The run is counted
	// as skipped; nothing is broadcast and the fault handler is not called.
	ErrSkip = errors.New("skip")
)

// Func is a job callback. It reports completion by calling done; a returned
// error means the invocation failed without completing.
type Func func(ctx context.Context, c Call, done Done) error

// Done signals completion with a result. Every call broadcasts a Completion.
type Done func(result any)

// Call is what a callback sees about the current run.
type Call struct {
	ID string
	// Parent is the upstream job whose completion triggered this run; empty
	// for schedule-triggered runs.
	Parent string
	Config any
	// Last is the job's previous result.
	Last any
	// Payload is the upstream result forwarded with the completion.
	Payload any
}

type Stats struct {
	Runs           uint64
	Completions    uint64
	Skipped        uint64
	Failures       uint64
	InFlight       int
	Queued         int
	LastRun        time.Time
	LastCompletion time.Time
	LastError      string
}

type Job struct {
	id        string
	anonymous bool
	fn        Func

	enabled atomic.Bool

	// startMu serializes Start and Stop.
	startMu sync.Mutex

	mu        sync.Mutex
	env       Env
	log       logx.Logger
	ownTimers bool

	triggers []schedule.Trigger
	deps     []string
	resolved []string
	deferred bool
	started  bool
	armed    bool
	timers   []string

	overlap    OverlapPolicy
	overlapSet bool
	retain     RetainFunc

	last     any
	subs     []subscriber
	inflight int
	pending  []pendingRun
	stats    Stats
	errs     []error

	skipLog *rate.Limiter
}

// New creates a named job.
func New(id string, fn Func) *Job {
	j := &Job{
		id:      strings.TrimSpace(id),
		fn:      fn,
		log:     logx.Nop(),
		skipLog: rate.NewLimiter(rate.Every(30*time.Second), 1),
	}
	j.env.Log = logx.Nop()
	j.enabled.Store(true)
	if j.id == "" {
		j.errs = append(j.errs, errors.Mark(errors.New("job id required"), ErrInvalidJob))
	}
	if j.id == Wildcard {
		j.errs = append(j.errs, errors.Mark(errors.Newf("job id %q is reserved", Wildcard), ErrInvalidJob))
	}
	if fn == nil {
		j.errs = append(j.errs, errors.Mark(errors.Newf("job %q: nil callback", j.id), ErrInvalidJob))
	}
	return j
}

// Anonymous creates a job with a generated id.
func Anonymous(fn Func) *Job {
	j := New(NewID(), fn)
	j.anonymous = true
	return j
}

func (j *Job) ID() string { return j.id }

// IsAnonymous reports whether the id was generated.
func (j *Job) IsAnonymous() bool { return j.anonymous }

// RerollID picks a new generated id until taken reports it free. It only
// applies to anonymous jobs that have not started; call it before Bind.
func (j *Job) RerollID(taken func(id string) bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.anonymous || j.started {
		return
	}
	for taken(j.id) {
		j.id = NewID()
	}
}

// ---- configuration (chainable) ----

// Once adds a trigger that fires a single time when the job starts.
func (j *Job) Once() *Job {
	return j.addTrigger(schedule.Compile("once"))
}

// Every adds a trigger compiled from shorthand or cron text.
func (j *Job) Every(text string) *Job {
	return j.addTrigger(schedule.Compile(text))
}

// At adds a fixed-time trigger with the text kept verbatim.
func (j *Job) At(text string) *Job {
	return j.addTrigger(schedule.AtTime(text))
}

func (j *Job) addTrigger(t schedule.Trigger) *Job {
	j.mu.Lock()
	j.triggers = append(j.triggers, t)
	j.mu.Unlock()
	return j
}

// After declares upstream dependencies. Wildcard means every other job.
// Duplicates are coalesced; an empty id is recorded as a configuration error.
func (j *Job) After(ids ...string) *Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			j.errs = append(j.errs, errors.Mark(errors.Newf("job %q: empty dependency id", j.id), ErrInvalidDependency))
			continue
		}
		dup := false
		for _, d := range j.deps {
			if d == id {
				dup = true
				break
			}
		}
		if !dup {
			j.deps = append(j.deps, id)
		}
	}
	return j
}

func (j *Job) Disable() *Job {
	j.enabled.Store(false)
	return j
}

func (j *Job) Enable() *Job {
	j.enabled.Store(true)
	return j
}

// Defer suppresses Once triggers at start. Recurring triggers still fire.
func (j *Job) Defer() *Job {
	j.mu.Lock()
	j.deferred = true
	j.mu.Unlock()
	return j
}

func (j *Job) Overlap(p OverlapPolicy) *Job {
	j.mu.Lock()
	j.overlap = p
	j.overlapSet = true
	j.mu.Unlock()
	return j
}

// DefaultOverlap sets the policy unless one was chosen explicitly.
func (j *Job) DefaultOverlap(p OverlapPolicy) *Job {
	j.mu.Lock()
	if !j.overlapSet {
		j.overlap = p
	}
	j.mu.Unlock()
	return j
}

// KeepLast keeps the last n items of slice results across runs.
func (j *Job) KeepLast(n int) *Job {
	if n <= 0 {
		return j.Retain(nil)
	}
	return j.Retain(KeepLastN(n))
}

func (j *Job) Retain(fn RetainFunc) *Job {
	j.mu.Lock()
	j.retain = fn
	j.mu.Unlock()
	return j
}

// Err returns the configuration errors recorded so far.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return errors.Join(j.errs...)
}

// ---- accessors ----

func (j *Job) Enabled() bool { return j.enabled.Load() }

func (j *Job) Deferred() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.deferred
}

// Started reports whether the job has been started at least once.
func (j *Job) Started() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.started
}

// Armed reports whether timers are currently installed.
func (j *Job) Armed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.armed
}

func (j *Job) OverlapPolicy() OverlapPolicy {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.overlap
}

func (j *Job) Triggers() []schedule.Trigger {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]schedule.Trigger(nil), j.triggers...)
}

// Dependencies returns the declared dependency ids, Wildcard included.
func (j *Job) Dependencies() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.deps...)
}

// Wildcard reports whether the job declared a dependency on every other job.
func (j *Job) Wildcard() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, d := range j.deps {
		if d == Wildcard {
			return true
		}
	}
	return false
}

// Resolved returns the concrete dependency ids recorded at graph build.
func (j *Job) Resolved() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.resolved...)
}

func (j *Job) SetResolved(ids []string) {
	j.mu.Lock()
	j.resolved = append([]string(nil), ids...)
	j.mu.Unlock()
}

// Last returns the most recently stored result.
func (j *Job) Last() any {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

// SetLast seeds the last result, e.g. from a results cache.
func (j *Job) SetLast(v any) {
	j.mu.Lock()
	j.last = v
	j.mu.Unlock()
}

func (j *Job) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := j.stats
	st.InFlight = j.inflight
	st.Queued = len(j.pending)
	return st
}
