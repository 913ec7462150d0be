package job

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"tonic/internal/schedule"
	logx "tonic/pkg/logx"
)

// Start installs the job's triggers. Recurring and At triggers go on the
// timer host; Once triggers fire right away unless the job is deferred or
// disabled. Once triggers only ever fire on the first Start.
//
// Start is idempotent while the job is armed. If any timer cannot be
// installed, the ones already installed are removed and the error returned.
func (j *Job) Start(ctx context.Context) error {
	j.startMu.Lock()
	defer j.startMu.Unlock()

	j.mu.Lock()
	if j.armed {
		j.mu.Unlock()
		return nil
	}
	if err := errors.Join(j.errs...); err != nil {
		j.mu.Unlock()
		return err
	}
	timers := j.timersLocked()
	own := j.ownTimers
	first := !j.started
	deferred := j.deferred
	triggers := append([]schedule.Trigger(nil), j.triggers...)
	log := j.log
	j.mu.Unlock()

	if own {
		timers.Start(ctx)
	}

	var ids []string
	once := 0
	for _, t := range triggers {
		if t.Kind == schedule.Once {
			once++
			continue
		}
		spec, err := schedule.CronSpec(t)
		if err == nil {
			var id string
			id, err = timers.Add(j.id, spec, j.fire)
			ids = append(ids, id)
		}
		if err != nil {
			for _, id := range ids {
				if id != "" {
					timers.Remove(id)
				}
			}
			if own {
				timers.Stop(ctx)
			}
			return errors.Wrapf(err, "start job %q trigger %q", j.id, t.Source)
		}
	}

	j.mu.Lock()
	j.timers = ids
	j.armed = true
	j.started = true
	j.mu.Unlock()
	log.Debug("job started", logx.Int("timers", len(ids)), logx.Bool("deferred", deferred), logx.Bool("enabled", j.Enabled()))

	if first && !deferred {
		for i := 0; i < once; i++ {
			j.Run("", nil)
		}
	}
	return nil
}

// Stop removes every installed timer. In-flight callbacks are left alone.
func (j *Job) Stop() {
	j.startMu.Lock()
	defer j.startMu.Unlock()

	j.mu.Lock()
	ids := j.timers
	j.timers = nil
	wasArmed := j.armed
	j.armed = false
	timers := j.env.Timers
	own := j.ownTimers
	log := j.log
	j.mu.Unlock()

	if !wasArmed || timers == nil {
		return
	}
	for _, id := range ids {
		timers.Remove(id)
	}
	if own {
		timers.Stop(context.Background())
	}
	log.Debug("job stopped", logx.Int("timers", len(ids)))
}

func (j *Job) fire() { j.Run("", nil) }

// Run executes the callback once, asynchronously. parent names the upstream
// job that triggered the run and payload is its result; both are empty for
// schedule-triggered runs. Disabled jobs ignore Run.
func (j *Job) Run(parent string, payload any) {
	if !j.enabled.Load() {
		return
	}

	j.mu.Lock()
	ok, queued := j.acquireLocked(parent, payload)
	if !ok {
		if !queued {
			j.stats.Skipped++
		}
		env := j.env
		log := j.log
		j.mu.Unlock()
		if queued {
			log.Trace("job run queued", logx.String("parent", parent))
			return
		}
		if j.skipLog.Allow() {
			log.Debug("job run skipped; previous run still in flight", logx.String("parent", parent))
		}
		j.publish(env, "job.skipped", parent)
		return
	}
	env := j.envLocked()
	j.mu.Unlock()

	j.dispatch(env, parent, payload)
}

func (j *Job) dispatch(env Env, parent string, payload any) {
	env.Sup.Go0("job."+j.id, func(ctx context.Context) {
		j.invoke(ctx, env, parent, payload)
	})
}

func (j *Job) invoke(ctx context.Context, env Env, parent string, payload any) {
	started := time.Now()
	j.mu.Lock()
	j.stats.Runs++
	j.stats.LastRun = started
	call := Call{ID: j.id, Parent: parent, Config: env.Config, Last: j.last, Payload: payload}
	log := j.log
	j.mu.Unlock()

	j.publish(env, "job.started", parent)
	log.Trace("job run", logx.String("parent", parent))

	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(j.release) }
	done := func(result any) {
		j.complete(env, result)
		release()
	}

	stack, err := j.call(ctx, call, done)
	if err == nil {
		return
	}
	release()
	if errors.Is(err, ErrSkip) {
		j.mu.Lock()
		j.stats.Skipped++
		j.mu.Unlock()
		log.Trace("job run skipped by callback", logx.String("parent", parent))
		return
	}
	j.fault(env, err, stack)
}

// call runs the callback and turns a panic into an error.
func (j *Job) call(ctx context.Context, c Call, done Done) (stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack = string(debug.Stack())
			err = errors.Newf("job %q panicked: %v", j.id, r)
		}
	}()
	if err := j.fn(ctx, c, done); err != nil {
		return "", errors.Wrapf(err, "job %q", j.id)
	}
	return "", nil
}

func (j *Job) release() {
	j.mu.Lock()
	next, ok := j.releaseLocked()
	var env Env
	if ok {
		env = j.envLocked()
	}
	j.mu.Unlock()
	if ok {
		j.dispatch(env, next.parent, next.payload)
	}
}

func (j *Job) fault(env Env, err error, stack string) {
	j.mu.Lock()
	j.stats.Failures++
	j.stats.LastError = err.Error()
	log := j.log
	j.mu.Unlock()

	log.Error("job failed", logx.Err(err), logx.Stack(stack))
	j.publish(env, "job.failed", err.Error())
	if env.OnFault != nil {
		env.OnFault(j.id, err)
	}
}
