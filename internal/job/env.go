package job

import (
	"context"

	"tonic/internal/eventbus"
	"tonic/internal/runtime/supervisor"
	"tonic/internal/scheduler"
	logx "tonic/pkg/logx"
)

// Env is what a job needs from its host. The orchestrator binds one shared
// Env to every job it owns.
type Env struct {
	Timers *scheduler.Service
	Sup    *supervisor.Supervisor
	Log    logx.Logger
	Bus    eventbus.Bus
	// Config is the shared read-only value handed to every callback.
	Config any
	// OnFault receives callback panics and returned errors.
	OnFault func(jobID string, err error)
}

// Bind attaches env. Fields left nil are filled with private instances on
// first use.
func (j *Job) Bind(env Env) *Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.env = env
	j.ownTimers = false
	if env.Log.IsZero() {
		j.env.Log = logx.Nop()
	}
	j.log = j.env.Log.With(logx.String("job", j.id))
	return j
}

// envLocked returns the env with a supervisor guaranteed. Call with j.mu held.
func (j *Job) envLocked() Env {
	if j.env.Sup == nil {
		j.env.Sup = supervisor.New(context.Background(), supervisor.WithLogger(j.env.Log))
	}
	return j.env
}

// timersLocked returns the timer host, creating a private one for unbound
// jobs. Call with j.mu held.
func (j *Job) timersLocked() *scheduler.Service {
	if j.env.Timers == nil {
		j.env.Timers = scheduler.New(scheduler.Config{}, j.env.Log)
		j.ownTimers = true
	}
	return j.env.Timers
}

func (j *Job) publish(env Env, typ string, data any) {
	if env.Bus == nil {
		return
	}
	env.Bus.Publish(eventbus.Event{Type: typ, Job: j.id, Data: data})
}
