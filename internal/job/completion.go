package job

import (
	"time"

	logx "tonic/pkg/logx"
)

// Completion is broadcast every time a job's callback calls done.
type Completion struct {
	JobID  string
	Result any
	At     time.Time
}

// Listener receives completions. It runs on the goroutine that called done,
// so it must not block; dependents only dispatch a new run.
type Listener func(c Completion)

type subscriber struct {
	name string
	fn   Listener
}

// Subscribe registers fn for this job's completions. name identifies the
// subscriber in Subscribers, usually the dependent job id.
func (j *Job) Subscribe(name string, fn Listener) {
	if fn == nil {
		return
	}
	j.mu.Lock()
	j.subs = append(j.subs, subscriber{name: name, fn: fn})
	j.mu.Unlock()
}

// Subscribers lists subscriber names in registration order.
func (j *Job) Subscribers() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.subs))
	for _, s := range j.subs {
		out = append(out, s.name)
	}
	return out
}

// complete stores result and broadcasts it. The store happens before any
// listener observes the completion. Retention only shapes the stored value;
// listeners get result as passed to done.
func (j *Job) complete(env Env, result any) Completion {
	at := time.Now()
	j.mu.Lock()
	stored := result
	if j.retain != nil {
		stored = j.retain(j.last, result)
	}
	j.last = stored
	j.stats.Completions++
	j.stats.LastCompletion = at
	subs := append([]subscriber(nil), j.subs...)
	log := j.log
	j.mu.Unlock()

	c := Completion{JobID: j.id, Result: result, At: at}
	log.Debug("job completed", logx.Int("subscribers", len(subs)))
	j.publish(env, "job.completed", c)
	for _, s := range subs {
		s.fn(c)
	}
	return c
}
