// Package orchestrator owns the job registry and the Idle/Running lifecycle.
//
// Jobs are registered during a load phase. Start builds the dependency graph
// once, validates every trigger and then starts each job in registration
// order; it either starts everything or nothing.
package orchestrator

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"tonic/internal/eventbus"
	"tonic/internal/graph"
	"tonic/internal/job"
	"tonic/internal/runtime/supervisor"
	"tonic/internal/schedule"
	"tonic/internal/scheduler"
	logx "tonic/pkg/logx"
)

var (
	ErrDuplicateJob = graph.ErrDuplicateJob
	// ErrStarted is returned when registering after the graph was built.
	ErrStarted = errors.New("orchestrator already started")
)

type Orchestrator struct {
	mu sync.Mutex

	log      logx.Logger
	shared   any
	timezone string
	bus      eventbus.Bus
	onFault  func(jobID string, err error)
	overlap  job.OverlapPolicy

	timers *scheduler.Service
	sup    *supervisor.Supervisor

	jobs  map[string]*job.Job
	order []*job.Job
	graph *graph.Graph

	running bool
	wired   bool
}

func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{jobs: map[string]*job.Job{}}
	for _, opt := range opts {
		opt(o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if o.bus == nil {
		o.bus = eventbus.New()
	}
	o.timers = scheduler.New(scheduler.Config{Timezone: o.timezone}, o.log.With(logx.String("comp", "scheduler")))
	o.sup = supervisor.New(context.Background(), supervisor.WithLogger(o.log.With(logx.String("comp", "supervisor"))))
	return o
}

func (o *Orchestrator) env() job.Env {
	return job.Env{
		Timers:  o.timers,
		Sup:     o.sup,
		Log:     o.log,
		Bus:     o.bus,
		Config:  o.shared,
		OnFault: o.onFault,
	}
}

// Register adds j to the registry. Anonymous jobs get a fresh id when theirs
// is taken; a duplicate named id is an error.
func (o *Orchestrator) Register(j *job.Job) error {
	if j == nil {
		return errors.Mark(errors.New("nil job"), job.ErrInvalidJob)
	}
	if err := j.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.wired {
		return errors.Wrapf(ErrStarted, "register job %q", j.ID())
	}
	j.RerollID(func(id string) bool {
		_, taken := o.jobs[id]
		return taken
	})
	id := j.ID()
	if _, dup := o.jobs[id]; dup {
		return errors.WithHint(
			errors.Mark(errors.Newf("job %q already registered", id), ErrDuplicateJob),
			"job names must be unique across all job files")
	}
	j.Bind(o.env()).DefaultOverlap(o.overlap)
	o.jobs[id] = j
	o.order = append(o.order, j)
	o.log.Debug("job registered", logx.String("job", id), logx.Bool("anonymous", j.IsAnonymous()))
	return nil
}

// Add creates and registers a named job.
func (o *Orchestrator) Add(name string, fn job.Func) (*job.Job, error) {
	j := job.New(name, fn)
	if err := o.Register(j); err != nil {
		return nil, err
	}
	return j, nil
}

// AddAnonymous creates and registers a job with a generated id.
func (o *Orchestrator) AddAnonymous(fn job.Func) (*job.Job, error) {
	j := job.Anonymous(fn)
	if err := o.Register(j); err != nil {
		return nil, err
	}
	return j, nil
}

func (o *Orchestrator) Job(id string) (*job.Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	return j, ok
}

// Jobs returns the registered jobs in registration order.
func (o *Orchestrator) Jobs() []*job.Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*job.Job(nil), o.order...)
}

// Start moves the engine to Running. Calling it while running is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}

	for _, j := range o.order {
		if err := j.Err(); err != nil {
			return err
		}
	}

	if !o.wired {
		g, err := graph.Build(o.order)
		if err != nil {
			return err
		}
		o.graph = g
		o.wired = true
		for _, c := range g.Cycles() {
			o.log.Warn("dependency cycle", logx.Strs("jobs", c))
		}
	}

	for _, j := range o.order {
		for _, t := range j.Triggers() {
			if err := schedule.ValidateTrigger(t); err != nil {
				return errors.Wrapf(err, "job %q trigger %q", j.ID(), t.Source)
			}
		}
	}

	o.timers.Start(ctx)
	started := make([]*job.Job, 0, len(o.order))
	for _, j := range o.order {
		if err := j.Start(ctx); err != nil {
			for _, s := range started {
				s.Stop()
			}
			o.timers.Stop(ctx)
			return err
		}
		started = append(started, j)
	}
	o.running = true
	o.log.Info("orchestrator started", logx.Int("jobs", len(o.order)))
	return nil
}

// Stop halts every timer. In-flight callbacks finish on their own and may
// still propagate completions.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	for _, j := range o.order {
		j.Stop()
	}
	o.timers.Stop(ctx)
	o.running = false
	o.log.Info("orchestrator stopped")
}

// Close stops the engine and waits for in-flight callbacks until ctx is done.
// The orchestrator cannot be restarted afterwards.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.Stop(ctx)
	return o.sup.Stop(ctx)
}

func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Graph returns the dependency graph, or nil before the first Start.
func (o *Orchestrator) Graph() *graph.Graph {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.graph
}

func (o *Orchestrator) Bus() eventbus.Bus { return o.bus }

// SetTimezone changes the cron timezone; running timers are re-registered.
func (o *Orchestrator) SetTimezone(tz string) {
	o.timers.Apply(scheduler.Config{Timezone: tz})
}
