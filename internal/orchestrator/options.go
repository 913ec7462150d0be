package orchestrator

import (
	"tonic/internal/eventbus"
	"tonic/internal/job"
	logx "tonic/pkg/logx"
)

type Option func(*Orchestrator)

func WithLogger(log logx.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithConfig sets the shared read-only value every callback receives as
// Call.Config.
func WithConfig(cfg any) Option {
	return func(o *Orchestrator) { o.shared = cfg }
}

// WithTimezone sets the IANA timezone used for cron triggers.
func WithTimezone(tz string) Option {
	return func(o *Orchestrator) { o.timezone = tz }
}

func WithBus(bus eventbus.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithFaultHandler receives callback panics and returned errors.
func WithFaultHandler(fn func(jobID string, err error)) Option {
	return func(o *Orchestrator) { o.onFault = fn }
}

// WithDefaultOverlap applies p to jobs that did not choose a policy.
func WithDefaultOverlap(p job.OverlapPolicy) Option {
	return func(o *Orchestrator) { o.overlap = p }
}
