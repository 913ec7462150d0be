package orchestrator

import (
	"tonic/internal/job"
	"tonic/internal/runtime/supervisor"
	"tonic/internal/scheduler"
)

type JobInfo struct {
	ID           string
	Anonymous    bool
	Enabled      bool
	Deferred     bool
	Started      bool
	Armed        bool
	Wildcard     bool
	Overlap      string
	Triggers     []string
	Dependencies []string
	Resolved     []string
	Dependents   []string
	Stats        job.Stats
}

type Snapshot struct {
	Running    bool
	Jobs       []JobInfo
	Cycles     [][]string
	Timers     scheduler.Snapshot
	Supervisor supervisor.Snapshot
}

// Snapshot is for observability output, not synchronization.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	running := o.running
	jobs := append([]*job.Job(nil), o.order...)
	g := o.graph
	o.mu.Unlock()

	snap := Snapshot{
		Running:    running,
		Timers:     o.timers.Snapshot(),
		Supervisor: o.sup.Snapshot(),
	}
	if g != nil {
		snap.Cycles = g.Cycles()
	}
	for _, j := range jobs {
		info := JobInfo{
			ID:           j.ID(),
			Anonymous:    j.IsAnonymous(),
			Enabled:      j.Enabled(),
			Deferred:     j.Deferred(),
			Started:      j.Started(),
			Armed:        j.Armed(),
			Wildcard:     j.Wildcard(),
			Overlap:      j.OverlapPolicy().String(),
			Dependencies: j.Dependencies(),
			Resolved:     j.Resolved(),
			Dependents:   j.Subscribers(),
			Stats:        j.Stats(),
		}
		for _, t := range j.Triggers() {
			info.Triggers = append(info.Triggers, t.String())
		}
		snap.Jobs = append(snap.Jobs, info)
	}
	return snap
}
