// Package graph resolves declared job dependencies into completion
// subscriptions.
//
// Build runs once per orchestrator, before any trigger is installed:
//   - the Wildcard dependency expands to every other registered job
//   - every dependency must name a registered job
//   - each dependent subscribes to the completion of each upstream job,
//     except between two jobs that both declared the Wildcard
//
// Cycles are legal (fan-in-by-OR never deadlocks) and reported as warnings.
package graph

import (
	"github.com/cockroachdb/errors"
	"tonic/internal/job"
)

var (
	ErrDuplicateJob         = errors.New("duplicate job")
	ErrUnresolvedDependency = errors.New("unresolved dependency")
	ErrSelfDependency       = errors.New("self dependency")
)

// Graph is the resolved dependency graph. It is immutable once built.
type Graph struct {
	order    []string
	index    map[string]int
	deps     map[string][]string
	wildcard map[string]bool
	// subscribed[upstream] lists dependents actually wired to upstream.
	subscribed map[string][]string
	cycles     [][]string
}

// Resolve expands and validates dependencies without touching the jobs.
// jobs must be in registration order.
func Resolve(jobs []*job.Job) (*Graph, error) {
	g := &Graph{
		order:      make([]string, 0, len(jobs)),
		index:      make(map[string]int, len(jobs)),
		deps:       make(map[string][]string, len(jobs)),
		wildcard:   make(map[string]bool, len(jobs)),
		subscribed: make(map[string][]string, len(jobs)),
	}
	for i, j := range jobs {
		id := j.ID()
		if _, dup := g.index[id]; dup {
			return nil, errors.Mark(errors.Newf("job %q registered twice", id), ErrDuplicateJob)
		}
		g.index[id] = i
		g.order = append(g.order, id)
	}

	for _, j := range jobs {
		id := j.ID()
		declared := j.Dependencies()
		var resolved []string
		seen := map[string]bool{}
		add := func(d string) {
			if !seen[d] {
				seen[d] = true
				resolved = append(resolved, d)
			}
		}

		for _, d := range declared {
			if d == job.Wildcard {
				g.wildcard[id] = true
			}
		}
		if g.wildcard[id] {
			for _, other := range g.order {
				if other != id {
					add(other)
				}
			}
		}
		for _, d := range declared {
			switch {
			case d == job.Wildcard:
			case d == id:
				return nil, errors.WithHint(
					errors.Mark(errors.Newf("job %q depends on itself", id), ErrSelfDependency),
					"remove the job's own id from its after list")
			case g.has(d):
				add(d)
			default:
				return nil, errors.WithHint(
					errors.Mark(errors.Newf("dependency %q of job %q does not exist", d, id), ErrUnresolvedDependency),
					"check the job name or register the job before starting")
			}
		}
		g.deps[id] = resolved
	}

	for _, id := range g.order {
		for _, d := range g.deps[id] {
			if g.wildcard[id] && g.wildcard[d] {
				continue
			}
			g.subscribed[d] = append(g.subscribed[d], id)
		}
	}
	g.cycles = g.detectCycles()
	return g, nil
}

// Wire records resolved dependencies on each job and subscribes dependents
// to their upstream completions. jobs must be the slice g was resolved from.
func Wire(g *Graph, jobs []*job.Job) {
	byID := make(map[string]*job.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID()] = j
	}
	for _, j := range jobs {
		j.SetResolved(g.deps[j.ID()])
	}
	for _, up := range g.order {
		upstream := byID[up]
		for _, dep := range g.subscribed[up] {
			dependent := byID[dep]
			upstream.Subscribe(dep, func(c job.Completion) {
				dependent.Run(c.JobID, c.Result)
			})
		}
	}
}

// Build resolves and wires in one step. Nothing is subscribed on error.
func Build(jobs []*job.Job) (*Graph, error) {
	g, err := Resolve(jobs)
	if err != nil {
		return nil, err
	}
	Wire(g, jobs)
	return g, nil
}

func (g *Graph) has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Order returns job ids in registration order.
func (g *Graph) Order() []string { return append([]string(nil), g.order...) }

// Dependencies returns the resolved upstream ids of id. The Wildcard marker
// is not included; see Wildcard.
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// Dependents returns the jobs subscribed to id's completion, in wiring order.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.subscribed[id]...)
}

// Subscribed reports whether dependent runs when upstream completes.
func (g *Graph) Subscribed(upstream, dependent string) bool {
	for _, d := range g.subscribed[upstream] {
		if d == dependent {
			return true
		}
	}
	return false
}

// Wildcard reports whether id declared a dependency on every other job.
func (g *Graph) Wildcard(id string) bool { return g.wildcard[id] }

// Cycles returns the cycles found among subscriptions. In each path every id
// depends on the one before it and the first depends on the last.
func (g *Graph) Cycles() [][]string {
	out := make([][]string, len(g.cycles))
	for i, c := range g.cycles {
		out[i] = append([]string(nil), c...)
	}
	return out
}

// Roots returns jobs without wired upstreams, in registration order.
func (g *Graph) Roots() []string {
	var out []string
	for _, id := range g.order {
		wired := false
		for _, d := range g.deps[id] {
			if g.Subscribed(d, id) {
				wired = true
				break
			}
		}
		if !wired {
			out = append(out, id)
		}
	}
	return out
}
