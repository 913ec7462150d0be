package job

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// OverlapPolicy decides what Run does while a previous invocation of the same
// job has not signaled completion yet.
type OverlapPolicy int

const (
	// OverlapSkip drops the new run.
	OverlapSkip OverlapPolicy = iota
	// OverlapQueue runs it after the in-flight invocation completes, in arrival order.
	OverlapQueue
	// OverlapAllow runs it concurrently.
	OverlapAllow
)

func (p OverlapPolicy) String() string {
	switch p {
	case OverlapSkip:
		return "skip"
	case OverlapQueue:
		return "queue"
	case OverlapAllow:
		return "allow"
	default:
		return "unknown"
	}
}

// ParseOverlap maps a config value to a policy. Empty means OverlapSkip.
func ParseOverlap(s string) (OverlapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return OverlapSkip, nil
	case "queue":
		return OverlapQueue, nil
	case "allow":
		return OverlapAllow, nil
	default:
		return OverlapSkip, errors.WithHint(errors.Newf("unknown overlap policy %q", s), "use skip, queue or allow")
	}
}

type pendingRun struct {
	parent  string
	payload any
}

// acquireLocked applies the overlap policy. It reports whether the caller may
// dispatch now; queued runs are stored and dispatched by releaseLocked.
// Call with j.mu held.
func (j *Job) acquireLocked(parent string, payload any) (dispatch bool, queued bool) {
	if j.inflight == 0 || j.overlap == OverlapAllow {
		j.inflight++
		return true, false
	}
	if j.overlap == OverlapQueue {
		j.pending = append(j.pending, pendingRun{parent: parent, payload: payload})
		return false, true
	}
	return false, false
}

// releaseLocked frees one guard slot and hands it to the next queued run, if
// any. Call with j.mu held.
func (j *Job) releaseLocked() (next pendingRun, ok bool) {
	if j.inflight > 0 {
		j.inflight--
	}
	if len(j.pending) == 0 {
		return pendingRun{}, false
	}
	if !j.enabled.Load() {
		j.pending = nil
		return pendingRun{}, false
	}
	next = j.pending[0]
	j.pending[0] = pendingRun{}
	j.pending = j.pending[1:]
	j.inflight++
	return next, true
}
