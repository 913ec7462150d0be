// Package sink holds result consumers. Each one is a pseudo-job that depends
// on every other job and runs once per upstream completion.
package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"tonic/internal/job"
	"tonic/internal/storage"
	logx "tonic/pkg/logx"
)

const writeTimeout = 5 * time.Second

// Cache persists every job result so a restart can seed Last.
type Cache struct {
	store  storage.Store
	log    logx.Logger
	lookup func(id string) (*job.Job, bool)
}

func NewCache(store storage.Store, log logx.Logger) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{store: store, log: log.With(logx.String("comp", "cache"))}
}

// Job returns the pseudo-job to register under id.
func (c *Cache) Job(id string) *job.Job {
	return job.New(id, c.run).After(job.Wildcard).Overlap(job.OverlapQueue)
}

// Lookup lets the cache persist an upstream job's stored value, retention
// applied, instead of the raw completion payload.
func (c *Cache) Lookup(fn func(id string) (*job.Job, bool)) { c.lookup = fn }

func (c *Cache) run(ctx context.Context, call job.Call, done job.Done) error {
	if call.Parent == "" {
		return job.ErrSkip
	}
	value := call.Payload
	if c.lookup != nil {
		if up, ok := c.lookup(call.Parent); ok {
			value = up.Last()
		}
	}
	b, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode result of %q", call.Parent)
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.store.PutResult(wctx, call.Parent, b); err != nil {
		return errors.Wrapf(err, "store result of %q", call.Parent)
	}
	if err := c.store.AppendRun(wctx, storage.RunEntry{JobID: call.Parent, Event: "completed"}); err != nil {
		c.log.Warn("run history append failed", logx.String("job", call.Parent), logx.Err(err))
	}
	c.log.Debug("result cached", logx.String("job", call.Parent), logx.Int("bytes", len(b)))
	done(call.Parent)
	return nil
}

// Fault records a failed run in the history. It fits orchestrator.WithFaultHandler.
func (c *Cache) Fault(jobID string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if aerr := c.store.AppendRun(ctx, storage.RunEntry{JobID: jobID, Event: "failed", Error: err.Error()}); aerr != nil {
		c.log.Warn("run history append failed", logx.String("job", jobID), logx.Err(aerr))
	}
}

// Seed loads stored results into the Last value of matching jobs and returns
// how many were seeded.
func (c *Cache) Seed(ctx context.Context, jobs []*job.Job) (int, error) {
	results, err := c.store.Results(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "load cached results")
	}
	n := 0
	for _, j := range jobs {
		raw, ok := results[j.ID()]
		if !ok {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			c.log.Warn("cached result unreadable", logx.String("job", j.ID()), logx.Err(err))
			continue
		}
		j.SetLast(v)
		n++
	}
	c.log.Info("cache seeded", logx.Int("jobs", n))
	return n, nil
}
