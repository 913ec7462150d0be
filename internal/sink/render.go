package sink

import (
	"bytes"
	"context"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
	"tonic/internal/job"
	logx "tonic/pkg/logx"
)

type RenderConfig struct {
	Template string // path to an html/template file
	Output   string
	// MinInterval is the minimum time between two writes; 0 renders on
	// every completion.
	MinInterval time.Duration
}

// RenderData is the template root.
type RenderData struct {
	Jobs    map[string]any
	Parent  string
	Updated time.Time
}

// Render writes the template once every enabled job has produced data.
// Completions that arrive inside MinInterval collapse into one trailing
// write when the interval ends.
type Render struct {
	cfg     RenderConfig
	tmpl    *template.Template
	jobs    func() []*job.Job
	limiter *rate.Limiter
	log     logx.Logger

	self *job.Job

	mu       sync.Mutex
	trailing *time.Timer
}

// NewRender parses the template. jobs is called on every run to see the
// current registry.
func NewRender(cfg RenderConfig, jobs func() []*job.Job, log logx.Logger) (*Render, error) {
	if strings.TrimSpace(cfg.Output) == "" {
		return nil, errors.New("render output path is required")
	}
	tmpl, err := template.ParseFiles(cfg.Template)
	if err != nil {
		return nil, errors.Wrapf(err, "parse template %q", cfg.Template)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Render{cfg: cfg, tmpl: tmpl, jobs: jobs, log: log.With(logx.String("comp", "render"))}
	if cfg.MinInterval > 0 {
		r.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	return r, nil
}

func (r *Render) Job(id string) *job.Job {
	r.self = job.New(id, r.run).After(job.Wildcard).Overlap(job.OverlapQueue)
	return r.self
}

// Stop cancels a pending trailing write.
func (r *Render) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.trailing != nil {
		r.trailing.Stop()
		r.trailing = nil
	}
}

// admit applies MinInterval. A denied write schedules one trailing run of
// the render job itself; later denials fold into it.
func (r *Render) admit(own bool) bool {
	if r.limiter == nil || own {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.trailing != nil {
		return false
	}
	if r.limiter.Allow() {
		return true
	}
	if r.self == nil {
		return false
	}
	self := r.self
	delay := r.limiter.Reserve().Delay()
	r.trailing = time.AfterFunc(delay, func() {
		if !self.Enabled() {
			r.Stop()
			return
		}
		self.Run(self.ID(), nil)
	})
	r.log.Trace("render deferred", logx.Duration("delay", delay))
	return false
}

func (r *Render) run(ctx context.Context, call job.Call, done job.Done) error {
	_ = ctx
	own := r.self != nil && call.Parent == r.self.ID()
	if own {
		r.mu.Lock()
		r.trailing = nil
		r.mu.Unlock()
	}
	data := RenderData{Jobs: map[string]any{}, Parent: call.Parent, Updated: time.Now()}
	for _, j := range r.jobs() {
		if j.Wildcard() || !j.Enabled() {
			continue
		}
		last := j.Last()
		if last == nil {
			r.log.Trace("render waiting for data", logx.String("job", j.ID()))
			return job.ErrSkip
		}
		data.Jobs[j.ID()] = last
	}
	if !r.admit(own) {
		return job.ErrSkip
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return errors.Wrap(err, "execute template")
	}
	if err := writeAtomic(r.cfg.Output, buf.Bytes()); err != nil {
		return err
	}
	r.log.Debug("rendered", logx.String("output", r.cfg.Output), logx.String("parent", call.Parent))
	done(r.cfg.Output)
	return nil
}

func writeAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
