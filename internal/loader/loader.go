// Package loader reads job definition files and registers command jobs.
//
// A job file holds a "jobs" list in JSON, YAML or TOML. Every document is
// checked against an embedded JSON schema before it is decoded.
package loader

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"tonic/internal/config"
	"tonic/internal/job"
	"tonic/internal/schedule"
	logx "tonic/pkg/logx"
)

//go:embed jobs.schema.json
var schemaText string

const schemaURL = "tonic://jobs.schema.json"

var ErrInvalidDefinition = errors.New("invalid job definition")

// Registry is where loaded jobs go. *orchestrator.Orchestrator satisfies it.
type Registry interface {
	Register(j *job.Job) error
}

type Loader struct {
	schema *jsonschema.Schema
	log    logx.Logger
}

func New(log logx.Logger) (*Loader, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, strings.NewReader(schemaText)); err != nil {
		return nil, errors.Wrap(err, "add job schema")
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		return nil, errors.Wrap(err, "compile job schema")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loader{schema: s, log: log.With(logx.String("comp", "loader"))}, nil
}

func supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

// ReadDirs reads every job file directly inside dirs, in directory order and
// then file name order.
func (l *Loader) ReadDirs(dirs ...string) ([]Definition, error) {
	var out []Definition
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, errors.Wrapf(err, "read job dir %q", dir)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !supported(e.Name()) {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, n := range names {
			defs, err := l.ReadFile(filepath.Join(dir, n))
			if err != nil {
				return nil, err
			}
			out = append(out, defs...)
		}
	}
	l.log.Debug("job definitions read", logx.Strs("dirs", dirs), logx.Int("count", len(out)))
	return out, nil
}

func (l *Loader) ReadFile(path string) ([]Definition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return l.Parse(path, b)
}

// Parse decodes data in the format implied by path's extension.
func (l *Loader) Parse(path string, data []byte) ([]Definition, error) {
	jb, _, err := config.ToJSON(path, data)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s", path), ErrInvalidDefinition)
	}

	var raw any
	if err := json.Unmarshal(jb, &raw); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s", path), ErrInvalidDefinition)
	}
	if err := l.schema.Validate(raw); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s", path), ErrInvalidDefinition)
	}

	var doc document
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s", path), ErrInvalidDefinition)
	}
	for i := range doc.Jobs {
		doc.Jobs[i].Source = path
	}
	return doc.Jobs, nil
}

// Register adds every definition to reg. It stops at the first definition
// that cannot be turned into a job.
func (l *Loader) Register(reg Registry, defs []Definition) ([]*job.Job, error) {
	out := make([]*job.Job, 0, len(defs))
	for _, d := range defs {
		j, err := l.register(reg, d)
		if err != nil {
			return out, errors.Wrapf(err, "%s: job %s", d.Source, d.Label())
		}
		out = append(out, j)
	}
	return out, nil
}

func (l *Loader) register(reg Registry, d Definition) (*job.Job, error) {
	timeout, err := config.ParseDurationField("timeout", d.Timeout)
	if err != nil {
		return nil, errors.Mark(err, ErrInvalidDefinition)
	}
	overlap, err := job.ParseOverlap(d.Overlap)
	if err != nil {
		return nil, errors.Mark(err, ErrInvalidDefinition)
	}
	fn, err := commandFunc(d.Command, timeout, d.Env)
	if err != nil {
		return nil, errors.Mark(err, ErrInvalidDefinition)
	}

	var j *job.Job
	if d.Name == "" {
		j = job.Anonymous(fn)
	} else {
		j = job.New(d.Name, fn)
	}
	for _, e := range d.Every {
		j.Every(e)
	}
	for _, a := range d.At {
		j.At(a)
	}
	if d.Once {
		j.Once()
	}
	for _, t := range j.Triggers() {
		if err := schedule.ValidateTrigger(t); err != nil {
			return nil, err
		}
	}
	j.After(d.After...)
	if d.Overlap != "" {
		j.Overlap(overlap)
	}
	if d.KeepLast > 0 {
		j.KeepLast(d.KeepLast)
	}
	if d.Deferred {
		j.Defer()
	}
	if d.Disabled {
		j.Disable()
	}
	if err := reg.Register(j); err != nil {
		return nil, err
	}
	l.log.Debug("job loaded", logx.String("job", j.ID()), logx.String("source", d.Source))
	return j, nil
}
