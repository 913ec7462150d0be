package loader

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// StringList accepts either a single string or a list of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.Newf("expected a string or a list of strings, got %s", b)
	}
	*l = many
	return nil
}

// Definition is one entry of a job file.
type Definition struct {
	Name     string            `json:"name,omitempty"`
	Every    StringList        `json:"every,omitempty"`
	At       StringList        `json:"at,omitempty"`
	Once     bool              `json:"once,omitempty"`
	After    StringList        `json:"after,omitempty"`
	Disabled bool              `json:"disabled,omitempty"`
	Deferred bool              `json:"deferred,omitempty"`
	Overlap  string            `json:"overlap,omitempty"`
	KeepLast int               `json:"keep_last,omitempty"`
	Command  string            `json:"command"`
	Timeout  string            `json:"timeout,omitempty"`
	Env      map[string]string `json:"env,omitempty"`

	// Source is the file the definition came from.
	Source string `json:"-"`
}

// Label names the definition in errors and logs.
func (d Definition) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return "<anonymous>"
}

type document struct {
	Jobs []Definition `json:"jobs"`
}
