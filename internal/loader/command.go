package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"
	"tonic/internal/job"
)

// maxStderr bounds how much of a failing command's stderr ends up in the error.
const maxStderr = 512

// commandInput is written to the command's stdin as JSON.
type commandInput struct {
	ID      string `json:"id"`
	Parent  string `json:"parent,omitempty"`
	Config  any    `json:"config,omitempty"`
	Last    any    `json:"last,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// commandFunc turns a shell-style command line into a job callback. stdout
// becomes the result: decoded JSON when it parses, trimmed text otherwise.
func commandFunc(line string, timeout time.Duration, env map[string]string) (job.Func, error) {
	argv, err := shellquote.Split(line)
	if err != nil {
		return nil, errors.Wrapf(err, "parse command %q", line)
	}
	if len(argv) == 0 {
		return nil, errors.New("command is empty")
	}
	extra := make([]string, 0, len(env))
	for k, v := range env {
		extra = append(extra, k+"="+v)
	}
	sort.Strings(extra)

	return func(ctx context.Context, c job.Call, done job.Done) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		in, err := json.Marshal(commandInput{ID: c.ID, Parent: c.Parent, Config: c.Config, Last: c.Last, Payload: c.Payload})
		if err != nil {
			return errors.Wrap(err, "encode command input")
		}

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Env = append(os.Environ(), extra...)
		cmd.Stdin = bytes.NewReader(in)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if len(msg) > maxStderr {
				msg = msg[:maxStderr] + "..."
			}
			if ctx.Err() != nil {
				err = errors.CombineErrors(err, ctx.Err())
			}
			if msg != "" {
				return errors.Wrapf(err, "command %s: %s", argv[0], msg)
			}
			return errors.Wrapf(err, "command %s", argv[0])
		}
		done(decodeOutput(stdout.Bytes()))
		return nil
	}, nil
}

func decodeOutput(b []byte) any {
	b = bytes.TrimSpace(b)
	var v any
	if len(b) > 0 && json.Unmarshal(b, &v) == nil {
		return v
	}
	return string(b)
}
