// Package schedule turns human schedule text into triggers.
//
// Supported forms:
//   - "once": fire a single time when the job starts
//   - shorthand interval "<N><unit>": "10s", "10 sec", "5 minutes", "2h", "3 days"
//   - anything else: a cron expression passed through verbatim ("*/5 * * * *", "@hourly")
//
// Fixed daily times ("07:30") are attached through At and compiled to a daily
// cron spec by CronSpec.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule marks a cron expression rejected by the parser.
var ErrInvalidSchedule = errors.New("invalid schedule")

type Kind int

const (
	Once Kind = iota
	Recurring
	At
)

func (k Kind) String() string {
	switch k {
	case Once:
		return "once"
	case Recurring:
		return "every"
	case At:
		return "at"
	default:
		return "unknown"
	}
}

// Trigger is one timing rule of a job.
type Trigger struct {
	Kind Kind
	// Expr is the compiled cron expression (Recurring) or the literal text (At).
	Expr string
	// Source is the text the trigger was built from.
	Source string
}

func (t Trigger) String() string {
	if t.Kind == Once {
		return "once"
	}
	return t.Kind.String() + " " + t.Expr
}

// unit letters and the cron template each one compiles to. Seconds need the
// 6-field form; everything coarser uses 5 fields.
var units = map[byte]string{
	's': "*/%d * * * * *",
	'm': "*/%d * * * *",
	'h': "0 */%d * * *",
	'd': "0 0 */%d * *",
}

// Compile translates schedule text into a trigger. It never fails: text that
// is not "once" and not a recognizable shorthand is kept as a raw expression.
func Compile(text string) Trigger {
	src := text
	s := strings.TrimSpace(text)
	if strings.EqualFold(s, "once") {
		return Trigger{Kind: Once, Source: src}
	}

	lower := strings.ToLower(s)
	idx := strings.IndexAny(lower, "smhd")
	if idx > 0 {
		n, err := strconv.Atoi(strings.TrimSpace(lower[:idx]))
		if err == nil && n > 0 {
			return Trigger{Kind: Recurring, Expr: fmt.Sprintf(units[lower[idx]], n), Source: src}
		}
	}
	return Trigger{Kind: Recurring, Expr: s, Source: src}
}

// AtTime keeps text verbatim as a fixed-time trigger.
func AtTime(text string) Trigger {
	return Trigger{Kind: At, Expr: strings.TrimSpace(text), Source: text}
}

var reHHMM = regexp.MustCompile(`^\d{1,2}:\d{2}$`)

// CronSpec returns the cron expression to install for t. Once triggers have
// no cron spec.
func CronSpec(t Trigger) (string, error) {
	switch t.Kind {
	case Recurring:
		return t.Expr, nil
	case At:
		if reHHMM.MatchString(t.Expr) {
			h, m, err := parseHHMM(t.Expr)
			if err != nil {
				return "", errors.Mark(errors.Wrapf(err, "at %q", t.Expr), ErrInvalidSchedule)
			}
			return fmt.Sprintf("%d %d * * *", m, h), nil
		}
		return t.Expr, nil
	default:
		return "", errors.Newf("trigger %s has no cron spec", t.Kind)
	}
}

// Parser accepts both 5-field and 6-field (with seconds) specs plus descriptors.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether expr is an installable cron expression.
func Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return errors.WithHint(errors.Mark(errors.New("empty cron expression"), ErrInvalidSchedule),
			`use "once", a shorthand like "10m", or a cron expression`)
	}
	if _, err := Parser.Parse(expr); err != nil {
		return errors.Mark(errors.Wrapf(err, "cron %q", expr), ErrInvalidSchedule)
	}
	return nil
}

// ValidateTrigger checks the cron spec a trigger would install.
func ValidateTrigger(t Trigger) error {
	if t.Kind == Once {
		return nil
	}
	spec, err := CronSpec(t)
	if err != nil {
		return err
	}
	return Validate(spec)
}

// Next returns up to n upcoming fire times of expr after from.
func Next(expr string, from time.Time, n int) ([]time.Time, error) {
	sched, err := Parser.Parse(expr)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "cron %q", expr), ErrInvalidSchedule)
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
