package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"tonic/internal/schedule"
	logx "tonic/pkg/logx"
)

// Add installs fire on the cron spec and returns the entry id for Remove.
// The expression is validated synchronously, so an invalid expression is reported
// here even when the service is not started yet.
func (s *Service) Add(name, spec string, fire func()) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("timer name required")
	}
	if fire == nil {
		return "", errors.Newf("timer %q: nil func", name)
	}
	spec = strings.TrimSpace(spec)
	if _, err := s.parser.Parse(spec); err != nil {
		return "", errors.Mark(errors.Wrapf(err, "timer %q spec %q", name, spec), schedule.ErrInvalidSchedule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := "timer:" + strconv.FormatUint(s.seq, 10)
	s.defs = append(s.defs, entryDef{id: id, name: name, spec: spec, fire: fire})
	if s.c == nil {
		return id, nil
	}
	if err := s.addCronLocked(&s.defs[len(s.defs)-1]); err != nil {
		s.defs = s.defs[:len(s.defs)-1]
		return "", err
	}
	args := []logx.Field{logx.String("name", name), logx.String("id", id), logx.String("spec", spec)}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("timer registered", args...)
	return id, nil
}

// Remove unregisters the entry with the given id. It reports whether
// something was removed.
func (s *Service) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.defs {
		if s.defs[i].id != id {
			continue
		}
		if s.c != nil && s.defs[i].entryID != 0 {
			s.c.Remove(s.defs[i].entryID)
		}
		s.log.Debug("timer removed", logx.String("name", s.defs[i].name), logx.String("id", id))
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

// Len returns the number of stored definitions.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.defs)
}

func (s *Service) addCronLocked(d *entryDef) error {
	fire := d.fire
	eid, err := s.c.AddFunc(d.spec, fire)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "timer %q", d.name), schedule.ErrInvalidSchedule)
	}
	d.entryID = eid
	return nil
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", loc.String()), logx.Int("timers", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewNextRunsLocked lists upcoming fire times for debug logs.
// Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	next, err := schedule.Next(spec, time.Now().In(loc), n)
	if err != nil {
		return ""
	}
	parts := make([]string, 0, len(next))
	for _, t := range next {
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}
