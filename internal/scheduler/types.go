package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	logx "tonic/pkg/logx"
)

// Config controls the timer host.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means Local
}

type entryDef struct {
	id      string
	name    string
	spec    string
	fire    func()
	entryID cron.EntryID
}

// Service owns one cron instance and the timer definitions installed on it.
// Definitions survive Stop so a later Start re-registers them.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []entryDef
	seq    uint64
}

type EntryInfo struct {
	ID   string
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Snapshot struct {
	Running  bool
	Timezone string
	Entries  []EntryInfo
}
