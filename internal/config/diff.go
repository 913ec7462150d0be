package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tonic/pkg/logx"
)

// Restart-only sections. The daemon warns when one of these changes.
var restartSections = map[string]bool{"cache": true, "render": true, "jobs": true, "context": true}

// RequiresRestart reports whether any changed section cannot be applied live.
func RequiresRestart(sections []string) bool {
	for _, s := range sections {
		if restartSections[s] {
			return true
		}
	}
	return false
}

// SummarizeChange returns the sorted list of changed sections and log fields
// describing the new values.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) ||
		!strings.EqualFold(strings.TrimSpace(oldCfg.Scheduler.Overlap), strings.TrimSpace(newCfg.Scheduler.Overlap)) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.overlap", strings.TrimSpace(newCfg.Scheduler.Overlap)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Jobs.Dirs, newCfg.Jobs.Dirs) {
		changed = append(changed, "jobs")
		attrs = append(attrs, logx.Strs("jobs.dirs", newCfg.Jobs.Dirs))
	}

	// Nil means disabled.
	var oCache, nCache CacheConfig
	if oldCfg.Cache != nil {
		oCache = *oldCfg.Cache
	}
	if newCfg.Cache != nil {
		nCache = *newCfg.Cache
	}
	if (oldCfg.Cache == nil) != (newCfg.Cache == nil) || oCache != nCache {
		changed = append(changed, "cache")
		attrs = append(attrs,
			logx.Bool("cache.enabled", newCfg.Cache != nil),
			logx.String("cache.driver", strings.TrimSpace(nCache.Driver)),
			logx.Bool("cache.path_set", strings.TrimSpace(nCache.Path) != ""),
		)
	}

	var oRender, nRender RenderConfig
	if oldCfg.Render != nil {
		oRender = *oldCfg.Render
	}
	if newCfg.Render != nil {
		nRender = *newCfg.Render
	}
	if (oldCfg.Render == nil) != (newCfg.Render == nil) || oRender != nRender {
		changed = append(changed, "render")
		attrs = append(attrs,
			logx.Bool("render.enabled", newCfg.Render != nil),
			logx.String("render.output", strings.TrimSpace(nRender.Output)),
			logx.String("render.min_interval", strings.TrimSpace(nRender.MinInterval)),
		)
	}

	// Context may hold secrets; log only that it changed.
	if canonicalHashJSON(oldCfg.Context) != canonicalHashJSON(newCfg.Context) {
		changed = append(changed, "context")
		attrs = append(attrs, logx.Bool("context.set", len(newCfg.Context) > 0))
	}

	sort.Strings(changed)
	return changed, attrs
}
