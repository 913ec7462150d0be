package app

import (
	"fmt"
	"strings"

	"tonic/internal/config"
	"tonic/internal/sink"
	"tonic/internal/storage"
)

const (
	defaultCacheName  = "cache"
	defaultRenderName = "render"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Cache == nil {
		return storage.Config{}, false, nil
	}
	cc := cfg.Cache
	driver := strings.ToLower(strings.TrimSpace(cc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(cc.Path)

	switch driver {
	case "file":
		if path == "" {
			path = "./tonic_cache.json"
		}
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("cache.path is required when cache.driver=%s", driver)
		}
		busy, err := config.ParseDurationField("cache.busy_timeout", cc.BusyTimeout)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown cache.driver: %s", cc.Driver)
	}
}

func mapRenderConfig(cfg *config.Config) (sink.RenderConfig, string, bool, error) {
	if cfg == nil || cfg.Render == nil {
		return sink.RenderConfig{}, "", false, nil
	}
	rc := cfg.Render
	interval, err := config.ParseDurationField("render.min_interval", rc.MinInterval)
	if err != nil {
		return sink.RenderConfig{}, "", false, err
	}
	return sink.RenderConfig{
		Template:    strings.TrimSpace(rc.Template),
		Output:      strings.TrimSpace(rc.Output),
		MinInterval: interval,
	}, nameOr(rc.Name, defaultRenderName), true, nil
}

func cacheName(cfg *config.Config) string {
	if cfg == nil || cfg.Cache == nil {
		return defaultCacheName
	}
	return nameOr(cfg.Cache.Name, defaultCacheName)
}

func nameOr(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
