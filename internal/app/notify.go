package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	logx "tonic/pkg/logx"
)

func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func notifyReady(log logx.Logger)    { sdNotify(log, daemon.SdNotifyReady) }
func notifyStopping(log logx.Logger) { sdNotify(log, daemon.SdNotifyStopping) }

// watchdog pings systemd at half the WatchdogSec interval. It returns at once
// when the unit has no watchdog.
func (a *App) watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog check failed", logx.Err(err))
		return nil
	}
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				a.log.Warn("watchdog ping failed", logx.Err(err))
			}
		}
	}
}
