// Package systemd reports service state to systemd via sd_notify.
// Every call is a no-op when the process was not started by systemd.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify states. The zero value notifies the real socket.
type Notifier struct {
	// send is swapped in tests.
	send func(state string) (bool, error)
}

func (n Notifier) notify(state string) (bool, error) {
	if n.send != nil {
		return n.send(state)
	}
	return daemon.SdNotify(false, state)
}

// Ready reports that startup (including schedule initialization) finished.
func (n Notifier) Ready(status string) (bool, error) {
	return n.notify(daemon.SdNotifyReady + "\nSTATUS=" + status)
}

// Reloading reports a config reload in progress.
func (n Notifier) Reloading() (bool, error) {
	return n.notify(daemon.SdNotifyReloading)
}

// Stopping reports that shutdown began.
func (n Notifier) Stopping() (bool, error) {
	return n.notify(daemon.SdNotifyStopping)
}

// Status updates the free-form status line shown by systemctl.
func (n Notifier) Status(format string, args ...any) (bool, error) {
	return n.notify("STATUS=" + fmt.Sprintf(format, args...))
}

// Watchdog pings WATCHDOG=1 at half the configured interval until ctx is done.
// It returns immediately when the unit has no WatchdogSec.
func (n Notifier) Watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := n.notify(daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
