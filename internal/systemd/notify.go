// Package systemd reports service state to systemd through sd_notify.
package systemd

import (
	"context"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends readiness, status and watchdog messages. All methods are
// no-ops when the process was not started by systemd.
type Notifier struct {
	logger *slog.Logger
	notify func(state string) (bool, error)
}

// NewNotifier creates a notifier writing to $NOTIFY_SOCKET.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		logger: logger,
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.logger.Debug("sd_notify failed", "state", state, "error", err)
		return
	}
	if sent {
		n.logger.Debug("sd_notify sent", "state", state)
	}
}

// Ready reports that the service finished starting.
func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

// Stopping reports that shutdown began.
func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(status string) { n.send("STATUS=" + status) }

// RunWatchdog pings the watchdog at half the configured interval until ctx is
// done. It returns immediately when the unit has no WatchdogSec.
func (n *Notifier) RunWatchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	n.logger.Info("systemd watchdog enabled", "interval", interval)
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
