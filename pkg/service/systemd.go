//go:build linux

// Package service holds process lifecycle helpers: systemd notification,
// SIGHUP re-sync fan-out and graceful shutdown.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/abtreece/propsort/pkg/log"
)

// SystemdNotifier speaks the sd_notify protocol. It does nothing when
// disabled or when NOTIFY_SOCKET is unset.
type SystemdNotifier struct {
	enabled          bool
	watchdogInterval time.Duration
	notify           func(unsetEnv bool, state string) (bool, error)
}

// NewSystemdNotifier returns a notifier. A zero watchdogInterval disables
// watchdog pings.
func NewSystemdNotifier(enabled bool, watchdogInterval time.Duration) *SystemdNotifier {
	return &SystemdNotifier{
		enabled:          enabled,
		watchdogInterval: watchdogInterval,
		notify:           daemon.SdNotify,
	}
}

func (s *SystemdNotifier) send(state, name string) error {
	if !s.enabled {
		return nil
	}
	sent, err := s.notify(false, state)
	if err != nil {
		return fmt.Errorf("failed to notify systemd (%s): %w", name, err)
	}
	if sent {
		log.Debug("Notified systemd: %s", state)
	}
	return nil
}

// NotifyReady reports that the first sync finished.
func (s *SystemdNotifier) NotifyReady() error {
	return s.send(daemon.SdNotifyReady, "ready")
}

// NotifyReloading reports a SIGHUP re-sync in progress.
func (s *SystemdNotifier) NotifyReloading() error {
	return s.send(daemon.SdNotifyReloading, "reloading")
}

// NotifyStopping reports that shutdown has begun.
func (s *SystemdNotifier) NotifyStopping() error {
	return s.send(daemon.SdNotifyStopping, "stopping")
}

// StartWatchdog pings systemd every watchdogInterval until ctx is done.
func (s *SystemdNotifier) StartWatchdog(ctx context.Context) {
	if !s.enabled || s.watchdogInterval <= 0 {
		return
	}
	log.Info("Starting systemd watchdog (interval: %v)", s.watchdogInterval)

	go func() {
		ticker := time.NewTicker(s.watchdogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.send(daemon.SdNotifyWatchdog, "watchdog"); err != nil {
					log.Error("%v", err)
				}
			}
		}
	}()
}
