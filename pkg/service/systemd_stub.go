//go:build !linux

// Package service holds process lifecycle helpers: systemd notification,
// SIGHUP re-sync fan-out and graceful shutdown.
package service

import (
	"context"
	"time"
)

// SystemdNotifier is a no-op outside Linux.
type SystemdNotifier struct{}

// NewSystemdNotifier returns a no-op notifier.
func NewSystemdNotifier(enabled bool, watchdogInterval time.Duration) *SystemdNotifier {
	return &SystemdNotifier{}
}

func (s *SystemdNotifier) NotifyReady() error     { return nil }
func (s *SystemdNotifier) NotifyReloading() error { return nil }
func (s *SystemdNotifier) NotifyStopping() error  { return nil }

func (s *SystemdNotifier) StartWatchdog(ctx context.Context) {}
