//go:build linux

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/go-cmp/cmp"
)

type recorder struct {
	mu     sync.Mutex
	states []string
	err    error
}

func (r *recorder) notify(unsetEnv bool, state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, r.err
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func TestSystemdNotifier_States(t *testing.T) {
	rec := &recorder{}
	s := NewSystemdNotifier(true, 0)
	s.notify = rec.notify

	s.NotifyReady()
	s.NotifyReloading()
	s.NotifyStopping()

	want := []string{daemon.SdNotifyReady, daemon.SdNotifyReloading, daemon.SdNotifyStopping}
	if diff := cmp.Diff(want, rec.got()); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
}

func TestSystemdNotifier_Disabled(t *testing.T) {
	rec := &recorder{}
	s := NewSystemdNotifier(false, time.Millisecond)
	s.notify = rec.notify

	if err := s.NotifyReady(); err != nil {
		t.Errorf("NotifyReady() error: %v", err)
	}
	s.StartWatchdog(context.Background())
	time.Sleep(10 * time.Millisecond)
	if n := len(rec.got()); n != 0 {
		t.Errorf("disabled notifier sent %d notifications", n)
	}
}

func TestSystemdNotifier_Error(t *testing.T) {
	rec := &recorder{err: errors.New("socket gone")}
	s := NewSystemdNotifier(true, 0)
	s.notify = rec.notify

	if err := s.NotifyReady(); err == nil {
		t.Error("NotifyReady() expected error")
	}
}

func TestSystemdNotifier_Watchdog(t *testing.T) {
	rec := &recorder{}
	s := NewSystemdNotifier(true, 5*time.Millisecond)
	s.notify = rec.notify

	ctx, cancel := context.WithCancel(context.Background())
	s.StartWatchdog(ctx)

	deadline := time.After(2 * time.Second)
	for len(rec.got()) < 2 {
		select {
		case <-deadline:
			t.Fatal("watchdog did not ping")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	for _, st := range rec.got() {
		if st != daemon.SdNotifyWatchdog {
			t.Errorf("unexpected state %q", st)
		}
	}
}
