package service

import (
	"sync"

	"github.com/abtreece/propsort/pkg/log"
)

// ReloadManager fans a reload request out to every subscriber.
type ReloadManager struct {
	mu          sync.Mutex
	subscribers []chan struct{}
}

// NewReloadManager returns a ReloadManager with no subscribers.
func NewReloadManager() *ReloadManager {
	return &ReloadManager{}
}

// Subscribe returns a channel that is closed by the next Trigger. Each
// channel fires once; subscribe again to hear about later reloads.
func (r *ReloadManager) Subscribe() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.subscribers = append(r.subscribers, ch)
	return ch
}

// Trigger closes every pending subscription.
func (r *ReloadManager) Trigger() {
	r.mu.Lock()
	subs := r.subscribers
	r.subscribers = nil
	r.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
	log.Info("Reload requested, notified %d subscriber(s)", len(subs))
}
