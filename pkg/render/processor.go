package render

import (
	"context"
	"fmt"
	"time"

	"github.com/abtreece/propsort/pkg/log"
)

// Processor keeps a Resource in sync until its context is done.
type Processor interface {
	Process(ctx context.Context) error
}

// Reloader hands out one-shot reload notifications, such as
// *service.ReloadManager.
type Reloader interface {
	Subscribe() <-chan struct{}
}

// Options tune the long-running processors.
type Options struct {
	// Reloads forces an immediate sync when it fires. May be nil.
	Reloads Reloader
	// OnFirstSync runs once after the first sync, successful or not.
	OnFirstSync func()
	// OnReload runs before each forced sync.
	OnReload func()
	// ErrorBackoff is the pause after a failed watch. Defaults to 2s.
	ErrorBackoff time.Duration
}

func (o Options) reloads() <-chan struct{} {
	if o.Reloads == nil {
		return nil
	}
	return o.Reloads.Subscribe()
}

func (o Options) firstSync() {
	if o.OnFirstSync != nil {
		o.OnFirstSync()
	}
}

func (o Options) reload() {
	log.Info("Reload requested, syncing now")
	if o.OnReload != nil {
		o.OnReload()
	}
}

// Once syncs r a single time.
func Once(ctx context.Context, r *Resource) error {
	return r.Sync(ctx)
}

type intervalProcessor struct {
	resource *Resource
	interval time.Duration
	opts     Options
}

// IntervalProcessor syncs every interval.
func IntervalProcessor(r *Resource, interval time.Duration, opts Options) Processor {
	return &intervalProcessor{resource: r, interval: interval, opts: opts}
}

func (p *intervalProcessor) Process(ctx context.Context) error {
	if p.interval <= 0 {
		return fmt.Errorf("invalid interval %v", p.interval)
	}
	first := true
	// One subscription is held at a time and renewed only after it fires.
	reload := p.opts.reloads()
	for {
		if err := p.resource.Sync(ctx); err != nil {
			log.Error("%v", err)
		}
		if first {
			p.opts.firstSync()
			first = false
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Debug("Context cancelled, stopping interval processor")
			return nil
		case <-reload:
			timer.Stop()
			reload = p.opts.reloads()
			p.opts.reload()
		case <-timer.C:
		}
	}
}

type watchProcessor struct {
	resource *Resource
	opts     Options
}

// WatchProcessor syncs once and then again after every change the source
// reports below the resource's prefix.
func WatchProcessor(r *Resource, opts Options) Processor {
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 2 * time.Second
	}
	return &watchProcessor{resource: r, opts: opts}
}

type watchResult struct {
	index uint64
	err   error
}

func (p *watchProcessor) Process(ctx context.Context) error {
	src := p.resource.config.Source
	prefix := p.resource.config.Prefix
	keys := p.resource.WatchKeys()

	if err := p.resource.Sync(ctx); err != nil {
		log.Error("%v", err)
	}
	p.opts.firstSync()

	var lastIndex uint64
	reload := p.opts.reloads()
	for {
		stop := make(chan bool)
		results := make(chan watchResult, 1)
		go func(waitIndex uint64) {
			index, err := src.WatchPrefix(ctx, prefix, keys, waitIndex, stop)
			results <- watchResult{index, err}
		}(lastIndex)

		var res watchResult
		select {
		case <-ctx.Done():
			close(stop)
			<-results
			log.Debug("Context cancelled, stopping watch on %s", prefix)
			return nil
		case <-reload:
			close(stop)
			<-results
			reload = p.opts.reloads()
			p.opts.reload()
			if err := p.resource.Sync(ctx); err != nil {
				log.Error("%v", err)
			}
			continue
		case res = <-results:
		}

		if res.err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("Watch on %s failed: %v", prefix, res.err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.opts.ErrorBackoff):
			}
			continue
		}

		// The first answer only establishes the index to wait on; the
		// initial sync above already covered it. An unchanged index is a
		// timed-out blocking query.
		prev := lastIndex
		lastIndex = res.index
		if prev == 0 || res.index == prev {
			continue
		}
		log.Debug("Change detected below %s (index %d)", prefix, res.index)
		if err := p.resource.Sync(ctx); err != nil {
			log.Error("%v", err)
		}
	}
}
