// Package syncer keeps view models fresh. Each watched key owns one task
// that folds two trigger sources, a fixed-period ticker and push "dirty"
// signals from the ledger's change subscription, into serialized calls of
// one idempotent refresh function. Refresh means "fetch latest, replace
// view model", so dropping redundant intermediate triggers is safe: the
// view converges on the most recently completed read either way.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"MarginView/internal/observability"
)

// DefaultInterval is the polling period when none is configured.
const DefaultInterval = 5 * time.Second

// Trigger records what caused a refresh, for logs and metrics only.
type Trigger string

const (
	TriggerStart  Trigger = "start"
	TriggerTick   Trigger = "tick"
	TriggerPush   Trigger = "push"
	TriggerManual Trigger = "manual"
)

// RefreshFunc fetches the latest ledger state for one key and replaces its
// view model. Errors are the view's business (stored as last-error there);
// the task only counts them and waits for the next trigger. No backoff,
// no faster retry.
type RefreshFunc func(ctx context.Context) error

type task struct {
	key    string
	kind   string
	refresh RefreshFunc

	// dirty has capacity 1: triggers landing while a refresh is in flight
	// coalesce into at most one follow-up refresh.
	dirty  chan Trigger
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns the watch tasks, keyed by account identity. It is
// constructed and torn down by whoever owns the views' lifetime; there is
// no process-wide instance.
type Registry struct {
	interval time.Duration
	log      zerolog.Logger
	metrics  *observability.Metrics

	mu    sync.Mutex
	tasks map[string]*task
}

func NewRegistry(interval time.Duration, log zerolog.Logger, metrics *observability.Metrics) *Registry {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Registry{
		interval: interval,
		log:      log,
		metrics:  metrics,
		tasks:    make(map[string]*task),
	}
}

// Watch starts the refresh task for key and reports whether it did. If the
// key is already watched, refresh is discarded, started is false and stop is
// a no-op; the task belongs to whoever started it. The returned stop function
// drops the task; an in-flight refresh is not aborted, its result is simply
// discarded by whoever no longer reads the view.
func (r *Registry) Watch(ctx context.Context, key, kind string, refresh RefreshFunc) (stop func(), started bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// One task per key; the first caller owns its lifetime. A losing
	// caller gets a no-op stop so it cannot tear down a task it does
	// not own, and started=false to tell it the refresh func was not
	// installed.
	if _, ok := r.tasks[key]; ok {
		return func() {}, false
	}

	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{
		key:     key,
		kind:    kind,
		refresh: refresh,
		dirty:   make(chan Trigger, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.tasks[key] = t
	if r.metrics != nil {
		r.metrics.Watchers.Inc()
	}

	go r.run(taskCtx, t)
	return r.stopFunc(t), true
}

func (r *Registry) stopFunc(t *task) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			t.cancel()
			<-t.done

			r.mu.Lock()
			if r.tasks[t.key] == t {
				delete(r.tasks, t.key)
			}
			r.mu.Unlock()
			if r.metrics != nil {
				r.metrics.Watchers.Dec()
			}
		})
	}
}

// MarkDirty requests an out-of-band refresh for key, typically from the
// ledger's account-change push. Unknown keys are ignored (the push and the
// watch lifecycle race harmlessly); a full dirty channel means a refresh is
// already pending and the signal is absorbed.
func (r *Registry) MarkDirty(key string, trigger Trigger) {
	r.mu.Lock()
	t, ok := r.tasks[key]
	r.mu.Unlock()
	if !ok {
		return
	}

	select {
	case t.dirty <- trigger:
	default:
		if r.metrics != nil {
			r.metrics.RefreshCoalesced.WithLabelValues(t.kind).Inc()
		}
	}
}

// Len reports the number of running watch tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *Registry) run(ctx context.Context, t *task) {
	defer close(t.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.doRefresh(ctx, t, TriggerStart)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.doRefresh(ctx, t, TriggerTick)
		case trigger := <-t.dirty:
			r.doRefresh(ctx, t, trigger)
		}
	}
}

func (r *Registry) doRefresh(ctx context.Context, t *task, trigger Trigger) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := t.refresh(ctx)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		r.log.Warn().
			Err(err).
			Str("key", t.key).
			Str("kind", t.kind).
			Str("trigger", string(trigger)).
			Msg("refresh failed")
	}
	if r.metrics != nil {
		r.metrics.RefreshTotal.WithLabelValues(t.kind, string(trigger), outcome).Inc()
		r.metrics.RefreshDuration.WithLabelValues(t.kind).Observe(time.Since(start).Seconds())
	}
}
