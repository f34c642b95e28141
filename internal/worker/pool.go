package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shouya/fondbot/internal/clock"
)

// DefaultPingTimeout bounds how long Cleanup and Snapshots wait on a busy
// worker before moving on.
const DefaultPingTimeout = 5 * time.Second

// Config parameterizes a Pool.
type Config struct {
	// Name labels the pool in logs and metrics.
	Name string

	// Interval is the tick period of every worker in the pool.
	Interval time.Duration

	Clock  clock.Clock
	Logger *zap.Logger

	// PingTimeout overrides DefaultPingTimeout.
	PingTimeout time.Duration
}

// Pool keeps one worker per id.
type Pool[S any] struct {
	name        string
	interval    time.Duration
	clock       clock.Clock
	logger      *zap.Logger
	pingTimeout time.Duration

	mu      sync.Mutex
	workers map[string]*Handle[S]
}

// NewPool creates an empty pool.
func NewPool[S any](cfg Config) *Pool[S] {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}
	return &Pool[S]{
		name:        cfg.Name,
		interval:    cfg.Interval,
		clock:       cfg.Clock,
		logger:      cfg.Logger.Named("worker").With(zap.String("pool", cfg.Name)),
		pingTimeout: cfg.PingTimeout,
		workers:     make(map[string]*Handle[S]),
	}
}

// Start launches a worker for id. A worker already running under the same id
// is quit first, and Start waits for it to exit. b.Init runs before the
// goroutine is spawned; if it fails no worker is registered. The worker
// lives until it finishes, is quit, or ctx is cancelled.
func (p *Pool[S]) Start(ctx context.Context, id string, b Behavior[S]) (*Handle[S], error) {
	p.mu.Lock()
	old, exists := p.workers[id]
	delete(p.workers, id)
	p.mu.Unlock()

	if exists {
		p.logger.Info("Replacing worker", zap.String("id", id))
		if err := old.Quit(ctx); err != nil {
			return nil, fmt.Errorf("failed to quit previous worker %s: %w", id, err)
		}
	}

	if err := b.Init(ctx); err != nil {
		metricStarts.WithLabelValues(p.name, "error").Inc()
		return nil, fmt.Errorf("failed to initialize worker %s: %w", id, err)
	}

	h := &Handle[S]{
		id:   id,
		cmds: make(chan command),
		done: make(chan struct{}),
	}
	// The ticker exists before Start returns so that no tick is missed.
	r := &runner[S]{
		pool:     p.name,
		handle:   h,
		behavior: b,
		ticker:   p.clock.NewTicker(p.interval),
		logger:   p.logger.With(zap.String("id", id)),
	}

	metricStarts.WithLabelValues(p.name, "ok").Inc()
	metricActive.WithLabelValues(p.name).Inc()
	go r.run(ctx)

	p.mu.Lock()
	p.workers[id] = h
	p.mu.Unlock()

	p.logger.Info("Worker started", zap.String("id", id), zap.Duration("interval", p.interval))
	return h, nil
}

// Get returns the handle registered under id, alive or not.
func (p *Pool[S]) Get(id string) (*Handle[S], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.workers[id]
	return h, ok
}

// IDs returns the registered ids in sorted order.
func (p *Pool[S]) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.workers))
	for id := range p.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered workers, including dead ones not yet
// cleaned up.
func (p *Pool[S]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Stop quits and unregisters the worker for id. It reports whether the id
// was registered.
func (p *Pool[S]) Stop(ctx context.Context, id string) (bool, error) {
	p.mu.Lock()
	h, ok := p.workers[id]
	delete(p.workers, id)
	p.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, h.Quit(ctx)
}

func (p *Pool[S]) handles() []*Handle[S] {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Handle[S], 0, len(p.workers))
	for _, h := range p.workers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Cleanup pings every worker and unregisters the ones that have exited. It
// returns how many were removed. A worker too busy to answer in time is kept.
func (p *Pool[S]) Cleanup(ctx context.Context) int {
	removed := 0
	for _, h := range p.handles() {
		pctx, cancel := context.WithTimeout(ctx, p.pingTimeout)
		err := h.Ping(pctx)
		cancel()
		if !errors.Is(err, ErrWorkerDead) {
			continue
		}

		p.mu.Lock()
		if p.workers[h.id] == h {
			delete(p.workers, h.id)
			removed++
		}
		p.mu.Unlock()
	}
	if removed > 0 {
		p.logger.Info("Removed dead workers", zap.Int("removed", removed))
	}
	return removed
}

// Snapshots collects the state of every live worker, keyed by id.
func (p *Pool[S]) Snapshots(ctx context.Context) map[string]S {
	out := make(map[string]S)
	for _, h := range p.handles() {
		sctx, cancel := context.WithTimeout(ctx, p.pingTimeout)
		s, err := h.Snapshot(sctx)
		cancel()
		if err != nil {
			if !errors.Is(err, ErrWorkerDead) {
				p.logger.Warn("Failed to snapshot worker", zap.String("id", h.id), zap.Error(err))
			}
			continue
		}
		out[h.id] = s
	}
	return out
}

// StopAll quits every worker and empties the pool.
func (p *Pool[S]) StopAll(ctx context.Context) {
	p.mu.Lock()
	handles := p.workers
	p.workers = make(map[string]*Handle[S])
	p.mu.Unlock()

	for id, h := range handles {
		if err := h.Quit(ctx); err != nil {
			p.logger.Warn("Failed to quit worker", zap.String("id", id), zap.Error(err))
		}
	}
}
