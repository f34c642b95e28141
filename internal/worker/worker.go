// Package worker runs long-lived background actors. Each worker owns its
// state exclusively and is driven by a ticker plus a control channel; the
// only way to reach it is through its Handle.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shouya/fondbot/internal/clock"
)

// ErrWorkerDead is returned when signalling a worker that has exited.
var ErrWorkerDead = errors.New("worker: dead")

// Signal is a control message for a worker.
type Signal int

const (
	// Ping only checks liveness.
	Ping Signal = iota
	// ForceReport asks for a report even without new data.
	ForceReport
	// Snapshot asks for a copy of the worker state.
	Snapshot
	// Quit stops the worker without a final report.
	Quit
)

func (s Signal) String() string {
	switch s {
	case Ping:
		return "ping"
	case ForceReport:
		return "force_report"
	case Snapshot:
		return "snapshot"
	case Quit:
		return "quit"
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

// Behavior is the work a worker performs. All methods are called from the
// worker goroutine, except Init which runs synchronously in Pool.Start.
type Behavior[S any] interface {
	// Init performs the first fetch. An error aborts the start.
	Init(ctx context.Context) error

	// Tick fetches, compares and reports. done ends the worker; the final
	// report must already have been sent. A returned error is logged and the
	// worker keeps running.
	Tick(ctx context.Context) (done bool, err error)

	// Report sends the current state. force reports even when nothing is new.
	Report(ctx context.Context, force bool) error

	// Snapshot returns a copy of the state that is safe to hand to another
	// goroutine.
	Snapshot() S
}

type command struct {
	sig   Signal
	reply chan any
}

// Handle is the only reference to a running worker.
type Handle[S any] struct {
	id   string
	cmds chan command
	done chan struct{}
}

// ID returns the key the worker was started under.
func (h *Handle[S]) ID() string { return h.id }

// Done is closed when the worker has exited.
func (h *Handle[S]) Done() <-chan struct{} { return h.done }

// Alive reports whether the worker is still running, without blocking.
func (h *Handle[S]) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Send delivers sig and waits for the worker to acknowledge it. Quit is
// acknowledged by the worker exiting.
func (h *Handle[S]) Send(ctx context.Context, sig Signal) (any, error) {
	cmd := command{sig: sig, reply: make(chan any, 1)}
	select {
	case h.cmds <- cmd:
	case <-h.done:
		return nil, ErrWorkerDead
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if sig == Quit {
		select {
		case <-h.done:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	select {
	case v := <-cmd.reply:
		return v, nil
	case <-h.done:
		return nil, ErrWorkerDead
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping probes liveness. It returns ErrWorkerDead once the worker has exited.
func (h *Handle[S]) Ping(ctx context.Context) error {
	_, err := h.Send(ctx, Ping)
	return err
}

// Snapshot fetches a copy of the worker state.
func (h *Handle[S]) Snapshot(ctx context.Context) (S, error) {
	var zero S
	v, err := h.Send(ctx, Snapshot)
	if err != nil {
		return zero, err
	}
	s, ok := v.(S)
	if !ok {
		return zero, fmt.Errorf("worker %s: unexpected snapshot type %T", h.id, v)
	}
	return s, nil
}

// ForceReport asks the worker to report its current state.
func (h *Handle[S]) ForceReport(ctx context.Context) error {
	v, err := h.Send(ctx, ForceReport)
	if err != nil {
		return err
	}
	if rerr, ok := v.(error); ok {
		return rerr
	}
	return nil
}

// Quit stops the worker and waits for it to exit. Quitting a dead worker is
// not an error.
func (h *Handle[S]) Quit(ctx context.Context) error {
	_, err := h.Send(ctx, Quit)
	if errors.Is(err, ErrWorkerDead) {
		return nil
	}
	return err
}

type runner[S any] struct {
	pool     string
	handle   *Handle[S]
	behavior Behavior[S]
	ticker   clock.Ticker
	logger   *zap.Logger
}

func (r *runner[S]) run(ctx context.Context) {
	defer close(r.handle.done)

	defer r.ticker.Stop()

	reason := "quit"
	defer func() {
		metricExits.WithLabelValues(r.pool, reason).Inc()
		metricActive.WithLabelValues(r.pool).Dec()
		r.logger.Info("Worker exited", zap.String("reason", reason))
	}()

	for {
		select {
		case <-ctx.Done():
			reason = "cancelled"
			return

		case cmd, ok := <-r.handle.cmds:
			if !ok {
				reason = "closed"
				return
			}
			if r.apply(ctx, cmd) {
				return
			}

		case <-r.ticker.C():
			done, err := r.behavior.Tick(ctx)
			if err != nil {
				metricTicks.WithLabelValues(r.pool, "error").Inc()
				r.logger.Warn("Worker tick failed", zap.Error(err))
				continue
			}
			metricTicks.WithLabelValues(r.pool, "ok").Inc()
			if done {
				reason = "done"
				return
			}
		}
	}
}

// apply applies one control signal and reports whether the worker must exit.
func (r *runner[S]) apply(ctx context.Context, cmd command) bool {
	switch cmd.sig {
	case Ping:
		cmd.reply <- struct{}{}
	case ForceReport:
		err := r.behavior.Report(ctx, true)
		if err != nil {
			r.logger.Warn("Forced report failed", zap.Error(err))
			cmd.reply <- err
			return false
		}
		cmd.reply <- struct{}{}
	case Snapshot:
		cmd.reply <- r.behavior.Snapshot()
	case Quit:
		return true
	default:
		r.logger.Warn("Ignoring unknown signal", zap.Stringer("signal", cmd.sig))
		cmd.reply <- struct{}{}
	}
	return false
}
