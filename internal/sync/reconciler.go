// Package sync owns the poll/merge cycle that keeps the local cache
// consistent with the messaging daemon's inbox.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/pchat/pchat/internal/bus"
	"github.com/pchat/pchat/internal/daemon"
	"github.com/pchat/pchat/internal/status"
	"github.com/pchat/pchat/internal/store"
	"go.uber.org/zap"
)

// Daemon is the subset of the daemon client the reconciler depends on.
type Daemon interface {
	IsAlive(ctx context.Context) bool
	PollInbox(ctx context.Context) ([]daemon.Message, error)
}

// Reconciler runs the recurring poll cycle: probe the daemon, pull the
// inbox, merge into the stores, and track reachability on the state machine.
// No failure terminates the loop; every cycle starts from scratch.
type Reconciler struct {
	db       *store.DB
	client   Daemon
	machine  *status.Machine
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewReconciler creates a reconciler polling at the given interval.
func NewReconciler(db *store.DB, client Daemon, machine *status.Machine, b *bus.Bus, logger *zap.Logger, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reconciler{
		db:       db,
		client:   client,
		machine:  machine,
		bus:      b,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the poll loop. Only one poll is ever in flight: the loop is a
// single goroutine, and ticks that arrive while a cycle is still running are
// dropped by the ticker, which is exactly the skip-when-busy behavior we want.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx)
}

// Stop cancels pending ticks and waits for the loop to exit. An in-flight
// cycle runs to completion because each cycle uses its own context, detached
// from the loop's; no new cycle starts after Stop returns.
func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)

	r.PollOnce(context.Background())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// A tick buffered during an in-flight cycle can be ready at the
			// same time as cancellation; the cancelled context must win or a
			// successor cycle starts after Stop.
			if ctx.Err() != nil {
				return
			}
			r.PollOnce(context.Background())
		case <-ctx.Done():
			return
		}
	}
}

// PollOnce runs a single poll cycle and records the outcome on the state
// machine. A failed probe means offline; an error after a successful probe
// (malformed payload or a store failure during merge) means error.
func (r *Reconciler) PollOnce(ctx context.Context) {
	if !r.client.IsAlive(ctx) {
		r.machine.MarkOffline()
		return
	}

	batch, err := r.client.PollInbox(ctx)
	if err != nil {
		var unreachable *daemon.UnreachableError
		if errors.As(err, &unreachable) {
			r.machine.MarkOffline()
		} else {
			r.machine.MarkError(err.Error())
		}
		if r.logger != nil {
			r.logger.Warn("inbox poll failed", zap.Error(err))
		}
		return
	}

	res, err := r.Merge(batch)
	if err != nil {
		r.machine.MarkError(err.Error())
		if r.logger != nil {
			r.logger.Error("merge failed", zap.Error(err))
		}
		return
	}

	r.machine.MarkOnline(time.Now())

	if res.NewMessages > 0 {
		if r.logger != nil {
			r.logger.Info("inbox merged",
				zap.Int("new_messages", res.NewMessages),
				zap.Int("peers", res.Peers))
		}
		r.bus.Publish(bus.Event{
			Kind:      bus.KindSyncMerge,
			Timestamp: time.Now(),
			Payload:   res,
		})
	}
}
