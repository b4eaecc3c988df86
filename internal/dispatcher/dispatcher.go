// Package dispatcher owns the single shared listening socket and
// decides which worker gets to accept the next connection. It never
// accepts itself: it only watches the listener for readability and
// notifies the least-busy worker, which performs the accept.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/springsnail/tcplb/internal/netpoll"
)

// WorkerHandle is the subset of a worker the dispatcher needs: a way
// to wake it up. Its utilization readings arrive on a separate channel
// passed to New.
type WorkerHandle interface {
	Notify() error
}

type utilReport struct {
	idx   int
	value uint8
}

// Dispatcher multiplexes listener readiness and worker utilization
// reports, then picks a worker via a stable-tie-break argmin scan, the
// same selection rule as the original's linear "most free" search over
// its worker table.
type Dispatcher struct {
	logger     *slog.Logger
	listenerFD int
	poller     *netpoll.Poller

	workers   []WorkerHandle
	utilChans []<-chan uint8

	mu   sync.RWMutex
	util []uint8
}

// New builds a Dispatcher watching listenerFD for readability. workers
// and utilChans must be the same length and index-aligned: utilChans[i]
// carries workers[i]'s utilization readings.
func New(listenerFD int, workers []WorkerHandle, utilChans []<-chan uint8, logger *slog.Logger) (*Dispatcher, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("dispatcher: at least one worker is required")
	}
	if len(workers) != len(utilChans) {
		return nil, fmt.Errorf("dispatcher: workers and utilChans length mismatch (%d != %d)", len(workers), len(utilChans))
	}
	if logger == nil {
		logger = slog.Default()
	}

	poller, err := netpoll.New()
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	if err := poller.RegisterRead(listenerFD); err != nil {
		poller.Close()
		return nil, fmt.Errorf("dispatcher: register listener: %w", err)
	}

	return &Dispatcher{
		logger:     logger,
		listenerFD: listenerFD,
		poller:     poller,
		workers:    workers,
		utilChans:  utilChans,
		util:       make([]uint8, len(workers)),
	}, nil
}

// Run watches the listener and worker utilization until ctx is
// cancelled. It always returns nil on a clean shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.poller.Close()

	utilAggregate := make(chan utilReport, len(d.workers)*4)
	for i, ch := range d.utilChans {
		go forwardUtilization(ctx, i, ch, utilAggregate)
	}

	listenerReady := make(chan struct{}, 1)
	go d.watchListener(ctx, listenerReady)

	for {
		select {
		case <-ctx.Done():
			return nil

		case r := <-utilAggregate:
			d.mu.Lock()
			d.util[r.idx] = r.value
			d.mu.Unlock()

		case <-listenerReady:
			d.mu.RLock()
			idx := argmin(d.util)
			d.mu.RUnlock()
			if err := d.workers[idx].Notify(); err != nil {
				d.logger.Error("failed to notify worker", "worker", idx, "err", err)
			}
		}
	}
}

// Utilization returns a snapshot of each worker's last reported used
// count, in worker index order. Safe to call from any goroutine,
// including the admin API's stats handler.
func (d *Dispatcher) Utilization() []uint8 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]uint8, len(d.util))
	copy(out, d.util)
	return out
}

// watchListener runs epoll_wait on the listener fd alone and signals
// listenerReady on every readiness wakeup, coalescing bursts into a
// single pending notification (the dispatcher only needs to know "at
// least one connection is waiting", not how many).
func (d *Dispatcher) watchListener(ctx context.Context, listenerReady chan<- struct{}) {
	events := make([]netpoll.Event, 0, 8)
	for {
		if ctx.Err() != nil {
			return
		}
		evs, err := d.poller.Wait(1000, events[:0])
		if err != nil {
			d.logger.Error("dispatcher poller wait failed", "err", err)
			return
		}
		if len(evs) == 0 {
			continue
		}
		select {
		case listenerReady <- struct{}{}:
		default:
		}
	}
}

func forwardUtilization(ctx context.Context, idx int, ch <-chan uint8, out chan<- utilReport) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			select {
			case out <- utilReport{idx: idx, value: v}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// argmin returns the index of the smallest value in util, preferring
// the lowest index on ties.
func argmin(util []uint8) int {
	best := 0
	for i := 1; i < len(util); i++ {
		if util[i] < util[best] {
			best = i
		}
	}
	return best
}
