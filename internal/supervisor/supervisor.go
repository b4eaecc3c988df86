// Package supervisor wires together the listener, dispatcher, worker
// pool, and (optionally) the admin API into one running proxy, and
// coordinates a bounded-timeout graceful shutdown on SIGINT/SIGTERM.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/springsnail/tcplb/internal/adminapi"
	"github.com/springsnail/tcplb/internal/config"
	"github.com/springsnail/tcplb/internal/dispatcher"
	"github.com/springsnail/tcplb/internal/sigfunnel"
	"github.com/springsnail/tcplb/internal/stats"
	"github.com/springsnail/tcplb/internal/upstream"
	"github.com/springsnail/tcplb/internal/worker"

	"golang.org/x/sys/unix"
)

const stopTimeout = 5 * time.Second

// Runner orchestrates tcplb's startup, configuration, and shutdown.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a new supervisor with the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Run builds the listener, one worker per configured upstream host, the
// dispatcher, and (if enabled) the admin API, then blocks until a
// shutdown signal arrives or a component fails outright.
func (r *Runner) Run(cfg *config.Config) error {
	listenerFD, err := dispatcher.NewListener(cfg.Listen)
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	defer unix.Close(listenerFD)

	relayStats := stats.NewRelay()
	recycleInterval := time.Duration(cfg.RecycleIntervalSeconds) * time.Second

	workers := make([]*worker.Worker, len(cfg.Hosts))
	handles := make([]dispatcher.WorkerHandle, len(cfg.Hosts))
	utilChans := make([]<-chan uint8, len(cfg.Hosts))
	hosts := make([]upstream.Host, len(cfg.Hosts))

	for i, h := range cfg.Hosts {
		host := upstream.Host{Name: h.Name, Port: h.Port, Conns: h.Conns}
		hosts[i] = host
		util := make(chan uint8, 1)

		w, werr := worker.New(worker.Config{
			ID:              i,
			Host:            host,
			BufSize:         cfg.BufferSize,
			RecycleInterval: recycleInterval,
			ListenerFD:      listenerFD,
			Logger:          r.logger,
			Stats:           relayStats,
			Utilization:     util,
		})
		if werr != nil {
			return fmt.Errorf("supervisor: worker %d: %w", i, werr)
		}
		workers[i] = w
		handles[i] = w
		utilChans[i] = util
	}

	d, err := dispatcher.New(listenerFD, handles, utilChans, r.logger)
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(workers)+1)

	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				errCh <- err
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	var admin *adminapi.Server
	if cfg.Admin.Enabled {
		admin = adminapi.New(cfg.Admin.Host, cfg.Admin.Port, &statsProvider{dispatcher: d, hosts: hosts, relay: relayStats}, r.logger)
		go func() {
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("admin api: %w", err)
			}
		}()
		r.logger.Info("admin api listening", "addr", admin.Addr())
	}

	funnel := sigfunnel.New()
	defer funnel.Stop()

	r.logger.Info("tcplb listening", "addr", cfg.Listen, "workers", len(workers))

wait:
	for {
		select {
		case sig := <-funnel.C():
			if !sigfunnel.IsShutdown(sig) {
				continue
			}
			r.logger.Info("shutdown signal received", "signal", sig)
			break wait
		case err := <-errCh:
			if err != nil {
				cancel()
				return err
			}
			break wait
		}
	}

	cancel()
	if admin != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), stopTimeout)
		_ = admin.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(stopTimeout):
		r.logger.Warn("timed out waiting for workers to stop")
	}

	return nil
}

// statsProvider adapts the dispatcher and relay counters to
// adminapi.Provider.
type statsProvider struct {
	dispatcher *dispatcher.Dispatcher
	hosts      []upstream.Host
	relay      *stats.Relay
}

func (p *statsProvider) Workers() []adminapi.WorkerStats {
	used := p.dispatcher.Utilization()
	out := make([]adminapi.WorkerStats, len(used))
	for i, u := range used {
		out[i] = adminapi.WorkerStats{ID: i, Host: p.hosts[i].String(), Used: u}
	}
	return out
}

func (p *statsProvider) Relay() stats.Snapshot {
	return p.relay.Snapshot()
}
