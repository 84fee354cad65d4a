// Package engine implements the Lifecycle (spec.md section 4.H): process
// start/stop, trust-mode resolution, the Store migration trigger, and the
// EngineHandle every other component is wired through instead of reaching
// for global state.
package engine

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/meshprotocol/agent/pkg/coordinator"
	"github.com/meshprotocol/agent/pkg/httpapi"
	"github.com/meshprotocol/agent/pkg/scheduler"
	"github.com/meshprotocol/agent/pkg/store"
	"github.com/meshprotocol/agent/pkg/transport"
)

// Migrator is implemented by Store backends that need an explicit
// connectivity/schema check on start (sqlstore); memstore/kvstore/reststore
// don't implement it and Start treats that as a no-op, matching spec.md
// section 4.H's "a no-op for memory/REST backends".
type Migrator interface {
	Ping(ctx context.Context) error
}

// RegisterArgs seeds the optional auto-registration call on Start.
type RegisterArgs struct {
	Skills       []string
	MinFee       string
	Stake        string
	ResponseTime string
	ReplyChat    string
}

// Config holds the Lifecycle's own knobs (spec.md section 4.H/6). The
// trust-mode fields (mode/strictChain/allowLocalReputationFallback) are
// resolved by the reputation.Client itself; Config only carries what
// Start/Stop need directly.
type Config struct {
	AutoRegisterOnStart bool
	Register            RegisterArgs
	EnableScheduler      bool
	SchedulerIntervalMs  int
	StopGracePeriod      time.Duration
}

func (c Config) withDefaults() Config {
	if c.SchedulerIntervalMs == 0 {
		c.SchedulerIntervalMs = 1000
	}
	if c.StopGracePeriod == 0 {
		c.StopGracePeriod = 5 * time.Second
	}
	return c
}

// Handle is the EngineHandle of spec.md section 4.H: every component reaches
// its peers through this struct rather than through package-level state.
type Handle struct {
	Store       store.Store
	Coordinator *coordinator.Coordinator
	Transport   *transport.Facade
	// Metrics is optional; when set, every Scheduler.Tick is timed into
	// mesh_scheduler_tick_duration_seconds.
	Metrics *httpapi.Metrics
}

// Engine owns the process lifecycle built from a Handle.
type Engine struct {
	cfg       Config
	handle    Handle
	scheduler *scheduler.Scheduler
	logger    *log.Logger
	cancel    context.CancelFunc
}

// New constructs an Engine around an already-wired Handle.
func New(cfg Config, handle Handle, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	cfg = cfg.withDefaults()
	e := &Engine{cfg: cfg, handle: handle, logger: logger}
	if cfg.EnableScheduler {
		e.scheduler = scheduler.New(scheduler.Config{IntervalMs: cfg.SchedulerIntervalMs},
			func(ctx context.Context) error {
				start := time.Now()
				_, err := handle.Coordinator.ExpireStale(ctx)
				if handle.Metrics != nil {
					handle.Metrics.ObserveTick(time.Since(start))
				}
				return err
			}, logger)
	}
	return e
}

// Start performs, in order: Store connectivity check, optional
// auto-registration, initial beacon broadcast, Scheduler start, transport
// inbound-event pump start.
func (e *Engine) Start(ctx context.Context) error {
	if m, ok := e.handle.Store.(Migrator); ok {
		if err := m.Ping(ctx); err != nil {
			return err
		}
	}

	if e.cfg.AutoRegisterOnStart {
		r := e.cfg.Register
		if err := e.handle.Coordinator.Register(ctx, r.Skills, r.MinFee, r.Stake, r.ResponseTime, r.ReplyChat); err != nil {
			return err
		}
	} else if err := e.handle.Coordinator.Beacon(ctx); err != nil {
		e.logger.Printf("initial beacon broadcast: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if e.scheduler != nil {
		e.scheduler.Start(runCtx)
	}

	if events := e.handle.Transport.Events(); events != nil {
		go e.pumpInbound(runCtx, events)
	}

	return nil
}

func (e *Engine) pumpInbound(ctx context.Context, events <-chan transport.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := e.handle.Coordinator.Ingest(ctx, ev.ChatID, ev.MessageID, ev.Text); err != nil {
				e.logger.Printf("ingest error: %v", err)
			}
		}
	}
}

// Stop reverses Start's order with a bounded grace period: the inbound pump
// and scheduler are cancelled first, then the Store is closed, letting
// in-flight writes finish before the handles go away.
func (e *Engine) Stop(ctx context.Context) error {
	stopCtx, stopCancel := context.WithTimeout(ctx, e.cfg.StopGracePeriod)
	defer stopCancel()

	if e.cancel != nil {
		e.cancel()
	}
	if e.scheduler != nil {
		e.scheduler.Stop(stopCtx)
	}
	return e.handle.Store.Close()
}
