package orchestrator

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/benbjohnson/clock"
	backoff "github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/stackctl/pkg/events"
	"github.com/go-go-golems/stackctl/pkg/graph"
	"github.com/go-go-golems/stackctl/pkg/probe"
	"github.com/go-go-golems/stackctl/pkg/topology"
)

// State is the lifecycle state of one service during a run. Healthy and
// Failed are terminal; a terminal state never changes.
type State string

const (
	StatePending        State = "pending"
	StateStarting       State = "starting"
	StateHealthChecking State = "health_checking"
	StateHealthy        State = "healthy"
	StateFailed         State = "failed"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateHealthy || s == StateFailed
}

// Handle identifies a launched service process.
type Handle struct {
	Service string
	PID     int
}

// Launcher starts a service. The orchestrator only sequences launches; how a
// service actually comes up is the launcher's business. Launch errors are
// terminal for the service and are never retried.
type Launcher interface {
	Launch(ctx context.Context, svc topology.Service) (Handle, error)
}

// ProbeFunc performs one liveness check. Injected so tests can script probe
// outcomes; defaults to probe.Once.
type ProbeFunc func(ctx context.Context, p topology.Probe) error

type Options struct {
	Launcher  Launcher
	Prober    ProbeFunc
	Clock     clock.Clock
	Publisher message.Publisher
}

// Orchestrator runs one pass over a topology: start every service in
// dependency order, gate each launch on its dependencies' health, and report
// a terminal state per service.
type Orchestrator struct {
	launcher Launcher
	prober   ProbeFunc
	clock    clock.Clock
	pub      message.Publisher
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Launcher == nil {
		return nil, errors.New("missing Launcher")
	}
	if opts.Prober == nil {
		opts.Prober = probe.Once
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Orchestrator{
		launcher: opts.Launcher,
		prober:   opts.Prober,
		clock:    opts.Clock,
		pub:      opts.Publisher,
	}, nil
}

// cell holds one service's eventual terminal state. It is written exactly
// once by the owning worker before done is closed; dependents only read it
// after done.
type cell struct {
	done   chan struct{}
	state  State
	reason string
}

func (c *cell) resolve(state State, reason string) {
	c.state = state
	c.reason = reason
	close(c.done)
}

// Run executes one orchestration pass. A *graph.CycleError (or any topology
// error) aborts before any launch. Otherwise Run always returns a report
// with exactly one terminal state per declared service; failures are part of
// the report, not the error.
func (o *Orchestrator) Run(ctx context.Context, topo *topology.Topology) (*Report, error) {
	g, err := graph.Build(topo)
	if err != nil {
		return nil, err
	}

	order := g.Order()
	cells := make(map[string]*cell, len(order))
	for _, name := range order {
		cells[name] = &cell{done: make(chan struct{})}
	}

	var eg errgroup.Group
	for _, name := range order {
		svc := topo.Services[name]
		deps := g.DependenciesOf(name)
		c := cells[name]
		eg.Go(func() error {
			o.runService(ctx, svc, deps, c, cells)
			return nil
		})
	}
	_ = eg.Wait()

	report := &Report{}
	for _, name := range order {
		c := cells[name]
		report.Results = append(report.Results, ServiceResult{
			Name:   name,
			State:  c.state,
			Reason: c.reason,
		})
	}
	_ = events.Publish(o.pub, events.Event{Type: events.TypeRunFinished})
	return report, nil
}

// runService drives one service from Pending to a terminal state. It owns
// the service's cell; nothing else writes it.
func (o *Orchestrator) runService(ctx context.Context, svc *topology.Service, deps []string, c *cell, cells map[string]*cell) {
	o.transition(svc.Name, StatePending, "")

	for _, dep := range deps {
		select {
		case <-ctx.Done():
			o.fail(svc.Name, c, "cancelled")
			return
		case <-cells[dep].done:
			if cells[dep].state == StateFailed {
				o.fail(svc.Name, c, "dependency failed: "+dep)
				return
			}
		}
	}

	if ctx.Err() != nil {
		o.fail(svc.Name, c, "cancelled")
		return
	}

	o.transition(svc.Name, StateStarting, "")
	handle, err := o.launcher.Launch(ctx, *svc)
	if err != nil {
		o.fail(svc.Name, c, "launch failed: "+err.Error())
		return
	}
	log.Info().Str("service", svc.Name).Int("pid", handle.PID).Msg("service started")

	if svc.Probe == nil {
		o.healthy(svc.Name, c)
		return
	}

	o.transition(svc.Name, StateHealthChecking, "")
	if reason := o.awaitHealthy(ctx, svc.Name, *svc.Probe); reason != "" {
		o.fail(svc.Name, c, reason)
		return
	}
	o.healthy(svc.Name, c)
}

// awaitHealthy probes until one success or the retry budget runs out.
// Attempts are spaced by the probe interval; the budget allows Retries
// additional attempts after the first. Returns "" on success, the failure
// reason otherwise.
func (o *Orchestrator) awaitHealthy(ctx context.Context, name string, p topology.Probe) string {
	attempt := 0
	var lastErr error

	op := func() error {
		attempt++
		err := o.prober(ctx, p)
		if err != nil {
			lastErr = err
			log.Debug().Str("service", name).Int("attempt", attempt).Err(err).Msg("probe failed")
			_ = events.Publish(o.pub, events.Event{
				Type:    events.TypeProbeAttempt,
				Service: name,
				Attempt: attempt,
				Reason:  err.Error(),
			})
			return err
		}
		_ = events.Publish(o.pub, events.Event{
			Type:    events.TypeProbeAttempt,
			Service: name,
			Attempt: attempt,
		})
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval.Std()), uint64(p.Retries)),
		ctx,
	)
	err := backoff.RetryNotifyWithTimer(op, b, nil, newClockTimer(o.clock))
	if err == nil {
		return ""
	}
	if ctx.Err() != nil {
		return "cancelled"
	}
	if lastErr != nil {
		return "probe budget exhausted: " + lastErr.Error()
	}
	return "probe budget exhausted: " + err.Error()
}

func (o *Orchestrator) healthy(name string, c *cell) {
	o.transition(name, StateHealthy, "")
	log.Info().Str("service", name).Msg("service healthy")
	c.resolve(StateHealthy, "")
}

func (o *Orchestrator) fail(name string, c *cell, reason string) {
	o.transition(name, StateFailed, reason)
	log.Warn().Str("service", name).Str("reason", reason).Msg("service failed")
	c.resolve(StateFailed, reason)
}

func (o *Orchestrator) transition(name string, state State, reason string) {
	_ = events.Publish(o.pub, events.Event{
		Type:    events.TypeStateChanged,
		Service: name,
		State:   string(state),
		Reason:  reason,
	})
}
