package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	gochannel "github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/stackctl/pkg/events"
	"github.com/go-go-golems/stackctl/pkg/graph"
	"github.com/go-go-golems/stackctl/pkg/topology"
)

type fakeLauncher struct {
	mu       sync.Mutex
	launched []string
	errs     map[string]error
}

var _ Launcher = (*fakeLauncher)(nil)

func (f *fakeLauncher) Launch(ctx context.Context, svc topology.Service) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, svc.Name)
	if err := f.errs[svc.Name]; err != nil {
		return Handle{}, err
	}
	return Handle{Service: svc.Name, PID: 1000 + len(f.launched)}, nil
}

func (f *fakeLauncher) launches(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.launched {
		if l == name {
			n++
		}
	}
	return n
}

func (f *fakeLauncher) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.launched...)
}

type svcDef struct {
	deps  []string
	probe *topology.Probe
}

func buildTopo(defs map[string]svcDef) *topology.Topology {
	topo := &topology.Topology{Services: map[string]*topology.Service{}}
	for name, def := range defs {
		topo.Services[name] = &topology.Service{
			Name:      name,
			Command:   []string{"true"},
			DependsOn: def.deps,
			Probe:     def.probe,
		}
	}
	return topo
}

func fastProbe(retries int) *topology.Probe {
	return &topology.Probe{
		Type:     topology.ProbeTCP,
		Address:  "127.0.0.1:1",
		Interval: topology.Duration(5 * time.Millisecond),
		Timeout:  topology.Duration(time.Second),
		Retries:  retries,
	}
}

func TestRun_NoProbes_AllHealthyInOrder(t *testing.T) {
	fl := &fakeLauncher{}
	orch, err := New(Options{Launcher: fl})
	require.NoError(t, err)

	report, err := orch.Run(context.Background(), buildTopo(map[string]svcDef{
		"a": {},
		"b": {deps: []string{"a"}},
		"c": {deps: []string{"b"}},
	}))
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	require.True(t, report.AllHealthy())
	require.Empty(t, report.Failed())
	require.Equal(t, []string{"a", "b", "c"}, fl.order())
}

func TestRun_Cycle_AbortsBeforeAnyLaunch(t *testing.T) {
	fl := &fakeLauncher{}
	orch, err := New(Options{Launcher: fl})
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), buildTopo(map[string]svcDef{
		"a": {deps: []string{"b"}},
		"b": {deps: []string{"a"}},
	}))
	require.Error(t, err)
	var cerr *graph.CycleError
	require.ErrorAs(t, err, &cerr)
	require.Empty(t, fl.order())
}

func TestRun_ProbeSucceedsWithinBudget(t *testing.T) {
	fl := &fakeLauncher{}
	var attempts atomic.Int32
	prober := func(ctx context.Context, p topology.Probe) error {
		if attempts.Add(1) < 2 {
			return errors.New("connection refused")
		}
		return nil
	}
	orch, err := New(Options{Launcher: fl, Prober: prober})
	require.NoError(t, err)

	report, err := orch.Run(context.Background(), buildTopo(map[string]svcDef{
		"broker":   {probe: fastProbe(3)},
		"producer": {deps: []string{"broker"}},
		"consumer": {deps: []string{"broker"}},
	}))
	require.NoError(t, err)
	require.True(t, report.AllHealthy())
	require.Equal(t, int32(2), attempts.Load())

	order := fl.order()
	require.Len(t, order, 3)
	require.Equal(t, "broker", order[0])
}

func TestRun_ProbeBudgetExhausted_FailsDependents(t *testing.T) {
	fl := &fakeLauncher{}
	var attempts atomic.Int32
	prober := func(ctx context.Context, p topology.Probe) error {
		attempts.Add(1)
		return errors.New("connection refused")
	}
	orch, err := New(Options{Launcher: fl, Prober: prober})
	require.NoError(t, err)

	report, err := orch.Run(context.Background(), buildTopo(map[string]svcDef{
		"broker":   {probe: fastProbe(3)},
		"producer": {deps: []string{"broker"}},
		"consumer": {deps: []string{"broker"}},
	}))
	require.NoError(t, err)
	require.False(t, report.AllHealthy())
	require.Equal(t, []string{"broker", "consumer", "producer"}, report.Failed())

	// Retries+1 attempts, then the budget is exhausted.
	require.Equal(t, int32(4), attempts.Load())

	broker, _ := report.Result("broker")
	require.Equal(t, StateFailed, broker.State)
	require.Contains(t, broker.Reason, "probe budget exhausted")
	require.Contains(t, broker.Reason, "connection refused")

	for _, name := range []string{"producer", "consumer"} {
		res, ok := report.Result(name)
		require.True(t, ok)
		require.Equal(t, StateFailed, res.State)
		require.Equal(t, "dependency failed: broker", res.Reason)
		require.Zero(t, fl.launches(name))
	}
	require.Equal(t, 1, fl.launches("broker"))
}

func TestRun_LaunchFailureIsTerminalAndNotRetried(t *testing.T) {
	fl := &fakeLauncher{errs: map[string]error{"a": errors.New("no such image")}}
	orch, err := New(Options{Launcher: fl})
	require.NoError(t, err)

	report, err := orch.Run(context.Background(), buildTopo(map[string]svcDef{
		"a": {},
		"b": {deps: []string{"a"}},
		"z": {},
	}))
	require.NoError(t, err)

	a, _ := report.Result("a")
	require.Equal(t, StateFailed, a.State)
	require.Contains(t, a.Reason, "launch failed")
	require.Contains(t, a.Reason, "no such image")
	require.Equal(t, 1, fl.launches("a"))

	b, _ := report.Result("b")
	require.Equal(t, StateFailed, b.State)
	require.Equal(t, "dependency failed: a", b.Reason)
	require.Zero(t, fl.launches("b"))

	// Independent branches keep going.
	z, _ := report.Result("z")
	require.Equal(t, StateHealthy, z.State)
}

func TestRun_Cancelled(t *testing.T) {
	fl := &fakeLauncher{}
	orch, err := New(Options{Launcher: fl})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := orch.Run(ctx, buildTopo(map[string]svcDef{
		"a": {},
		"b": {},
	}))
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		require.Equal(t, StateFailed, res.State)
		require.Equal(t, "cancelled", res.Reason)
	}
	require.Empty(t, fl.order())
}

func TestRun_CancelDuringProbing(t *testing.T) {
	fl := &fakeLauncher{}
	ctx, cancel := context.WithCancel(context.Background())
	prober := func(ctx context.Context, p topology.Probe) error {
		cancel()
		return errors.New("not yet")
	}
	orch, err := New(Options{Launcher: fl, Prober: prober})
	require.NoError(t, err)

	probe := fastProbe(100)
	report, err := orch.Run(ctx, buildTopo(map[string]svcDef{
		"broker": {probe: probe},
	}))
	require.NoError(t, err)

	broker, _ := report.Result("broker")
	require.Equal(t, StateFailed, broker.State)
	require.Equal(t, "cancelled", broker.Reason)
}

func TestRun_ProbeAttemptsSpacedByInterval(t *testing.T) {
	clk := clock.NewMock()
	fl := &fakeLauncher{}
	attempts := make(chan struct{}, 16)
	prober := func(ctx context.Context, p topology.Probe) error {
		attempts <- struct{}{}
		return errors.New("still down")
	}
	orch, err := New(Options{Launcher: fl, Prober: prober, Clock: clk})
	require.NoError(t, err)

	probe := &topology.Probe{
		Type:     topology.ProbeTCP,
		Address:  "127.0.0.1:1",
		Interval: topology.Duration(time.Minute),
		Timeout:  topology.Duration(time.Second),
		Retries:  2,
	}

	done := make(chan *Report, 1)
	go func() {
		report, _ := orch.Run(context.Background(), buildTopo(map[string]svcDef{
			"broker": {probe: probe},
		}))
		done <- report
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-attempts:
		case <-time.After(5 * time.Second):
			t.Fatalf("attempt %d never happened", i+1)
		}
		if i < 2 {
			// Let the backoff timer arm before advancing the clock.
			time.Sleep(20 * time.Millisecond)
			clk.Add(time.Minute)
		}
	}

	select {
	case report := <-done:
		require.Empty(t, attempts)
		broker, _ := report.Result("broker")
		require.Equal(t, StateFailed, broker.State)
		require.Contains(t, broker.Reason, "probe budget exhausted")
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestRun_EventsShowDependentLaunchAfterHealthy(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := pubsub.Subscribe(ctx, events.TopicRun)
	require.NoError(t, err)

	fl := &fakeLauncher{}
	prober := func(ctx context.Context, p topology.Probe) error { return nil }
	orch, err := New(Options{Launcher: fl, Prober: prober, Publisher: pubsub})
	require.NoError(t, err)

	report, err := orch.Run(ctx, buildTopo(map[string]svcDef{
		"broker":   {probe: fastProbe(0)},
		"producer": {deps: []string{"broker"}},
	}))
	require.NoError(t, err)
	require.True(t, report.AllHealthy())

	var seen []events.Event
	deadline := time.After(5 * time.Second)
drain:
	for {
		select {
		case msg := <-msgs:
			ev, err := events.Decode(msg)
			require.NoError(t, err)
			msg.Ack()
			seen = append(seen, ev)
			if ev.Type == events.TypeRunFinished {
				break drain
			}
		case <-deadline:
			t.Fatal("run_finished event never arrived")
		}
	}

	brokerHealthy := eventIndex(seen, "broker", string(StateHealthy))
	producerStarting := eventIndex(seen, "producer", string(StateStarting))
	require.GreaterOrEqual(t, brokerHealthy, 0)
	require.GreaterOrEqual(t, producerStarting, 0)
	require.Less(t, brokerHealthy, producerStarting)
}

func eventIndex(seen []events.Event, service, state string) int {
	for i, ev := range seen {
		if ev.Type == events.TypeStateChanged && ev.Service == service && ev.State == state {
			return i
		}
	}
	return -1
}
