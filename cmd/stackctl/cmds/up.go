package cmds

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/stackctl/pkg/events"
	"github.com/go-go-golems/stackctl/pkg/graph"
	"github.com/go-go-golems/stackctl/pkg/launcher"
	"github.com/go-go-golems/stackctl/pkg/orchestrator"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/go-go-golems/stackctl/pkg/topology"
	"github.com/go-go-golems/stackctl/pkg/tui"
)

func newUpCmd() *cobra.Command {
	var force bool
	var watch bool
	var keepFailed bool

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the topology in dependency order, health-gating each launch",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}

			if _, err := os.Stat(state.StatePath(opts.Root)); err == nil {
				if !force {
					return errors.New("state exists; run stackctl down first or use --force")
				}
				log.Info().Msg("existing state found; stopping first (--force)")
				if err := stopFromState(cmd.Context(), opts); err != nil {
					return err
				}
			}

			topo, err := topology.Load(opts.Topology)
			if err != nil {
				return err
			}
			// Fail on cycles before anything is launched; also gives the
			// watch view its row order.
			g, err := graph.Build(topo)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus, err := events.NewInMemoryBus()
			if err != nil {
				return err
			}

			procs := launcher.NewExec(launcher.Options{Root: opts.Root})
			orch, err := orchestrator.New(orchestrator.Options{
				Launcher:  procs,
				Publisher: bus.Publisher,
			})
			if err != nil {
				return err
			}

			report, err := runOrchestration(ctx, orch, topo, bus, g.Order(), watch)
			if err != nil {
				return err
			}

			if !report.AllHealthy() && !keepFailed {
				log.Info().Strs("failed", report.Failed()).Msg("run failed; stopping launched services")
				stopCtx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
				_ = procs.Stop(stopCtx, procs.Records())
				cancel()
			} else if len(procs.Records()) > 0 {
				st := &state.Run{
					Root:      opts.Root,
					Topology:  opts.Topology,
					CreatedAt: time.Now(),
					Services:  procs.Records(),
				}
				if err := state.Save(opts.Root, st); err != nil {
					return err
				}
			}

			printReport(cmd, report)
			if !report.AllHealthy() {
				return errors.Errorf("failed services: %s", strings.Join(report.Failed(), ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Stop existing state before starting")
	cmd.Flags().BoolVar(&watch, "watch", false, "Render a live view of the run")
	cmd.Flags().BoolVar(&keepFailed, "keep-failed", false, "Leave launched services running when the run fails")
	return cmd
}

func runOrchestration(ctx context.Context, orch *orchestrator.Orchestrator, topo *topology.Topology, bus *events.Bus, order []string, watch bool) (*orchestrator.Report, error) {
	if !watch {
		return orch.Run(ctx, topo)
	}

	p := tea.NewProgram(tui.NewWatchModel(order))
	tui.RegisterForwarder(bus, p)

	busCtx, busCancel := context.WithCancel(ctx)
	defer busCancel()
	go func() {
		if err := bus.Run(busCtx); err != nil {
			log.Warn().Err(err).Msg("event bus stopped")
		}
	}()
	select {
	case <-bus.Router.Running():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	type result struct {
		report *orchestrator.Report
		err    error
	}
	resCh := make(chan result, 1)
	go func() {
		report, err := orch.Run(ctx, topo)
		resCh <- result{report, err}
		p.Send(tui.RunFinishedMsg{})
	}()

	if _, err := p.Run(); err != nil {
		return nil, errors.Wrap(err, "run watch ui")
	}
	res := <-resCh
	return res.report, res.err
}

func printReport(cmd *cobra.Command, report *orchestrator.Report) {
	theme := tui.DefaultStyles
	w := cmd.OutOrStdout()
	for _, res := range report.Results {
		var line string
		switch res.State {
		case orchestrator.StateHealthy:
			line = theme.StatusHealthy.Render(tui.IconHealthy) + " " + res.Name + " healthy"
		default:
			line = theme.StatusFailed.Render(tui.IconFailed) + " " + res.Name + " " + string(res.State)
			if res.Reason != "" {
				line += " " + theme.Reason.Render("("+res.Reason+")")
			}
		}
		_, _ = fmt.Fprintln(w, line)
	}
}

func stopFromState(ctx context.Context, opts rootOptions) error {
	st, err := state.Load(opts.Root)
	if err != nil {
		return err
	}
	procs := launcher.NewExec(launcher.Options{Root: opts.Root})
	stopCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := procs.Stop(stopCtx, st.Services); err != nil {
		return err
	}
	return state.Remove(opts.Root)
}
