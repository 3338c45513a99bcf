package cmds

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/stackctl/pkg/graph"
	"github.com/go-go-golems/stackctl/pkg/topology"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Validate the topology and print the start order",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			topo, err := topology.Load(opts.Topology)
			if err != nil {
				return err
			}
			g, err := graph.Build(topo)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for i, name := range g.Order() {
				svc := topo.Services[name]
				line := fmt.Sprintf("%d. %s", i+1, name)
				if deps := g.DependenciesOf(name); len(deps) > 0 {
					line += " (after " + strings.Join(deps, ", ") + ")"
				}
				if svc.Probe != nil {
					line += fmt.Sprintf(" [%s probe, %d retries every %s]",
						svc.Probe.Type, svc.Probe.Retries, svc.Probe.Interval.Std())
				}
				_, _ = fmt.Fprintln(w, line)
			}
			return nil
		},
	}
}
