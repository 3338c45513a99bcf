package cmds

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/stackctl/pkg/probe"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/go-go-golems/stackctl/pkg/topology"
)

func newStatusCmd() *cobra.Command {
	var tailLines int
	var probeTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show liveness, resource usage and probe results for recorded services",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			st, err := state.Load(opts.Root)
			if err != nil {
				return err
			}

			type svc struct {
				Name       string           `json:"name"`
				PID        int              `json:"pid"`
				Alive      bool             `json:"alive"`
				Stats      *state.ProcStats `json:"stats,omitempty"`
				Probe      string           `json:"probe,omitempty"`
				Stdout     string           `json:"stdout_log"`
				Stderr     string           `json:"stderr_log"`
				Exit       *state.ExitInfo  `json:"exit,omitempty"`
				StderrTail []string         `json:"stderr_tail,omitempty"`
			}
			var services []svc
			for _, rec := range st.Services {
				alive := state.ProcessAlive(rec.PID)
				s := svc{
					Name:   rec.Name,
					PID:    rec.PID,
					Alive:  alive,
					Stdout: rec.StdoutLog,
					Stderr: rec.StderrLog,
				}

				if alive {
					if stats, err := state.ReadProcStats(rec.PID); err == nil {
						s.Stats = stats
					}
					s.Probe = probeStatus(cmd, rec, probeTimeout)
				} else {
					if rec.ExitInfo != "" {
						if _, err := os.Stat(rec.ExitInfo); err == nil {
							if ei, err := state.ReadExitInfo(rec.ExitInfo); err == nil {
								s.Exit = ei
							}
						}
					}
					if tailLines > 0 {
						if lines, err := state.TailLines(rec.StderrLog, tailLines, 2<<20); err == nil {
							s.StderrTail = lines
						}
					}
				}
				services = append(services, s)
			}

			b, err := json.MarshalIndent(map[string]any{"services": services}, "", "  ")
			if err != nil {
				return errors.Wrap(err, "marshal status")
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}

	cmd.Flags().IntVar(&tailLines, "tail-lines", 25, "How many stderr lines to include for dead services")
	cmd.Flags().DurationVar(&probeTimeout, "probe-timeout", 2*time.Second, "Timeout for the one-shot status probe")
	return cmd
}

// probeStatus runs the recorded probe once. Exec probes are not persisted in
// state, so only tcp/http records are probed here.
func probeStatus(cmd *cobra.Command, rec state.ServiceRecord, timeout time.Duration) string {
	if rec.ProbeType != topology.ProbeTCP && rec.ProbeType != topology.ProbeHTTP {
		return ""
	}
	p := topology.Probe{
		Type:    rec.ProbeType,
		Address: rec.ProbeAddress,
		URL:     rec.ProbeURL,
		Timeout: topology.Duration(timeout),
	}
	if err := probe.Once(cmd.Context(), p); err != nil {
		return "unhealthy: " + err.Error()
	}
	return "healthy"
}
