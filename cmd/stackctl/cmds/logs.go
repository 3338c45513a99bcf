package cmds

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/stackctl/pkg/state"
)

func newLogsCmd() *cobra.Command {
	var tailLines int
	var stderrOnly bool

	cmd := &cobra.Command{
		Use:   "logs <service>",
		Short: "Show the tail of a service's captured logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			st, err := state.Load(opts.Root)
			if err != nil {
				return err
			}

			name := args[0]
			var rec *state.ServiceRecord
			for i := range st.Services {
				if st.Services[i].Name == name {
					rec = &st.Services[i]
					break
				}
			}
			if rec == nil {
				return errors.Errorf("unknown service %q", name)
			}

			w := cmd.OutOrStdout()
			if !stderrOnly {
				lines, err := state.TailLines(rec.StdoutLog, tailLines, 2<<20)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(w, "==> %s stdout\n", name)
				for _, line := range lines {
					_, _ = fmt.Fprintln(w, line)
				}
			}
			lines, err := state.TailLines(rec.StderrLog, tailLines, 2<<20)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "==> %s stderr\n", name)
			for _, line := range lines {
				_, _ = fmt.Fprintln(w, line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tailLines, "tail", 50, "Number of lines from the end of each log")
	cmd.Flags().BoolVar(&stderrOnly, "stderr", false, "Only show stderr")
	return cmd
}
