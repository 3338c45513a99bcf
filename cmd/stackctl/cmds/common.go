package cmds

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-go-golems/stackctl/pkg/topology"
)

type rootOptions struct {
	Root     string
	Topology string
	Timeout  time.Duration
}

func AddRootFlags(root *cobra.Command) {
	root.PersistentFlags().String("root", "", "Project root (defaults to current directory)")
	root.PersistentFlags().StringP("file", "f", "", "Path to topology file (defaults to stack.yaml under root)")
	root.PersistentFlags().Duration("timeout", 5*time.Minute, "Overall run timeout")
}

func rootFlags(cmd *cobra.Command) *pflag.FlagSet {
	return cmd.Root().PersistentFlags()
}

func getRootOptions(cmd *cobra.Command) (rootOptions, error) {
	flags := rootFlags(cmd)

	root, err := flags.GetString("root")
	if err != nil {
		return rootOptions{}, err
	}
	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			return rootOptions{}, err
		}
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return rootOptions{}, err
	}

	topoPath, err := flags.GetString("file")
	if err != nil {
		return rootOptions{}, err
	}
	if topoPath == "" {
		topoPath = topology.DefaultPath(root)
	} else if !filepath.IsAbs(topoPath) {
		topoPath = filepath.Join(root, topoPath)
	}

	timeout, err := flags.GetDuration("timeout")
	if err != nil {
		return rootOptions{}, err
	}
	if timeout <= 0 {
		return rootOptions{}, errors.New("timeout must be > 0")
	}

	return rootOptions{
		Root:     root,
		Topology: topoPath,
		Timeout:  timeout,
	}, nil
}
