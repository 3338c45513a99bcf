package launcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/go-go-golems/stackctl/pkg/topology"
)

func TestExec_LaunchAndStop(t *testing.T) {
	root := t.TempDir()
	e := NewExec(Options{Root: root, ShutdownTimeout: 2 * time.Second})

	handle, err := e.Launch(context.Background(), topology.Service{
		Name:    "sleep",
		Command: []string{"sleep", "10"},
	})
	require.NoError(t, err)
	require.Greater(t, handle.PID, 0)
	require.True(t, state.ProcessAlive(handle.PID))

	records := e.Records()
	require.Len(t, records, 1)
	require.Equal(t, "sleep", records[0].Name)
	require.Equal(t, handle.PID, records[0].PID)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(stopCtx, records))

	deadline := time.Now().Add(3 * time.Second)
	for state.ProcessAlive(handle.PID) && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	require.False(t, state.ProcessAlive(handle.PID))
}

func TestExec_MissingBinary(t *testing.T) {
	root := t.TempDir()
	e := NewExec(Options{Root: root})

	_, err := e.Launch(context.Background(), topology.Service{
		Name:    "ghost",
		Command: []string{"/does/not/exist"},
	})
	require.Error(t, err)
}

func TestExec_WritesExitInfo(t *testing.T) {
	root := t.TempDir()
	e := NewExec(Options{Root: root})

	_, err := e.Launch(context.Background(), topology.Service{
		Name:    "crash",
		Command: []string{"bash", "-c", "exit 3"},
	})
	require.NoError(t, err)

	records := e.Records()
	require.Len(t, records, 1)

	require.Eventually(t, func() bool {
		info, err := state.ReadExitInfo(records[0].ExitInfo)
		if err != nil {
			return false
		}
		return info.ExitCode != nil && *info.ExitCode == 3
	}, 5*time.Second, 50*time.Millisecond)
}

func TestExec_SanitizesRecordedEnv(t *testing.T) {
	root := t.TempDir()
	e := NewExec(Options{Root: root})

	_, err := e.Launch(context.Background(), topology.Service{
		Name:    "svc",
		Command: []string{"true"},
		Env: map[string]string{
			"BROKER_PASSWORD": "hunter2",
			"BROKER_HOST":     "127.0.0.1",
		},
	})
	require.NoError(t, err)

	records := e.Records()
	require.Equal(t, "[REDACTED]", records[0].Env["BROKER_PASSWORD"])
	require.Equal(t, "127.0.0.1", records[0].Env["BROKER_HOST"])
}
