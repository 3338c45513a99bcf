package launcher

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/stackctl/pkg/orchestrator"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/go-go-golems/stackctl/pkg/topology"
)

type Options struct {
	Root            string
	ShutdownTimeout time.Duration
}

// Exec launches topology services as local processes, one process group per
// service, with stdout/stderr captured to per-run log files. It records what
// it launched so the run can be persisted for down/status/logs.
type Exec struct {
	opts Options

	mu      sync.Mutex
	records []state.ServiceRecord
}

var _ orchestrator.Launcher = (*Exec)(nil)

func NewExec(opts Options) *Exec {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 3 * time.Second
	}
	return &Exec{opts: opts}
}

func (e *Exec) Launch(ctx context.Context, svc topology.Service) (orchestrator.Handle, error) {
	if e.opts.Root == "" {
		return orchestrator.Handle{}, errors.New("missing Root")
	}
	if err := os.MkdirAll(state.LogsDir(e.opts.Root), 0o755); err != nil {
		return orchestrator.Handle{}, errors.Wrap(err, "mkdir logs dir")
	}

	cwd := e.opts.Root
	if svc.Cwd != "" {
		if filepath.IsAbs(svc.Cwd) {
			cwd = svc.Cwd
		} else {
			cwd = filepath.Join(e.opts.Root, svc.Cwd)
		}
	}

	ts := time.Now().Format("20060102-150405")
	stdoutPath := filepath.Join(state.LogsDir(e.opts.Root), svc.Name+"-"+ts+".stdout.log")
	stderrPath := filepath.Join(state.LogsDir(e.opts.Root), svc.Name+"-"+ts+".stderr.log")
	exitInfoPath := filepath.Join(state.LogsDir(e.opts.Root), svc.Name+"-"+ts+".exit.json")

	stdoutFile, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return orchestrator.Handle{}, errors.Wrap(err, "open stdout log")
	}
	defer func() { _ = stdoutFile.Close() }()

	stderrFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return orchestrator.Handle{}, errors.Wrap(err, "open stderr log")
	}
	defer func() { _ = stderrFile.Close() }()

	// Plain Command, not CommandContext: launched services outlive the CLI
	// process. Failed runs are torn down explicitly via Stop.
	// #nosec G204 -- command is configured in the topology file.
	cmd := exec.Command(svc.Command[0], svc.Command[1:]...)
	cmd.Dir = cwd
	cmd.Env = mergeEnv(os.Environ(), svc.Env)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return orchestrator.Handle{}, errors.Wrap(err, "start service")
	}

	pid := cmd.Process.Pid
	startedAt := time.Now()
	go func() {
		err := cmd.Wait()
		info := state.ExitInfo{
			Service:   svc.Name,
			PID:       pid,
			StartedAt: startedAt,
			ExitedAt:  time.Now(),
		}
		if cmd.ProcessState != nil {
			code := cmd.ProcessState.ExitCode()
			info.ExitCode = &code
		}
		if err != nil {
			info.Error = err.Error()
		}
		if werr := state.WriteExitInfo(exitInfoPath, info); werr != nil {
			log.Debug().Str("service", svc.Name).Err(werr).Msg("write exit info")
		}
	}()

	rec := state.ServiceRecord{
		Name:      svc.Name,
		PID:       pid,
		Command:   svc.Command,
		Cwd:       cwd,
		Env:       state.SanitizeEnv(svc.Env),
		StdoutLog: stdoutPath,
		StderrLog: stderrPath,
		ExitInfo:  exitInfoPath,
		StartedAt: startedAt,
	}
	if svc.Probe != nil {
		rec.ProbeType = svc.Probe.Type
		rec.ProbeAddress = svc.Probe.Address
		rec.ProbeURL = svc.Probe.URL
	}
	e.mu.Lock()
	e.records = append(e.records, rec)
	e.mu.Unlock()

	return orchestrator.Handle{Service: svc.Name, PID: pid}, nil
}

// Records returns what has been launched so far, in launch order.
func (e *Exec) Records() []state.ServiceRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]state.ServiceRecord{}, e.records...)
}

// Stop terminates every recorded process group, SIGTERM first and SIGKILL
// after the shutdown timeout.
func (e *Exec) Stop(ctx context.Context, records []state.ServiceRecord) error {
	var lastErr error
	for _, rec := range records {
		if rec.PID <= 0 {
			continue
		}
		if err := terminatePIDGroup(ctx, rec.PID, e.opts.ShutdownTimeout); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := append([]string{}, base...)
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}

func terminatePIDGroup(ctx context.Context, pid int, timeout time.Duration) error {
	if pid <= 0 {
		return nil
	}
	pgid, err := syscall.Getpgid(pid)
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	deadline := time.Now().Add(timeout)
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()

	for {
		if !state.ProcessAlive(pid) {
			return nil
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	} else {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}

	killDeadline := time.Now().Add(2 * time.Second)
	for state.ProcessAlive(pid) && time.Now().Before(killDeadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	if state.ProcessAlive(pid) {
		return errors.New("failed to stop service")
	}
	return nil
}
