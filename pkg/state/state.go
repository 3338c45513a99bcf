package state

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

const (
	StateDirName  = ".stackctl"
	StateFilename = "state.json"
	LogsDirName   = "logs"
)

// Run records what one `up` launched so that down/status/logs can find the
// processes later. Orchestration itself never reads this back: every run
// recomputes the topology and reprobes from scratch.
type Run struct {
	Root      string          `json:"root"`
	Topology  string          `json:"topology"`
	CreatedAt time.Time       `json:"created_at"`
	Services  []ServiceRecord `json:"services"`
}

type ServiceRecord struct {
	Name      string            `json:"name"`
	PID       int               `json:"pid"`
	Command   []string          `json:"command"`
	Cwd       string            `json:"cwd"`
	Env       map[string]string `json:"env,omitempty"`
	StdoutLog string            `json:"stdout_log"`
	StderrLog string            `json:"stderr_log"`
	ExitInfo  string            `json:"exit_info,omitempty"`
	StartedAt time.Time         `json:"started_at,omitempty"`

	// Probe configuration, if the topology declares one.
	ProbeType    string `json:"probe_type,omitempty"`
	ProbeAddress string `json:"probe_address,omitempty"`
	ProbeURL     string `json:"probe_url,omitempty"`
}

func StatePath(root string) string {
	return filepath.Join(root, StateDirName, StateFilename)
}

func LogsDir(root string) string {
	return filepath.Join(root, StateDirName, LogsDirName)
}

func Load(root string) (*Run, error) {
	b, err := os.ReadFile(StatePath(root))
	if err != nil {
		return nil, errors.Wrap(err, "read state")
	}
	var r Run
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, errors.Wrap(err, "parse state json")
	}
	return &r, nil
}

func Save(root string, r *Run) error {
	if r == nil {
		return errors.New("nil state")
	}
	dir := filepath.Dir(StatePath(root))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "mkdir state dir")
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}
	if err := os.WriteFile(StatePath(root), b, 0o644); err != nil {
		return errors.Wrap(err, "write state")
	}
	return nil
}

func Remove(root string) error {
	if err := os.Remove(StatePath(root)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "remove state")
	}
	return nil
}

func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if isZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	if stderrors.Is(err, syscall.EPERM) {
		return true
	}
	return false
}

func isZombie(pid int) bool {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// Format: pid (comm) state ... — comm may contain spaces, so scan from
	// the last ')'.
	i := bytes.LastIndexByte(b, ')')
	if i < 0 {
		return false
	}
	fields := bytes.Fields(bytes.TrimSpace(b[i+1:]))
	if len(fields) < 1 || len(fields[0]) < 1 {
		return false
	}
	return fields[0][0] == 'Z'
}
