package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ProcStats is a snapshot of a live service process from /proc, shown by
// `stackctl status`.
type ProcStats struct {
	PID       int    `json:"pid"`
	State     string `json:"state"`
	Threads   int    `json:"threads"`
	MemoryMB  int64  `json:"memory_mb"`
	VirtualMB int64  `json:"virtual_mb"`
}

// ReadProcStats parses /proc/[pid]/stat for one process. Errors usually mean
// the process has exited.
func ReadProcStats(pid int) (*ProcStats, error) {
	if pid <= 0 {
		return nil, errors.New("invalid PID")
	}
	b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return nil, errors.Wrap(err, "read stat file")
	}

	// Format: pid (comm) state ppid ... — comm may contain spaces and
	// parentheses, so split after the last ')'.
	content := string(b)
	closeParen := strings.LastIndex(content, ")")
	if closeParen < 0 {
		return nil, errors.New("malformed stat file: no closing paren")
	}
	fields := strings.Fields(strings.TrimSpace(content[closeParen+1:]))
	if len(fields) < 22 {
		return nil, fmt.Errorf("malformed stat file: expected 22+ fields, got %d", len(fields))
	}

	// 0-based indices after comm: 0 state, 17 num_threads, 20 vsize, 21 rss.
	threads, err := strconv.Atoi(fields[17])
	if err != nil {
		return nil, errors.Wrap(err, "parse num_threads")
	}
	vsize, err := strconv.ParseUint(fields[20], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse vsize")
	}
	rss, err := strconv.ParseInt(fields[21], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse rss")
	}

	pageSize := int64(os.Getpagesize())
	return &ProcStats{
		PID:       pid,
		State:     fields[0],
		Threads:   threads,
		MemoryMB:  rss * pageSize / (1024 * 1024),
		VirtualMB: int64(vsize) / (1024 * 1024),
	}, nil
}
