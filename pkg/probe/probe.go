package probe

import (
	"context"
	"net"
	"net/http"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/go-go-golems/stackctl/pkg/topology"
)

// Once performs exactly one liveness check bounded by the probe's timeout.
// A nil return means healthy; a non-nil return carries the unhealthy reason.
// Retry policy lives in the orchestrator, not here.
func Once(ctx context.Context, p topology.Probe) error {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout.Std())
	defer cancel()

	var err error
	switch p.Type {
	case topology.ProbeTCP:
		err = tcpOnce(ctx, p.Address)
	case topology.ProbeHTTP:
		url := p.URL
		if url == "" {
			url = p.Address
		}
		err = httpOnce(ctx, url)
	case topology.ProbeExec:
		err = execOnce(ctx, p.Command)
	default:
		return errors.Errorf("unsupported probe type %q", p.Type)
	}

	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return errors.New("timeout")
	}
	return err
}

func tcpOnce(ctx context.Context, address string) error {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return errors.Wrap(err, "tcp dial")
	}
	_ = conn.Close()
	return nil
}

func httpOnce(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "http get")
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 500 {
		return nil
	}
	return errors.Errorf("http status %d", resp.StatusCode)
}

func execOnce(ctx context.Context, command []string) error {
	// #nosec G204 -- probe command is configured in the topology file.
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	if err := cmd.Run(); err != nil {
		return errors.Wrap(err, "probe command")
	}
	return nil
}
