package topology

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Probe kinds understood by the prober.
const (
	ProbeHTTP = "http"
	ProbeTCP  = "tcp"
	ProbeExec = "exec"
)

// Service describes one named unit of the topology. The command is opaque to
// the orchestrator; it is handed to the launcher as-is.
type Service struct {
	Name      string            `yaml:"-"`
	Command   []string          `yaml:"command"`
	Cwd       string            `yaml:"cwd,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	EnvFile   string            `yaml:"env_file,omitempty"`
	DependsOn []string          `yaml:"depends_on,omitempty"`
	Probe     *Probe            `yaml:"health,omitempty"`
}

// Probe describes a single bounded liveness check. Retries is the number of
// additional attempts after the first one, so a service is declared failed
// after Retries+1 unhealthy probes.
type Probe struct {
	Type     string   `yaml:"type"`
	URL      string   `yaml:"url,omitempty"`
	Address  string   `yaml:"address,omitempty"`
	Command  []string `yaml:"command,omitempty"`
	Interval Duration `yaml:"interval,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
	Retries  int      `yaml:"retries,omitempty"`
}

// Topology is the immutable set of service descriptors for one run.
type Topology struct {
	Services map[string]*Service `yaml:"services"`
}

// Names returns all declared service names in unspecified order.
func (t *Topology) Names() []string {
	out := make([]string, 0, len(t.Services))
	for name := range t.Services {
		out = append(out, name)
	}
	return out
}

// Lookup returns the descriptor for name, or nil.
func (t *Topology) Lookup(name string) *Service {
	if t == nil {
		return nil
	}
	return t.Services[name]
}

// Duration wraps time.Duration so topology files can say "2s" or "500ms".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
