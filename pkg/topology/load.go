package topology

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultFilename = "stack.yaml"

// DefaultPath returns the topology file path under root.
func DefaultPath(root string) string {
	return filepath.Join(root, DefaultFilename)
}

// ValidationError reports a malformed topology. The orchestrator treats it as
// fatal: no launch is ever attempted for an invalid topology.
type ValidationError struct {
	Service string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Service == "" {
		return "invalid topology: " + e.Reason
	}
	return "invalid topology: service " + e.Service + ": " + e.Reason
}

// Load reads, parses and validates a topology file. Env files referenced by
// services are resolved relative to the topology file's directory and merged
// into the service env, with explicit env entries winning.
func Load(path string) (*Topology, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read topology")
	}
	topo, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if err := resolveEnvFiles(topo, filepath.Dir(path)); err != nil {
		return nil, err
	}
	return topo, nil
}

// Parse decodes and validates topology YAML. It does not touch the
// filesystem; env_file references are resolved by Load.
func Parse(b []byte) (*Topology, error) {
	var topo Topology
	if err := yaml.Unmarshal(b, &topo); err != nil {
		return nil, errors.Wrap(err, "parse topology yaml")
	}
	for name, svc := range topo.Services {
		if svc == nil {
			svc = &Service{}
			topo.Services[name] = svc
		}
		svc.Name = name
	}
	if err := validate(&topo); err != nil {
		return nil, err
	}
	return &topo, nil
}

func validate(topo *Topology) error {
	if len(topo.Services) == 0 {
		return &ValidationError{Reason: "no services declared"}
	}

	names := topo.Names()
	sort.Strings(names)

	for _, name := range names {
		svc := topo.Services[name]
		if name == "" {
			return &ValidationError{Reason: "service with empty name"}
		}
		if len(svc.Command) == 0 {
			return &ValidationError{Service: name, Reason: "missing command"}
		}
		seen := map[string]bool{}
		for _, dep := range svc.DependsOn {
			if dep == name {
				return &ValidationError{Service: name, Reason: "depends on itself"}
			}
			if _, ok := topo.Services[dep]; !ok {
				return &ValidationError{Service: name, Reason: "unknown dependency " + dep}
			}
			if seen[dep] {
				return &ValidationError{Service: name, Reason: "duplicate dependency " + dep}
			}
			seen[dep] = true
		}
		if svc.Probe != nil {
			if err := validateProbe(name, svc.Probe); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateProbe(service string, p *Probe) error {
	switch p.Type {
	case ProbeHTTP:
		if p.URL == "" && p.Address == "" {
			return &ValidationError{Service: service, Reason: "http probe missing url"}
		}
	case ProbeTCP:
		if p.Address == "" {
			return &ValidationError{Service: service, Reason: "tcp probe missing address"}
		}
	case ProbeExec:
		if len(p.Command) == 0 {
			return &ValidationError{Service: service, Reason: "exec probe missing command"}
		}
	case "":
		return &ValidationError{Service: service, Reason: "probe missing type"}
	default:
		return &ValidationError{Service: service, Reason: "unsupported probe type " + p.Type}
	}
	if p.Interval <= 0 {
		return &ValidationError{Service: service, Reason: "probe interval must be > 0"}
	}
	if p.Timeout <= 0 {
		return &ValidationError{Service: service, Reason: "probe timeout must be > 0"}
	}
	if p.Retries < 0 {
		return &ValidationError{Service: service, Reason: "probe retries must be >= 0"}
	}
	return nil
}

func resolveEnvFiles(topo *Topology, dir string) error {
	for _, svc := range topo.Services {
		if svc.EnvFile == "" {
			continue
		}
		path := svc.EnvFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		fileEnv, err := godotenv.Read(path)
		if err != nil {
			return errors.Wrapf(err, "service %s: read env file", svc.Name)
		}
		merged := make(map[string]string, len(fileEnv)+len(svc.Env))
		for k, v := range fileEnv {
			merged[k] = v
		}
		for k, v := range svc.Env {
			merged[k] = v
		}
		svc.Env = merged
	}
	return nil
}
