package orchestrator

// ServiceResult is one service's terminal outcome.
type ServiceResult struct {
	Name   string `json:"name"`
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// Report is the outcome of one orchestration run, in start order.
type Report struct {
	Results []ServiceResult `json:"results"`
}

// AllHealthy reports whether every service reached Healthy.
func (r *Report) AllHealthy() bool {
	for _, res := range r.Results {
		if res.State != StateHealthy {
			return false
		}
	}
	return true
}

// Failed returns the names of services that did not reach Healthy, in start
// order.
func (r *Report) Failed() []string {
	var out []string
	for _, res := range r.Results {
		if res.State != StateHealthy {
			out = append(out, res.Name)
		}
	}
	return out
}

// Result returns the outcome for name.
func (r *Report) Result(name string) (ServiceResult, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return ServiceResult{}, false
}
