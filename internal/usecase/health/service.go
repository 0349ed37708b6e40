package health

import "sort"

// Status represents the aggregated readiness status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates the service cannot answer searches.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates readiness checks over named components.
type Service struct {
	components map[string]Component
	// critical components turn the report Unhealthy when all of them fail.
	critical []string
}

// New creates a Service. critical names the components of which at least
// one must be up for the service to be ready.
func New(components map[string]Component, critical ...string) *Service {
	return &Service{components: components, critical: critical}
}

// Check runs checks against all components.
func (s *Service) Check() Report {
	checks := make(map[string]CheckResult, len(s.components))
	names := make([]string, 0, len(s.components))
	for name := range s.components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if s.components[name] != nil && s.components[name].Operational() {
			checks[name] = CheckOK
		} else {
			checks[name] = CheckError
		}
	}

	status := Healthy
	for _, name := range names {
		if checks[name] == CheckError {
			status = Degraded
			break
		}
	}

	if len(s.critical) > 0 {
		anyUp := false
		for _, name := range s.critical {
			if checks[name] == CheckOK {
				anyUp = true
				break
			}
		}
		if !anyUp {
			status = Unhealthy
		}
	}

	return Report{Status: status, Checks: checks}
}
