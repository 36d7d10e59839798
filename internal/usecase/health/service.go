package health

import (
	"context"
	"sort"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an optional dependency is failing.
	Degraded Status = "degraded"
	// Unhealthy indicates the models are not loaded.
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

type named struct {
	name    string
	checker Checker
}

// Service coordinates health checks.
type Service struct {
	models Readiness
	deps   []named
}

// New creates a Service around the model readiness probe.
func New(models Readiness) *Service {
	return &Service{models: models}
}

// With registers an optional dependency check under name. A nil checker is ignored.
func (s *Service) With(name string, c Checker) *Service {
	if c != nil {
		s.deps = append(s.deps, named{name: name, checker: c})
		sort.SliceStable(s.deps, func(i, j int) bool { return s.deps[i].name < s.deps[j].name })
	}
	return s
}

// Check runs every probe. Unloaded models make the service unhealthy;
// a failing dependency only degrades it.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult, len(s.deps)+1)

	status := Healthy
	if s.models.Ready() {
		checks["models"] = CheckOK
	} else {
		checks["models"] = CheckError
		status = Unhealthy
	}

	for _, d := range s.deps {
		if err := d.checker.HealthCheck(ctx); err != nil {
			checks[d.name] = CheckError
			if status == Healthy {
				status = Degraded
			}
			continue
		}
		checks[d.name] = CheckOK
	}

	return Report{Status: status, Checks: checks}
}
