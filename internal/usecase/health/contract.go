package health

import "context"

// Readiness reports whether the recommender has loaded its models.
type Readiness interface {
	Ready() bool
}

// Checker probes one optional dependency such as the cache, the remote
// embedding provider or the message bus.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f CheckerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }
