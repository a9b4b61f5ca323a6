package discovery

import (
	"context"
	"time"
)

// Backend is the uniform contract every registry implementation
// satisfies (§4.1): in-memory, Redis, Consul, and Kubernetes.
//
// Enumeration operations (GetInstances, GetInstance, GetAllServices)
// return the empty result on transient backend error rather than
// propagating it — callers see an empty set, the error is only logged.
// Mutation operations (Register, Deregister) propagate fatal errors.
type Backend interface {
	// Register inserts or replaces the instance (I1: re-registering the
	// same ID overwrites).
	Register(ctx context.Context, instance *Instance) error

	// Deregister removes an instance by ID. Idempotent: deregistering an
	// absent ID is not an error.
	Deregister(ctx context.Context, id string) error

	// Heartbeat bumps LastHeartbeat and sets Status to StatusUp. No-op if
	// the instance is absent. MUST NOT return a fatal error for a
	// transient transport failure — the backend logs and swallows it.
	Heartbeat(ctx context.Context, id string) error

	// GetInstances returns every known instance of name, with an
	// optional filter applied. Returns (nil, nil) on transient error.
	GetInstances(ctx context.Context, name string, filter Filter) ([]*Instance, error)

	// GetInstance looks up a single instance by ID. The second return
	// value is false when absent — a miss is not an error (§7, NotFound).
	GetInstance(ctx context.Context, id string) (*Instance, bool, error)

	// GetAllServices lists every known service name.
	GetAllServices(ctx context.Context) ([]string, error)

	// UpdateStatus explicitly overrides an instance's status.
	UpdateStatus(ctx context.Context, id string, status Status) error

	// Cleanup removes expired entries. Idempotent; safe on any schedule.
	Cleanup(ctx context.Context) error

	// Close releases backend-owned resources. Idempotent. Optional in
	// spirit (§4.1 marks it optional) but always present in Go so every
	// backend can be deferred uniformly.
	Close() error
}

// StartCleanupLoop drives b.Cleanup on a fixed interval until the
// returned stop func is called. Backends that want a self-driven sweep
// (the in-process memory backend) use this; backends whose platform
// already expires entries on its own (Redis TTL, Consul TTL checks,
// Kubernetes watching live state) don't need it.
func StartCleanupLoop(b Backend, interval time.Duration) (stop func()) {
	task := startPeriodicTask(interval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		_ = b.Cleanup(ctx)
	})
	return task.stop
}
