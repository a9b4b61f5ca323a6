package discovery

import (
	"context"
	"sync"
	"time"
)

// DefaultExpiration is the default "now - lastHeartbeat" threshold past
// which the memory backend considers an instance expired (§4.1.1).
const DefaultExpiration = 90 * time.Second

// MemoryBackend is the authoritative, in-process Backend (§4.1.1). All
// mutations go through a single mutex (the "single-writer discipline"
// §5/§9 requires), modeled on the teacher's MockDiscovery
// (core/discovery.go) generalized to the full Backend contract.
type MemoryBackend struct {
	mu         sync.RWMutex
	byID       map[string]*Instance
	byName     map[string]map[string]struct{}
	expiration time.Duration
	logger     Logger
}

// NewMemoryBackend constructs a MemoryBackend. expiration <= 0 uses
// DefaultExpiration.
func NewMemoryBackend(expiration time.Duration) *MemoryBackend {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	return &MemoryBackend{
		byID:       make(map[string]*Instance),
		byName:     make(map[string]map[string]struct{}),
		expiration: expiration,
		logger:     NoOpLogger{},
	}
}

// SetLogger sets the logger used for backend diagnostics.
func (b *MemoryBackend) SetLogger(logger Logger) {
	if logger == nil {
		logger = NoOpLogger{}
	}
	b.logger = logger
}

func (b *MemoryBackend) Register(ctx context.Context, instance *Instance) error {
	if instance == nil || instance.ID == "" {
		return &BackendError{Op: "Register", Backend: "memory", Err: ErrInvalidConfiguration}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	stored := instance.Clone()
	if stored.RegisteredAt.IsZero() {
		stored.RegisteredAt = time.Now()
	}
	if stored.LastHeartbeat.IsZero() {
		stored.LastHeartbeat = time.Now()
	}
	b.byID[stored.ID] = stored

	set, ok := b.byName[stored.Name]
	if !ok {
		set = make(map[string]struct{})
		b.byName[stored.Name] = set
	}
	set[stored.ID] = struct{}{}

	return nil
}

func (b *MemoryBackend) Deregister(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(id)
	return nil
}

// removeLocked deletes an instance from both the id map and the
// service index (I5: deletion removes it from every derived set).
// Caller must hold b.mu for writing.
func (b *MemoryBackend) removeLocked(id string) {
	inst, ok := b.byID[id]
	if !ok {
		return
	}
	delete(b.byID, id)
	if set, ok := b.byName[inst.Name]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(b.byName, inst.Name)
		}
	}
}

func (b *MemoryBackend) Heartbeat(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	inst, ok := b.byID[id]
	if !ok {
		return nil
	}
	inst.LastHeartbeat = time.Now()
	inst.Status = StatusUp
	return nil
}

func (b *MemoryBackend) GetInstances(ctx context.Context, name string, filter Filter) ([]*Instance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := b.byName[name]
	out := make([]*Instance, 0, len(ids))
	for id := range ids {
		inst, ok := b.byID[id]
		if !ok || b.isExpiredLocked(inst) {
			continue
		}
		if filter.Matches(inst) {
			out = append(out, inst.Clone())
		}
	}
	return out, nil
}

func (b *MemoryBackend) GetInstance(ctx context.Context, id string) (*Instance, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	inst, ok := b.byID[id]
	if !ok || b.isExpiredLocked(inst) {
		return nil, false, nil
	}
	return inst.Clone(), true, nil
}

func (b *MemoryBackend) GetAllServices(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.byName))
	for name := range b.byName {
		names = append(names, name)
	}
	return names, nil
}

func (b *MemoryBackend) UpdateStatus(ctx context.Context, id string, status Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	inst, ok := b.byID[id]
	if !ok {
		return nil
	}
	inst.Status = status
	return nil
}

// Cleanup removes entries whose LastHeartbeat is older than expiration
// (§4.1.1). Idempotent, safe on any schedule.
func (b *MemoryBackend) Cleanup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for id, inst := range b.byID {
		if now.Sub(inst.LastHeartbeat) > b.expiration {
			b.removeLocked(id)
			b.logger.Debug("expired instance removed", map[string]interface{}{
				"id":   id,
				"name": inst.Name,
			})
		}
	}
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}

// isExpiredLocked checks TTL expiration; caller must hold b.mu.
func (b *MemoryBackend) isExpiredLocked(inst *Instance) bool {
	return time.Since(inst.LastHeartbeat) > b.expiration
}

var _ Backend = (*MemoryBackend)(nil)
