package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/hazel-js/discovery"
)

// Backend is the Redis-backed discovery.Backend (spec §4.1.2): instance
// records are JSON values at `{prefix}instance:{id}` with TTL, and
// `{prefix}service:{name}` SETs of instance ids with TTL = 2*ttl.
// Grounded on core/redis_registry.go's TxPipeline-based Register and
// get-modify-put Heartbeat, and core/redis_discovery.go's SCAN-based
// service listing — generalized off the teacher's ServiceInfo
// onto discovery.Instance and the full Backend contract.
type Backend struct {
	client    *goredis.Client
	namespace string
	ttl       time.Duration

	connected int32
	logger    discovery.Logger
}

func NewBackend(cfg Config) (*Backend, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Backend{
		client:    client,
		namespace: cfg.Prefix,
		ttl:       cfg.TTL,
		connected: 1,
		logger:    discovery.NoOpLogger{},
	}, nil
}

// NewBackendFromClient wraps an already-constructed *redis.Client,
// used by tests against miniredis.
func NewBackendFromClient(client *goredis.Client, cfg Config) *Backend {
	cfg.applyDefaults()
	return &Backend{
		client:    client,
		namespace: cfg.Prefix,
		ttl:       cfg.TTL,
		connected: 1,
		logger:    discovery.NoOpLogger{},
	}
}

// SetLogger sets the diagnostic logger.
func (b *Backend) SetLogger(logger discovery.Logger) {
	if logger == nil {
		logger = discovery.NoOpLogger{}
	}
	b.logger = logger
}

// MarkDisconnected flags the backend as disconnected until
// MarkConnected is called. While disconnected, Register, Deregister,
// UpdateStatus and GetInstance fail with discovery.ErrNotConnected;
// GetInstances and GetAllServices return an empty result; Heartbeat
// and Cleanup do nothing and return nil.
func (b *Backend) MarkDisconnected() { atomic.StoreInt32(&b.connected, 0) }

// MarkConnected clears the disconnected flag.
func (b *Backend) MarkConnected() { atomic.StoreInt32(&b.connected, 1) }

func (b *Backend) checkConnected() error {
	if atomic.LoadInt32(&b.connected) == 0 {
		return discovery.ErrNotConnected
	}
	return nil
}

func (b *Backend) instanceKey(id string) string {
	return fmt.Sprintf("%sinstance:%s", b.namespace, id)
}

func (b *Backend) serviceKey(name string) string {
	return fmt.Sprintf("%sservice:%s", b.namespace, name)
}

func (b *Backend) Register(ctx context.Context, instance *discovery.Instance) error {
	if err := b.checkConnected(); err != nil {
		return err
	}

	data, err := json.Marshal(instance)
	if err != nil {
		return &discovery.BackendError{Op: "Register", Backend: "redis", ID: instance.ID, Err: err}
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.instanceKey(instance.ID), data, b.ttl)
	svcKey := b.serviceKey(instance.Name)
	pipe.SAdd(ctx, svcKey, instance.ID)
	pipe.Expire(ctx, svcKey, 2*b.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return &discovery.BackendError{Op: "Register", Backend: "redis", ID: instance.ID, Err: err}
	}
	return nil
}

func (b *Backend) Deregister(ctx context.Context, id string) error {
	if err := b.checkConnected(); err != nil {
		return err
	}

	inst, ok, err := b.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.instanceKey(id))
	pipe.SRem(ctx, b.serviceKey(inst.Name), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return &discovery.BackendError{Op: "Deregister", Backend: "redis", ID: id, Err: err}
	}
	return nil
}

// Heartbeat reads-modifies-writes the instance key with a fresh TTL
// (spec §4.1.2). A transient Redis error is logged and swallowed, per
// the Backend interface contract; a missing key is a silent no-op.
func (b *Backend) Heartbeat(ctx context.Context, id string) error {
	if err := b.checkConnected(); err != nil {
		b.logger.Warn("heartbeat skipped, not connected", map[string]interface{}{"id": id})
		return nil
	}

	data, err := b.client.Get(ctx, b.instanceKey(id)).Result()
	if err == goredis.Nil {
		return nil
	}
	if err != nil {
		b.logger.Warn("heartbeat read failed", map[string]interface{}{"id": id, "error": err.Error()})
		return nil
	}

	var inst discovery.Instance
	if err := json.Unmarshal([]byte(data), &inst); err != nil {
		b.logger.Warn("heartbeat decode failed", map[string]interface{}{"id": id, "error": err.Error()})
		return nil
	}
	inst.Status = discovery.StatusUp
	inst.LastHeartbeat = time.Now()

	updated, err := json.Marshal(&inst)
	if err != nil {
		return nil
	}
	if err := b.client.Set(ctx, b.instanceKey(id), updated, b.ttl).Err(); err != nil {
		b.logger.Warn("heartbeat write failed", map[string]interface{}{"id": id, "error": err.Error()})
		return nil
	}
	if err := b.client.Expire(ctx, b.serviceKey(inst.Name), 2*b.ttl).Err(); err != nil {
		b.logger.Debug("failed to refresh service index ttl", map[string]interface{}{"name": inst.Name, "error": err.Error()})
	}
	return nil
}

// GetInstances implements SMEMBERS + batched MGET per spec §4.1.2.
// Returns (nil, nil) on transient Redis error — enumeration never
// fails fatally.
func (b *Backend) GetInstances(ctx context.Context, name string, filter discovery.Filter) ([]*discovery.Instance, error) {
	if err := b.checkConnected(); err != nil {
		b.logger.Error("get instances failed, not connected", map[string]interface{}{"service": name})
		return nil, nil
	}

	ids, err := b.client.SMembers(ctx, b.serviceKey(name)).Result()
	if err != nil {
		b.logger.Error("smembers failed", map[string]interface{}{"service": name, "error": err.Error()})
		return nil, nil
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.instanceKey(id)
	}

	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		b.logger.Error("mget failed", map[string]interface{}{"service": name, "error": err.Error()})
		return nil, nil
	}

	out := make([]*discovery.Instance, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		var inst discovery.Instance
		if err := json.Unmarshal([]byte(s), &inst); err != nil {
			continue
		}
		if filter.Matches(&inst) {
			out = append(out, &inst)
		}
	}
	return out, nil
}

func (b *Backend) GetInstance(ctx context.Context, id string) (*discovery.Instance, bool, error) {
	if err := b.checkConnected(); err != nil {
		return nil, false, err
	}

	data, err := b.client.Get(ctx, b.instanceKey(id)).Result()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, nil
	}

	var inst discovery.Instance
	if err := json.Unmarshal([]byte(data), &inst); err != nil {
		return nil, false, nil
	}
	return &inst, true, nil
}

// GetAllServices lists service names via SCAN with COUNT 100, never
// KEYS, per spec §4.1.2.
func (b *Backend) GetAllServices(ctx context.Context) ([]string, error) {
	if err := b.checkConnected(); err != nil {
		return nil, nil
	}

	pattern := b.serviceKey("*")
	prefixLen := len(b.namespace) + len("service:")

	var names []string
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			b.logger.Error("scan failed", map[string]interface{}{"error": err.Error()})
			return nil, nil
		}
		for _, k := range keys {
			if len(k) > prefixLen {
				names = append(names, k[prefixLen:])
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return names, nil
}

func (b *Backend) UpdateStatus(ctx context.Context, id string, status discovery.Status) error {
	if err := b.checkConnected(); err != nil {
		return err
	}

	inst, ok, err := b.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	inst.Status = status

	data, err := json.Marshal(inst)
	if err != nil {
		return &discovery.BackendError{Op: "UpdateStatus", Backend: "redis", ID: id, Err: err}
	}
	if err := b.client.Set(ctx, b.instanceKey(id), data, b.ttl).Err(); err != nil {
		return &discovery.BackendError{Op: "UpdateStatus", Backend: "redis", ID: id, Err: err}
	}
	return nil
}

// Cleanup walks each service set, probes EXISTS per id, removes stale
// members, and deletes sets left empty, per spec §4.1.2.
func (b *Backend) Cleanup(ctx context.Context) error {
	if err := b.checkConnected(); err != nil {
		return nil
	}

	names, err := b.GetAllServices(ctx)
	if err != nil {
		return nil
	}

	for _, name := range names {
		svcKey := b.serviceKey(name)
		ids, err := b.client.SMembers(ctx, svcKey).Result()
		if err != nil {
			continue
		}
		for _, id := range ids {
			exists, err := b.client.Exists(ctx, b.instanceKey(id)).Result()
			if err != nil {
				continue
			}
			if exists == 0 {
				b.client.SRem(ctx, svcKey, id)
			}
		}
		remaining, err := b.client.SCard(ctx, svcKey).Result()
		if err == nil && remaining == 0 {
			b.client.Del(ctx, svcKey)
		}
	}
	return nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}

var _ discovery.Backend = (*Backend)(nil)
