package consul

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/hazel-js/discovery"
)

const checkIDFormat = "service:%s"

// Backend is the Consul-backed discovery.Backend (spec §4.1.3): TTL
// checks, a background timer per registered id passing the check
// every ceil(2*ttl/3) seconds, status derived from the check array on
// enumeration. Grounded on the kbukum-gokit consul Provider
// (buildHealthCheck, PassTTL/FailTTL, serviceEntryToInstance) and the
// cheungyik-due registrar's checkIDFormat + keepHeartbeat goroutine
// lifecycle, generalized onto discovery.Instance/discovery.Backend.
type Backend struct {
	client *api.Client
	ttl    time.Duration
	logger discovery.Logger

	mu     sync.Mutex
	timers map[string]*time.Ticker
	stopCh map[string]chan struct{}
	wg     sync.WaitGroup
}

func NewBackend(cfg Config) (*Backend, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Address
	apiCfg.Scheme = cfg.Scheme
	apiCfg.Token = cfg.Token

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, &discovery.BackendError{Op: "NewBackend", Backend: "consul", Err: err}
	}

	return &Backend{
		client: client,
		ttl:    ParseTTL(cfg.TTL),
		logger: discovery.NoOpLogger{},
		timers: make(map[string]*time.Ticker),
		stopCh: make(map[string]chan struct{}),
	}, nil
}

func (b *Backend) SetLogger(logger discovery.Logger) {
	if logger == nil {
		logger = discovery.NoOpLogger{}
	}
	b.logger = logger
}

// Register installs a TTL health check (default "30s",
// deregister_critical_service_after 90s) and starts the background
// timer that passes it every ceil(2*ttl/3) seconds, per spec §4.1.3.
func (b *Backend) Register(ctx context.Context, instance *discovery.Instance) error {
	reg := &api.AgentServiceRegistration{
		ID:      instance.ID,
		Name:    instance.Name,
		Address: instance.Host,
		Port:    instance.Port,
		Tags:    instance.Tags,
		Meta:    stringifyMetadata(instance.Metadata),
		Check: &api.AgentServiceCheck{
			TTL:                            b.ttl.String(),
			DeregisterCriticalServiceAfter: "90s",
		},
	}

	if err := b.client.Agent().ServiceRegister(reg); err != nil {
		return &discovery.BackendError{Op: "Register", Backend: "consul", ID: instance.ID, Err: err}
	}

	b.startTTLTimer(instance.ID)
	return nil
}

func (b *Backend) startTTLTimer(id string) {
	interval := time.Duration(math.Ceil(2*b.ttl.Seconds()/3)) * time.Second
	if interval <= 0 {
		interval = b.ttl
	}

	b.mu.Lock()
	if _, exists := b.timers[id]; exists {
		b.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	ticker := time.NewTicker(interval)
	b.timers[id] = ticker
	b.stopCh[id] = stop
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer ticker.Stop()
		checkID := fmt.Sprintf(checkIDFormat, id)
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := b.client.Agent().PassTTL(checkID, "heartbeat"); err != nil {
					b.logger.Warn("consul ttl pass failed", map[string]interface{}{"id": id, "error": err.Error()})
				}
			}
		}
	}()
}

func (b *Backend) stopTTLTimer(id string) {
	b.mu.Lock()
	stop, ok := b.stopCh[id]
	if ok {
		delete(b.stopCh, id)
		delete(b.timers, id)
	}
	b.mu.Unlock()
	if ok {
		close(stop)
	}
}

func (b *Backend) Deregister(ctx context.Context, id string) error {
	b.stopTTLTimer(id)
	if err := b.client.Agent().ServiceDeregister(id); err != nil {
		return &discovery.BackendError{Op: "Deregister", Backend: "consul", ID: id, Err: err}
	}
	return nil
}

// Heartbeat passes the TTL check immediately, in addition to the
// background timer, matching the Backend interface's heartbeat
// semantics; a failure here is transient and logged, never fatal.
func (b *Backend) Heartbeat(ctx context.Context, id string) error {
	checkID := fmt.Sprintf(checkIDFormat, id)
	if err := b.client.Agent().PassTTL(checkID, "heartbeat"); err != nil {
		b.logger.Warn("consul heartbeat failed", map[string]interface{}{"id": id, "error": err.Error()})
	}
	return nil
}

// GetInstances fetches every instance of name (passing=false, so
// critical/warning entries are included) and derives status from each
// entry's check array, per spec §4.1.3.
func (b *Backend) GetInstances(ctx context.Context, name string, filter discovery.Filter) ([]*discovery.Instance, error) {
	entries, _, err := b.client.Health().Service(name, "", false, nil)
	if err != nil {
		b.logger.Error("consul health service failed", map[string]interface{}{"service": name, "error": err.Error()})
		return nil, nil
	}

	out := make([]*discovery.Instance, 0, len(entries))
	for _, e := range entries {
		inst := entryToInstance(e)
		if filter.Matches(inst) {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (b *Backend) GetInstance(ctx context.Context, id string) (*discovery.Instance, bool, error) {
	entries, _, err := b.client.Health().State(api.HealthAny, nil)
	if err != nil {
		return nil, false, nil
	}
	for _, e := range entries {
		if e.ServiceID == id {
			svc, _, err := b.client.Catalog().Service(e.ServiceName, "", nil)
			if err != nil {
				continue
			}
			for _, s := range svc {
				if s.ServiceID == id {
					return catalogToInstance(s), true, nil
				}
			}
		}
	}
	return nil, false, nil
}

func (b *Backend) GetAllServices(ctx context.Context) ([]string, error) {
	services, _, err := b.client.Catalog().Services(nil)
	if err != nil {
		b.logger.Error("consul catalog services failed", map[string]interface{}{"error": err.Error()})
		return nil, nil
	}
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	return names, nil
}

// UpdateStatus maps UP to a TTL pass, DOWN to a TTL fail, STARTING to
// a TTL warn, per spec §4.1.3.
func (b *Backend) UpdateStatus(ctx context.Context, id string, status discovery.Status) error {
	checkID := fmt.Sprintf(checkIDFormat, id)
	var err error
	switch status {
	case discovery.StatusUp:
		err = b.client.Agent().PassTTL(checkID, "status up")
	case discovery.StatusDown:
		err = b.client.Agent().FailTTL(checkID, "status down")
	case discovery.StatusStarting:
		err = b.client.Agent().WarnTTL(checkID, "starting")
	default:
		return nil
	}
	if err != nil {
		return &discovery.BackendError{Op: "UpdateStatus", Backend: "consul", ID: id, Err: err}
	}
	return nil
}

// Cleanup is a no-op: Consul owns expiration via
// deregister_critical_service_after, per spec §4.1.3.
func (b *Backend) Cleanup(ctx context.Context) error {
	return nil
}

// Close stops every TTL timer goroutine.
func (b *Backend) Close() error {
	b.mu.Lock()
	ids := make([]string, 0, len(b.stopCh))
	for id := range b.stopCh {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.stopTTLTimer(id)
	}
	b.wg.Wait()
	return nil
}

func stringifyMetadata(metadata map[string]interface{}) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

// entryToInstance derives status from the check array: critical→DOWN
// (break), warning→STARTING (continue), else UP — per spec §4.1.3.
func entryToInstance(e *api.ServiceEntry) *discovery.Instance {
	status := discovery.StatusUp
	for _, chk := range e.Checks {
		switch chk.Status {
		case api.HealthCritical:
			status = discovery.StatusDown
		case api.HealthWarning:
			if status != discovery.StatusDown {
				status = discovery.StatusStarting
			}
		}
		if status == discovery.StatusDown {
			break
		}
	}

	inst := &discovery.Instance{
		ID:       e.Service.ID,
		Name:     e.Service.Service,
		Host:     e.Service.Address,
		Port:     e.Service.Port,
		Protocol: discovery.ProtocolHTTP,
		Status:   status,
		Tags:     e.Service.Tags,
		Metadata: unstringifyMetadata(e.Service.Meta),
	}
	if zone, ok := e.Service.Meta["zone"]; ok {
		inst.Zone = zone
	}
	return inst
}

func catalogToInstance(s *api.CatalogService) *discovery.Instance {
	return &discovery.Instance{
		ID:       s.ServiceID,
		Name:     s.ServiceName,
		Host:     s.ServiceAddress,
		Port:     s.ServicePort,
		Protocol: discovery.ProtocolHTTP,
		Status:   discovery.StatusUnknown,
		Tags:     s.ServiceTags,
		Metadata: unstringifyMetadata(s.ServiceMeta),
	}
}

func unstringifyMetadata(meta map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

var _ discovery.Backend = (*Backend)(nil)
