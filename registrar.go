package discovery

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds each health probe issued by the registrar's
// self-check loop, matching the teacher's fixed 5s timeout on outbound
// heartbeat-adjacent calls.
const healthCheckTimeout = 5 * time.Second

// registrarState tracks the Registrar's own lifecycle (§4.2).
type registrarState int

const (
	registrarNew registrarState = iota
	registrarRunning
	registrarStopping
	registrarStopped
)

// Registrar owns one Instance's registration lifecycle against a
// Backend: initial Register, a periodic local health probe (the path
// defaults to /health, so the probe always runs) that sends a backend
// Heartbeat on success and demotes the instance to DOWN otherwise, and
// a clean Deregister on Stop. Grounded on core/redis_registry.go's
// maintainRegistration + StartHeartbeat (jittered ticker, ctx.Done(),
// defer ticker.Stop()) and core/address_resolver.go's host-resolution
// idiom, generalized off Redis onto the Backend interface.
type Registrar struct {
	mu       sync.Mutex
	state    registrarState
	backend  Backend
	instance *Instance
	config   RegistrarConfig
	logger   Logger

	heartbeatTask *periodicTask
	cleanupStop   func()

	healthCheckURL string
	httpClient     *http.Client
}

// registrarCleanupInterval is the fixed period of the registrar's own
// cleanup timer, per spec.md §4.2 ("cleanup at 60 s").
const registrarCleanupInterval = 60 * time.Second

// NewRegistrar constructs a Registrar. config is defaulted and
// validated before use.
func NewRegistrar(backend Backend, config RegistrarConfig, logger Logger) (*Registrar, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NoOpLogger{}
	}

	inst := NewInstance(config.Name, config.Host, config.Port)
	inst.Protocol = config.Protocol
	inst.Zone = config.Zone
	inst.HealthCheckPath = config.HealthCheckPath
	inst.HealthCheckInterval = config.HealthCheckInterval
	if config.Metadata != nil {
		for k, v := range config.Metadata {
			inst.Metadata[k] = v
		}
	}
	inst.WithTags(config.Tags...)

	r := &Registrar{
		backend:    backend,
		instance:   inst,
		config:     config,
		logger:     logger,
		httpClient: &http.Client{Timeout: healthCheckTimeout},
	}
	if config.HealthCheckPath != "" {
		r.healthCheckURL = inst.BaseURL() + config.HealthCheckPath
	}
	return r, nil
}

// Instance returns the registrar's own Instance record (clone-free;
// callers must not mutate it outside Start/Stop).
func (r *Registrar) Instance() *Instance {
	return r.instance
}

// Status returns a read-only snapshot of the registrar's current
// instance state, guarded by the same mutex the background loops use.
// Intended for an embedding service's own /health handler to report
// its registration state alongside its own liveness.
func (r *Registrar) Status() Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.instance.Clone()
}

// Start writes the instance with status STARTING, starts the
// heartbeat timer (which performs the recurring probe+update, per
// spec.md §4.2's "heartbeat tick -> probe+update") and the 60s cleanup
// timer, then performs one synchronous health probe that sets the real
// UP/DOWN status before returning. Calling Start twice is an error (I2:
// one registrar owns one registration).
func (r *Registrar) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != registrarNew {
		r.mu.Unlock()
		return ErrAlreadyRegistered
	}

	r.instance.Status = StatusStarting
	if err := r.backend.Register(ctx, r.instance); err != nil {
		r.mu.Unlock()
		return &BackendError{Op: "Register", Backend: "registrar", ID: r.instance.ID, Err: err}
	}
	r.state = registrarRunning

	r.heartbeatTask = startPeriodicTask(jitter(r.config.HealthCheckInterval), r.probeHealth)
	r.cleanupStop = StartCleanupLoop(r.backend, registrarCleanupInterval)
	r.mu.Unlock()

	r.probeHealth()

	r.logger.Info("registrar started", map[string]interface{}{
		"service": r.config.Name,
		"id":      r.instance.ID,
	})
	return nil
}

// jitter returns a duration within +/-10% of d, spreading heartbeats
// across many registrars so they don't all fire in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) * 0.1
	offset := (rand.Float64()*2 - 1) * spread
	return d + time.Duration(offset)
}

// probeHealth issues a local GET against the configured health path:
// HTTP 200 sets UP and sends a backend heartbeat; any other outcome
// sets DOWN and calls backend.UpdateStatus, per spec.md §4.2. A failed
// probe never propagates; it toggles status and logs at warn.
func (r *Registrar) probeHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.healthCheckURL, nil)
	if err != nil {
		r.logger.Warn("health probe request build failed", map[string]interface{}{
			"id":    r.instance.ID,
			"error": err.Error(),
		})
		return
	}
	resp, err := r.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}

	if err == nil && resp.StatusCode == http.StatusOK {
		if hErr := r.backend.Heartbeat(ctx, r.instance.ID); hErr != nil {
			r.logger.Warn("heartbeat failed", map[string]interface{}{
				"id":    r.instance.ID,
				"error": hErr.Error(),
			})
		}
		r.mu.Lock()
		r.instance.Status = StatusUp
		r.instance.LastHeartbeat = time.Now()
		r.mu.Unlock()
		return
	}

	if uErr := r.backend.UpdateStatus(ctx, r.instance.ID, StatusDown); uErr != nil {
		r.logger.Warn("health probe status update failed", map[string]interface{}{
			"id":    r.instance.ID,
			"error": uErr.Error(),
		})
	}
	r.mu.Lock()
	r.instance.Status = StatusDown
	r.mu.Unlock()
}

// Stop halts the background loops and deregisters the instance. Safe
// to call once; calling again returns ErrNotRegistered.
func (r *Registrar) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state != registrarRunning {
		r.mu.Unlock()
		return ErrNotRegistered
	}
	r.state = registrarStopping
	heartbeatTask := r.heartbeatTask
	cleanupStop := r.cleanupStop
	r.mu.Unlock()

	if heartbeatTask != nil {
		heartbeatTask.stop()
	}
	if cleanupStop != nil {
		cleanupStop()
	}

	err := r.backend.Deregister(ctx, r.instance.ID)

	r.mu.Lock()
	r.state = registrarStopped
	r.mu.Unlock()

	if err != nil {
		return &BackendError{Op: "Deregister", Backend: "registrar", ID: r.instance.ID, Err: err}
	}
	r.logger.Info("registrar stopped", map[string]interface{}{
		"service": r.config.Name,
		"id":      r.instance.ID,
	})
	return nil
}
