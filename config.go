package discovery

import (
	"fmt"
	"time"
)

// RegistrarConfig configures a Registrar (§4.2, recognized options in §6).
type RegistrarConfig struct {
	Name                string            `env:"HAZELJS_SERVICE_NAME"`
	Host                string            `env:"HAZELJS_HOST"`
	Port                int               `env:"HAZELJS_PORT"`
	Protocol            Protocol          `env:"HAZELJS_PROTOCOL"`
	HealthCheckPath     string            `env:"HAZELJS_HEALTH_CHECK_PATH"`
	HealthCheckInterval time.Duration     `env:"HAZELJS_HEALTH_CHECK_INTERVAL"`
	Metadata            map[string]interface{}
	Zone                string   `env:"HAZELJS_ZONE"`
	Tags                []string `env:"HAZELJS_TAGS"`
}

// Validate rejects structurally invalid configuration per §6.
func (c *RegistrarConfig) Validate() error {
	if c.Name == "" {
		return &ConfigValidationError{Field: "name", Message: "required and must be non-empty"}
	}
	if c.Port < 0 || c.Port > 65535 {
		return &ConfigValidationError{Field: "port", Message: fmt.Sprintf("must be between 0 and 65535, got %d", c.Port)}
	}
	switch c.Protocol {
	case "", ProtocolHTTP, ProtocolHTTPS, ProtocolGRPC:
	default:
		return &ConfigValidationError{Field: "protocol", Message: fmt.Sprintf("must be one of http, https, grpc, got %q", c.Protocol)}
	}
	if c.HealthCheckInterval < 0 {
		return &ConfigValidationError{Field: "healthCheckInterval", Message: "must be greater than 0 when set"}
	}
	return nil
}

func (c *RegistrarConfig) applyDefaults() {
	if c.Protocol == "" {
		c.Protocol = ProtocolHTTP
	}
	if c.HealthCheckPath == "" {
		c.HealthCheckPath = "/health"
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
}

// DiscoveryClientConfig configures a DiscoveryClient (§4.4, §6).
type DiscoveryClientConfig struct {
	CacheEnabled    bool          `env:"HAZELJS_CACHE_ENABLED"`
	CacheTTL        time.Duration `env:"HAZELJS_CACHE_TTL"`
	RefreshInterval time.Duration `env:"HAZELJS_REFRESH_INTERVAL"`
}

func (c *DiscoveryClientConfig) Validate() error {
	if c.CacheTTL < 0 {
		return &ConfigValidationError{Field: "cacheTTL", Message: "must be greater than 0 when set"}
	}
	if c.RefreshInterval < 0 {
		return &ConfigValidationError{Field: "refreshInterval", Message: "must be greater than 0 when set"}
	}
	return nil
}

func (c *DiscoveryClientConfig) applyDefaults() {
	if c.CacheTTL == 0 {
		c.CacheTTL = 30 * time.Second
	}
}

// ServiceClientConfig configures a ServiceClient (§4.5, §6).
type ServiceClientConfig struct {
	ServiceName           string `env:"HAZELJS_TARGET_SERVICE"`
	LoadBalancingStrategy string `env:"HAZELJS_LB_STRATEGY"`
	Filter                Filter
	Timeout               time.Duration `env:"HAZELJS_CLIENT_TIMEOUT"`
	Retries               int           `env:"HAZELJS_CLIENT_RETRIES"`
	RetryDelay            time.Duration `env:"HAZELJS_CLIENT_RETRY_DELAY"`
}

func (c *ServiceClientConfig) Validate() error {
	if c.ServiceName == "" {
		return &ConfigValidationError{Field: "serviceName", Message: "required and must be non-empty"}
	}
	if c.Timeout < 0 {
		return &ConfigValidationError{Field: "timeout", Message: "must be greater than 0 when set"}
	}
	if c.Retries < 0 {
		return &ConfigValidationError{Field: "retries", Message: "must be >= 0"}
	}
	if c.RetryDelay < 0 {
		return &ConfigValidationError{Field: "retryDelay", Message: "must be >= 0"}
	}
	return nil
}

func (c *ServiceClientConfig) applyDefaults() {
	if c.LoadBalancingStrategy == "" {
		c.LoadBalancingStrategy = "round-robin"
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Retries == 0 {
		c.Retries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 1000 * time.Millisecond
	}
}
