package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistrarConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     RegistrarConfig
		wantErr bool
	}{
		{"valid", RegistrarConfig{Name: "orders", Port: 8080}, false},
		{"missing name", RegistrarConfig{Port: 8080}, true},
		{"bad port", RegistrarConfig{Name: "orders", Port: 70000}, true},
		{"bad protocol", RegistrarConfig{Name: "orders", Port: 8080, Protocol: "ftp"}, true},
		{"negative interval", RegistrarConfig{Name: "orders", Port: 8080, HealthCheckInterval: -1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistrarConfigApplyDefaults(t *testing.T) {
	cfg := RegistrarConfig{Name: "orders", Port: 8080}
	cfg.applyDefaults()

	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, "/health", cfg.HealthCheckPath)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
}

func TestDiscoveryClientConfigApplyDefaults(t *testing.T) {
	cfg := DiscoveryClientConfig{}
	cfg.applyDefaults()
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
}

func TestServiceClientConfigValidateRequiresServiceName(t *testing.T) {
	cfg := ServiceClientConfig{}
	assert.Error(t, cfg.Validate())
}

func TestServiceClientConfigApplyDefaults(t *testing.T) {
	cfg := ServiceClientConfig{ServiceName: "orders"}
	cfg.applyDefaults()

	assert.Equal(t, "round-robin", cfg.LoadBalancingStrategy)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, 1000*time.Millisecond, cfg.RetryDelay)
}
