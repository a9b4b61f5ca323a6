package kubernetes

import "github.com/hazel-js/discovery"

// Config configures the read-only Kubernetes backend (spec §4.1.4).
type Config struct {
	Namespace     string `env:"HAZELJS_K8S_NAMESPACE"`
	LabelSelector string `env:"HAZELJS_K8S_LABEL_SELECTOR"`
}

func (c *Config) Validate() error {
	if c.Namespace == "" {
		return &discovery.ConfigValidationError{Field: "namespace", Message: "required and must be non-empty"}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LabelSelector == "" {
		c.LabelSelector = "app.kubernetes.io/managed-by=hazeljs"
	}
}
