package discovery

import (
	"fmt"
	"time"
)

// Status is the health state of a registered Instance.
type Status string

const (
	StatusUp            Status = "UP"
	StatusDown          Status = "DOWN"
	StatusStarting      Status = "STARTING"
	StatusOutOfService  Status = "OUT_OF_SERVICE"
	StatusUnknown       Status = "UNKNOWN"
)

// Protocol is the transport an Instance's endpoint speaks.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolGRPC  Protocol = "grpc"
)

// Instance is the unit of membership tracked by a Backend.
//
// ID is globally unique within a backend: self-registered instances
// shape it as "name:host:port:registration-timestamp"; platform-discovered
// instances (Kubernetes) shape it as "name:ip:port".
type Instance struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Protocol Protocol `json:"protocol"`
	Status   Status   `json:"status"`

	Metadata map[string]interface{} `json:"metadata"`
	Tags     []string                `json:"tags"`
	Zone     string                  `json:"zone,omitempty"`

	LastHeartbeat time.Time `json:"last_heartbeat"`
	RegisteredAt  time.Time `json:"registered_at"`

	HealthCheckPath     string        `json:"health_check_path,omitempty"`
	HealthCheckInterval time.Duration `json:"health_check_interval,omitempty"`
}

// NewInstance builds an Instance with protocol defaulted to http,
// status STARTING and no tags. Tags are added with WithTags, which
// deduplicates them.
func NewInstance(name, host string, port int) *Instance {
	return &Instance{
		ID:       fmt.Sprintf("%s:%s:%d:%d", name, host, port, time.Now().UnixMilli()),
		Name:     name,
		Host:     host,
		Port:     port,
		Protocol: ProtocolHTTP,
		Status:   StatusStarting,
		Metadata: make(map[string]interface{}),
		Tags:     nil,
	}
}

// WithTags appends tags, keeping the set semantics described in §3:
// first occurrence wins, order of first appearance preserved.
func (i *Instance) WithTags(tags ...string) *Instance {
	seen := make(map[string]bool, len(i.Tags))
	for _, t := range i.Tags {
		seen[t] = true
	}
	for _, t := range tags {
		if !seen[t] {
			seen[t] = true
			i.Tags = append(i.Tags, t)
		}
	}
	return i
}

// BaseURL composes the address a load-balanced call is issued against.
func (i *Instance) BaseURL() string {
	proto := i.Protocol
	if proto == "" {
		proto = ProtocolHTTP
	}
	return fmt.Sprintf("%s://%s:%d", proto, i.Host, i.Port)
}

// Weight returns the load-balancing weight recognized from metadata,
// per §3: non-numeric or non-positive values are treated as 1.
func (i *Instance) Weight() int {
	raw, ok := i.Metadata["weight"]
	if !ok {
		return 1
	}
	switch v := raw.(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return 1
}

// Clone returns a deep-enough copy safe to hand to callers without
// sharing the backend's internal Metadata/Tags slices.
func (i *Instance) Clone() *Instance {
	c := *i
	if i.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	if i.Tags != nil {
		c.Tags = append([]string(nil), i.Tags...)
	}
	return &c
}

// Filter selects instances whose fields match every field the caller
// sets. Per §4.6, an instance matches iff: for every filter field
// present, the instance's corresponding field equals it (tags use set
// containment, metadata uses per-key equality).
type Filter struct {
	Name     string
	Status   Status
	Zone     string
	Tags     []string
	Metadata map[string]interface{}
}

// IsZero reports whether the filter constrains nothing.
func (f Filter) IsZero() bool {
	return f.Name == "" && f.Status == "" && f.Zone == "" && len(f.Tags) == 0 && len(f.Metadata) == 0
}

// Matches implements the predicate described in §4.6.
func (f Filter) Matches(i *Instance) bool {
	if f.Name != "" && f.Name != i.Name {
		return false
	}
	if f.Status != "" && f.Status != i.Status {
		return false
	}
	if f.Zone != "" && f.Zone != i.Zone {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, have := range i.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for k, want := range f.Metadata {
		have, ok := i.Metadata[k]
		if !ok || have != want {
			return false
		}
	}
	return true
}

// ApplyFilter returns the subset of instances matching f, preserving order.
func ApplyFilter(instances []*Instance, f Filter) []*Instance {
	if f.IsZero() {
		return instances
	}
	out := make([]*Instance, 0, len(instances))
	for _, inst := range instances {
		if f.Matches(inst) {
			out = append(out, inst)
		}
	}
	return out
}

// OnlyUp narrows to instances with Status == StatusUp.
// DiscoveryClient.Discover applies it before a strategy selects; the
// Strategy implementations do not check Status themselves and select
// from whatever slice they are given.
func OnlyUp(instances []*Instance) []*Instance {
	out := make([]*Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.Status == StatusUp {
			out = append(out, inst)
		}
	}
	return out
}
