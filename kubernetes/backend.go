package kubernetes

import (
	"context"
	"fmt"
	"sync"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/hazel-js/discovery"
)

const (
	zoneLabel       = "topology.kubernetes.io/zone"
	zoneLabelLegacy = "failure-domain.beta.kubernetes.io/zone"
)

// Backend is the read-only Kubernetes discovery.Backend (spec
// §4.1.4): register/deregister/heartbeat/updateStatus/cleanup are
// no-ops since the platform owns lifecycle; getInstances reads
// Endpoints, getAllServices lists Services filtered by a label
// selector. Grounded on the kubernaut ServiceDiscovery's
// kubernetes.Interface usage, generalized onto discovery.Backend.
type Backend struct {
	client    kubernetes.Interface
	namespace string
	selector  string
	logger    discovery.Logger

	zoneMu    sync.Mutex
	zoneCache map[string]string
}

func NewBackend(client kubernetes.Interface, cfg Config) (*Backend, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Backend{
		client:    client,
		namespace: cfg.Namespace,
		selector:  cfg.LabelSelector,
		logger:    discovery.NoOpLogger{},
		zoneCache: make(map[string]string),
	}, nil
}

func (b *Backend) SetLogger(logger discovery.Logger) {
	if logger == nil {
		logger = discovery.NoOpLogger{}
	}
	b.logger = logger
}

// Register is a no-op: the Kubernetes backend is read-only, the
// platform owns instance lifecycle (spec §4.1.4).
func (b *Backend) Register(ctx context.Context, instance *discovery.Instance) error { return nil }

func (b *Backend) Deregister(ctx context.Context, id string) error { return nil }

func (b *Backend) Heartbeat(ctx context.Context, id string) error { return nil }

func (b *Backend) UpdateStatus(ctx context.Context, id string, status discovery.Status) error {
	return nil
}

func (b *Backend) Cleanup(ctx context.Context) error { return nil }

// GetInstances reads the named service's Endpoints: each address in
// subsets becomes one instance per port, ready addresses map to UP,
// notReadyAddresses map to STARTING, per spec §4.1.4.
func (b *Backend) GetInstances(ctx context.Context, name string, filter discovery.Filter) ([]*discovery.Instance, error) {
	ep, err := b.client.CoreV1().Endpoints(b.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		b.logger.Error("get endpoints failed", map[string]interface{}{"service": name, "error": err.Error()})
		return nil, nil
	}

	var out []*discovery.Instance
	for _, subset := range ep.Subsets {
		for _, port := range subset.Ports {
			for _, addr := range subset.Addresses {
				out = append(out, b.toInstance(ctx, name, addr, port, discovery.StatusUp))
			}
			for _, addr := range subset.NotReadyAddresses {
				out = append(out, b.toInstance(ctx, name, addr, port, discovery.StatusStarting))
			}
		}
	}

	result := make([]*discovery.Instance, 0, len(out))
	for _, inst := range out {
		if filter.Matches(inst) {
			result = append(result, inst)
		}
	}
	return result, nil
}

func (b *Backend) toInstance(ctx context.Context, name string, addr corev1.EndpointAddress, port corev1.EndpointPort, status discovery.Status) *discovery.Instance {
	inst := &discovery.Instance{
		ID:       fmt.Sprintf("%s:%s:%d", name, addr.IP, port.Port),
		Name:     name,
		Host:     addr.IP,
		Port:     int(port.Port),
		Protocol: protocolFor(port.Name),
		Status:   status,
		Metadata: make(map[string]interface{}),
	}
	if addr.NodeName != nil {
		inst.Zone = b.zoneForNode(ctx, *addr.NodeName)
	}
	return inst
}

func protocolFor(portName string) discovery.Protocol {
	switch portName {
	case "https":
		return discovery.ProtocolHTTPS
	case "grpc":
		return discovery.ProtocolGRPC
	default:
		return discovery.ProtocolHTTP
	}
}

// zoneForNode reads topology.kubernetes.io/zone (fallback
// failure-domain.beta.kubernetes.io/zone) from the backing Node,
// caching the result per node name for the life of the Backend.
func (b *Backend) zoneForNode(ctx context.Context, nodeName string) string {
	b.zoneMu.Lock()
	if zone, ok := b.zoneCache[nodeName]; ok {
		b.zoneMu.Unlock()
		return zone
	}
	b.zoneMu.Unlock()

	node, err := b.client.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		return ""
	}
	zone := node.Labels[zoneLabel]
	if zone == "" {
		zone = node.Labels[zoneLabelLegacy]
	}

	b.zoneMu.Lock()
	b.zoneCache[nodeName] = zone
	b.zoneMu.Unlock()
	return zone
}

// GetInstance is not efficiently supported by the Endpoints API
// (there is no id-indexed lookup); it lists services under the
// configured selector and scans their instances. NotFound (false) is
// returned rather than an error when id isn't present.
func (b *Backend) GetInstance(ctx context.Context, id string) (*discovery.Instance, bool, error) {
	names, err := b.GetAllServices(ctx)
	if err != nil {
		return nil, false, nil
	}
	for _, name := range names {
		instances, err := b.GetInstances(ctx, name, discovery.Filter{})
		if err != nil {
			continue
		}
		for _, inst := range instances {
			if inst.ID == id {
				return inst, true, nil
			}
		}
	}
	return nil, false, nil
}

// GetAllServices lists services in the namespace filtered by the
// configured label selector (default app.kubernetes.io/managed-by=hazeljs),
// per spec §4.1.4.
func (b *Backend) GetAllServices(ctx context.Context) ([]string, error) {
	list, err := b.client.CoreV1().Services(b.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: b.selector,
	})
	if err != nil {
		b.logger.Error("list services failed", map[string]interface{}{"error": err.Error()})
		return nil, nil
	}
	names := make([]string, 0, len(list.Items))
	for _, svc := range list.Items {
		names = append(names, svc.Name)
	}
	return names, nil
}

// Close is a no-op; the client-go clientset owns no per-backend
// resources that need releasing.
func (b *Backend) Close() error { return nil }

var _ discovery.Backend = (*Backend)(nil)
