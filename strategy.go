package discovery

import (
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
)

// Strategy selects one instance from a non-empty slice (§4.3). callerKey
// is strategy-specific context: IPHash uses it as the hash input, the
// other strategies ignore it.
type Strategy interface {
	Name() string
	Select(instances []*Instance, callerKey string) *Instance
}

// Strategy name constants, the values accepted by ServiceClientConfig's
// LoadBalancingStrategy field and StrategyFactory.
const (
	StrategyRoundRobin         = "round-robin"
	StrategyRandom             = "random"
	StrategyLeastConnections   = "least-connections"
	StrategyWeightedRoundRobin = "weighted-round-robin"
	StrategyIPHash             = "ip-hash"
	StrategyZoneAware          = "zone-aware"
)

// StrategyFactory builds a Strategy by name and lets callers add a
// strategy beyond the six named in §4.3 without forking the switch
// statement — purely additive, the six built-in strategies keep their
// documented semantics.
type StrategyFactory struct {
	mu       sync.Mutex
	builders map[string]func() Strategy
}

// NewStrategyFactory returns a factory pre-populated with the six
// strategies §4.3 names.
func NewStrategyFactory() *StrategyFactory {
	f := &StrategyFactory{builders: make(map[string]func() Strategy)}
	f.RegisterStrategy(StrategyRoundRobin, func() Strategy { return NewRoundRobinStrategy() })
	f.RegisterStrategy(StrategyRandom, func() Strategy { return NewRandomStrategy() })
	f.RegisterStrategy(StrategyLeastConnections, func() Strategy { return NewLeastConnectionsStrategy() })
	f.RegisterStrategy(StrategyWeightedRoundRobin, func() Strategy { return NewWeightedRoundRobinStrategy() })
	f.RegisterStrategy(StrategyIPHash, func() Strategy { return NewIPHashStrategy() })
	f.RegisterStrategy(StrategyZoneAware, func() Strategy { return NewZoneAwareStrategy("") })
	return f
}

// RegisterStrategy adds or replaces the builder for name.
func (f *StrategyFactory) RegisterStrategy(name string, build func() Strategy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[name] = build
}

// Build constructs the named strategy, falling back to round-robin for
// an unrecognized name, matching the config layer's own default.
func (f *StrategyFactory) Build(name string) Strategy {
	f.mu.Lock()
	build, ok := f.builders[name]
	f.mu.Unlock()
	if !ok {
		return NewRoundRobinStrategy()
	}
	return build()
}

var defaultStrategyFactory = NewStrategyFactory()

// NewStrategy builds a Strategy by name (§4.3, §6) using the package's
// default factory. Unknown names fall back to round-robin.
func NewStrategy(name string) Strategy {
	return defaultStrategyFactory.Build(name)
}

// roundRobinStrategy cycles through instances in index order, keyed per
// service name so each service keeps its own cursor. Grounded on the
// gokit discovery Client's per-service rrIndex map.
type roundRobinStrategy struct {
	mu      sync.Mutex
	cursors map[string]uint64
}

func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{cursors: make(map[string]uint64)}
}

func (s *roundRobinStrategy) Name() string { return StrategyRoundRobin }

func (s *roundRobinStrategy) Select(instances []*Instance, callerKey string) *Instance {
	if len(instances) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := instances[0].Name
	idx := s.cursors[key] % uint64(len(instances))
	s.cursors[key] = s.cursors[key] + 1
	return instances[idx]
}

// randomStrategy picks a uniformly random instance each call.
type randomStrategy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomStrategy() Strategy {
	return &randomStrategy{rng: rand.New(rand.NewSource(1))}
}

func (s *randomStrategy) Name() string { return StrategyRandom }

func (s *randomStrategy) Select(instances []*Instance, callerKey string) *Instance {
	if len(instances) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return instances[s.rng.Intn(len(instances))]
}

// leastConnectionsStrategy routes to the instance with the fewest
// in-flight calls, tracked externally by the service client via
// Acquire/Release (§4.3).
type leastConnectionsStrategy struct {
	mu    sync.Mutex
	conns map[string]int
}

func NewLeastConnectionsStrategy() *leastConnectionsStrategy {
	return &leastConnectionsStrategy{conns: make(map[string]int)}
}

func (s *leastConnectionsStrategy) Name() string { return StrategyLeastConnections }

func (s *leastConnectionsStrategy) Select(instances []*Instance, callerKey string) *Instance {
	if len(instances) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Instance
	bestCount := -1
	for _, inst := range instances {
		c := s.conns[inst.ID]
		if bestCount == -1 || c < bestCount {
			best = inst
			bestCount = c
		}
	}
	return best
}

// Acquire records a call starting against id.
func (s *leastConnectionsStrategy) Acquire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[id]++
}

// Release records a call finishing against id.
func (s *leastConnectionsStrategy) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[id] > 0 {
		s.conns[id]--
	}
}

// weightedRoundRobinStrategy selects instances proportionally to
// Instance.Weight() using a smooth weighted round-robin (each pick
// increases every instance's current weight by its effective weight,
// then the heaviest is chosen and reduced by the total).
type weightedRoundRobinStrategy struct {
	mu      sync.Mutex
	current map[string]int
}

func NewWeightedRoundRobinStrategy() Strategy {
	return &weightedRoundRobinStrategy{current: make(map[string]int)}
}

func (s *weightedRoundRobinStrategy) Name() string { return StrategyWeightedRoundRobin }

func (s *weightedRoundRobinStrategy) Select(instances []*Instance, callerKey string) *Instance {
	if len(instances) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	var best *Instance
	bestCurrent := 0
	for _, inst := range instances {
		w := inst.Weight()
		total += w
		s.current[inst.ID] += w
		if best == nil || s.current[inst.ID] > bestCurrent {
			best = inst
			bestCurrent = s.current[inst.ID]
		}
	}
	if best != nil {
		s.current[best.ID] -= total
	}
	return best
}

// ipHashStrategy deterministically maps a caller key (client IP,
// session ID, etc.) to the same instance across calls, as long as the
// instance set is unchanged.
type ipHashStrategy struct{}

func NewIPHashStrategy() Strategy {
	return ipHashStrategy{}
}

func (ipHashStrategy) Name() string { return StrategyIPHash }

func (ipHashStrategy) Select(instances []*Instance, callerKey string) *Instance {
	if len(instances) == 0 {
		return nil
	}
	if callerKey == "" {
		return instances[0]
	}
	h := fnv.New32a()
	h.Write([]byte(callerKey))
	idx := h.Sum32() % uint32(len(instances))
	return instances[idx]
}

// zoneAwareStrategy prefers instances in localZone, falling back to a
// round-robin over the full set when no instance matches.
type zoneAwareStrategy struct {
	localZone string
	fallback  Strategy
	counter   uint64
}

func NewZoneAwareStrategy(localZone string) Strategy {
	return &zoneAwareStrategy{localZone: localZone, fallback: NewRoundRobinStrategy()}
}

func (s *zoneAwareStrategy) Name() string { return StrategyZoneAware }

func (s *zoneAwareStrategy) Select(instances []*Instance, callerKey string) *Instance {
	if len(instances) == 0 {
		return nil
	}
	if s.localZone != "" {
		local := make([]*Instance, 0, len(instances))
		for _, inst := range instances {
			if inst.Zone == s.localZone {
				local = append(local, inst)
			}
		}
		if len(local) > 0 {
			idx := atomic.AddUint64(&s.counter, 1) - 1
			return local[idx%uint64(len(local))]
		}
	}
	return s.fallback.Select(instances, callerKey)
}
