package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// Builder is the function signature for creating a broker from config. Each
// backend package provides a Builder and registers it, usually from init().
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Broker, error)

// Config provides the configuration values needed by backend builders. The
// interface lets backends read only the keys relevant to them without
// depending on the full config struct.
type Config interface {
	// GetBackend returns the backend name to build.
	GetBackend() string

	// Memory
	GetMemoryQueueCapacity() int
	GetMemoryRequeueOnNack() bool

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaBatchTimeout() time.Duration

	// NATS
	GetNATSURL() string
}

// Registry maps backend names to builders and capabilities.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
}

// DefaultRegistry is the global backend registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[string]Builder),
		capabilities: make(map[string]Capabilities),
	}
}

// Register adds a backend builder under name.
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// RegisterWithCapabilities adds a backend builder and its capabilities.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
	r.capabilities[name] = caps
}

// GetCapabilities returns the capabilities registered for name, or a zero
// Capabilities carrying only the name when the backend is unknown.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Build creates a broker using the builder registered for cfg.GetBackend().
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Broker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidOptions)
	}

	name := cfg.GetBackend()

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q (registered: %v)", ErrInvalidOptions, name, r.Names())
	}

	return builder(ctx, cfg, logger)
}

// Names returns the registered backend names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	return names
}

// Has reports whether a backend is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Register adds a backend builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a backend builder and its capabilities to the
// default registry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// GetCapabilities reads capabilities from the default registry.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}

// Build creates a broker using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Broker, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
