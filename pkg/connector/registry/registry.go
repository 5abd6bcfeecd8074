// Package registry maps encoder names from configuration to factories.
// Encoder packages register themselves from init, so importing them for side
// effects is enough to make a name available.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ajitpratap0/memsink/pkg/config"
	"github.com/ajitpratap0/memsink/pkg/connector/core"
	"github.com/ajitpratap0/memsink/pkg/errors"
	"github.com/ajitpratap0/memsink/pkg/logger"
	"go.uber.org/zap"
)

// EncoderFactory creates a record encoder from the load configuration.
type EncoderFactory func(cfg config.LoadConfig) (core.RecordEncoder, error)

// Registry manages encoder registration and instantiation
type Registry struct {
	encoders map[string]EncoderFactory
	mu       sync.RWMutex
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new encoder registry
func NewRegistry() *Registry {
	return &Registry{
		encoders: make(map[string]EncoderFactory),
	}
}

// RegisterEncoder registers an encoder factory under name.
func (r *Registry) RegisterEncoder(name string, factory EncoderFactory) error {
	name = strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.encoders[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("encoder %s already registered", name))
	}

	r.encoders[name] = factory
	return nil
}

// CreateEncoder creates the encoder named by cfg.Encoding.
func (r *Registry) CreateEncoder(cfg config.LoadConfig) (core.RecordEncoder, error) {
	name := strings.ToLower(cfg.Encoding)

	r.mu.RLock()
	factory, exists := r.encoders[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig,
			fmt.Sprintf("encoder %s not found, available: %s", name, strings.Join(r.ListEncoders(), ", ")))
	}

	encoder, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create encoder %s", name))
	}

	// resolved lazily: encoders register from init, before the logger is configured
	logger.Get().Debug("encoder created",
		zap.String("component", "encoder_registry"),
		zap.String("name", name))
	return encoder, nil
}

// ListEncoders returns the registered encoder names in sorted order.
func (r *Registry) ListEncoders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.encoders))
	for name := range r.encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasEncoder checks if an encoder is registered
func (r *Registry) HasEncoder(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.encoders[strings.ToLower(name)]
	return exists
}

// Clear removes all registered encoders (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.encoders = make(map[string]EncoderFactory)
}

// Global registry functions

// RegisterEncoder registers an encoder in the global registry
func RegisterEncoder(name string, factory EncoderFactory) error {
	return globalRegistry.RegisterEncoder(name, factory)
}

// CreateEncoder creates an encoder from the global registry
func CreateEncoder(cfg config.LoadConfig) (core.RecordEncoder, error) {
	return globalRegistry.CreateEncoder(cfg)
}

// ListEncoders returns registered encoders from the global registry
func ListEncoders() []string {
	return globalRegistry.ListEncoders()
}

// HasEncoder checks if an encoder is registered in the global registry
func HasEncoder(name string) bool {
	return globalRegistry.HasEncoder(name)
}
