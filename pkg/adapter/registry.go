package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/leapstack-labs/redcapetl/pkg/core"
)

// Factory opens a connection for cfg.
type Factory func(ctx context.Context, cfg Config, logger *slog.Logger) (Connection, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a target factory to the registry.
// Called by target implementations in their init() functions.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get retrieves a target factory by name.
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Open connects to the target named by cfg.Type.
// A nil logger uses a discard logger.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Connection, error) {
	if cfg.Type == "" {
		return nil, core.Errorf(core.ConfigError, "open target", "target type not specified")
	}
	factory, ok := Get(cfg.Type)
	if !ok {
		return nil, &core.Error{
			Code: core.ConfigError,
			Op:   "open target",
			Err:  &UnknownAdapterError{Type: cfg.Type, Available: ListAdapters()},
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conn, err := factory(ctx, cfg.WithDefaults(), logger)
	if err != nil {
		return nil, &core.Error{Code: core.DatabaseError, Op: "connect " + cfg.Type, Err: err}
	}
	return conn, nil
}

// ListAdapters returns all registered target names (sorted).
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a target type is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// UnknownAdapterError is returned when an unknown target type is requested.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown target type %q\nAvailable targets: %v\nHint: Check target.type in redcapetl.yaml", e.Type, e.Available)
}
