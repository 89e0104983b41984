package monitoring

import (
	"context"
	"sync"
)

// Registry holds at most one Manager. Initialize creates it on first use and
// ignores the configuration of every later call.
type Registry struct {
	mu       sync.RWMutex
	instance *Manager
}

// Initialize returns the registered manager, creating it from cfg when absent.
func (r *Registry) Initialize(cfg Config, opts ...Option) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.instance == nil {
		r.instance = NewManager(cfg, opts...)
	}
	return r.instance
}

// Instance returns the registered manager or nil.
func (r *Registry) Instance() *Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instance
}

// Dispose tears down the registered manager's telemetry. The manager stays
// registered.
func (r *Registry) Dispose(ctx context.Context) {
	if m := r.Instance(); m != nil {
		m.Dispose(ctx)
	}
}

var defaultRegistry Registry

// Initialize creates the process-wide manager on first call. Later calls return
// the same manager and ignore cfg.
func Initialize(cfg Config, opts ...Option) *Manager {
	return defaultRegistry.Initialize(cfg, opts...)
}

// Instance returns the process-wide manager, or nil before Initialize.
func Instance() *Manager {
	return defaultRegistry.Instance()
}

// Dispose flushes and stops the process-wide manager. Call it before exit so
// trailing events are delivered.
func Dispose(ctx context.Context) {
	defaultRegistry.Dispose(ctx)
}
