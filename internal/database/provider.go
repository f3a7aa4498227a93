package database

import (
	"context"
	"errors"
	"sync"
)

var (
	backendMu   sync.RWMutex
	backendFunc func() Store
)

// RegisterBackend registers the Store constructor. This is called by the
// postgres package to avoid import cycles.
func RegisterBackend(fn func() Store) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backendFunc = fn
}

// IsInitialized returns whether a backend has been registered.
func IsInitialized() bool {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backendFunc != nil
}

// GetStore returns the registered Store.
func GetStore(_ context.Context) (Store, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if backendFunc == nil {
		return nil, errors.New("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	return backendFunc(), nil
}
