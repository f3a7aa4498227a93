package layers

import "sync"

// Cache memoizes EffectiveConfigs by Key. A universal-only compose has an
// empty type and model id, the same key as the universal layer alone.
type Cache struct {
	mu      sync.RWMutex
	configs map[Key]EffectiveConfig
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{configs: make(map[Key]EffectiveConfig)}
}

// Compose returns the cached config for the chain or composes and stores it.
func (c *Cache) Compose(universal Layer, typeLayer, modelLayer *Layer, opts Options) EffectiveConfig {
	k := Key{UniversalVersion: universal.Version}
	if !opts.UniversalOnly {
		if typeLayer != nil {
			k.TypeConfigID = typeLayer.ID
		}
		if modelLayer != nil {
			k.ModelConfigID = modelLayer.ID
		}
	}

	c.mu.RLock()
	cfg, ok := c.configs[k]
	c.mu.RUnlock()
	if ok {
		return cfg
	}

	cfg = Compose(universal, typeLayer, modelLayer, opts)
	c.mu.Lock()
	c.configs[k] = cfg
	c.mu.Unlock()
	return cfg
}

// Invalidate drops every cached config. Call after any layer is edited.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs = make(map[Key]EffectiveConfig)
}

// Len returns the number of cached configs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.configs)
}
