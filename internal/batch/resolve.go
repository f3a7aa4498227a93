package batch

import (
	"context"
	"fmt"

	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/layers"
)

// Resolver loads the layers named by a Key and composes them through a
// shared cache.
type Resolver struct {
	layers database.LayerStore
	cache  *layers.Cache
}

// NewResolver creates a Resolver.
func NewResolver(store database.LayerStore, cache *layers.Cache) *Resolver {
	if cache == nil {
		cache = layers.NewCache()
	}
	return &Resolver{layers: store, cache: cache}
}

// Cache returns the composed-config cache.
func (r *Resolver) Cache() *layers.Cache {
	return r.cache
}

// Resolve composes the config for key. A zero universal version means the
// active universal layer.
func (r *Resolver) Resolve(ctx context.Context, key layers.Key, universalOnly bool) (layers.EffectiveConfig, error) {
	var (
		universal *database.ConfigLayer
		err       error
	)
	if key.UniversalVersion == 0 {
		universal, err = r.layers.GetActiveUniversal(ctx)
	} else {
		universal, err = r.layers.GetUniversalByVersion(ctx, key.UniversalVersion)
	}
	if err != nil {
		return layers.EffectiveConfig{}, fmt.Errorf("loading universal layer: %w", err)
	}

	var typeLayer, modelLayer *layers.Layer
	if !universalOnly {
		if typeLayer, err = r.load(ctx, key.TypeConfigID, layers.KindType); err != nil {
			return layers.EffectiveConfig{}, err
		}
		if modelLayer, err = r.load(ctx, key.ModelConfigID, layers.KindModel); err != nil {
			return layers.EffectiveConfig{}, err
		}
	}

	return r.cache.Compose(universal.Layer, typeLayer, modelLayer, layers.Options{UniversalOnly: universalOnly}), nil
}

// ForFolder composes the folder's type and model layers over the active
// universal layer.
func (r *Resolver) ForFolder(ctx context.Context, folder *database.Folder, universalOnly bool) (layers.EffectiveConfig, error) {
	return r.Resolve(ctx, layers.Key{
		TypeConfigID:  folder.TypeConfigID,
		ModelConfigID: folder.ModelConfigID,
	}, universalOnly)
}

func (r *Resolver) load(ctx context.Context, id string, kind layers.Kind) (*layers.Layer, error) {
	if id == "" {
		return nil, nil
	}
	l, err := r.layers.GetLayer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading %s layer %s: %w", kind, id, err)
	}
	if l.Kind != kind {
		return nil, fmt.Errorf("layer %s is a %s layer, want %s", id, l.Kind, kind)
	}
	return &l.Layer, nil
}
