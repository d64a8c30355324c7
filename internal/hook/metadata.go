// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package hook

import (
	"maps"
	"sync"
)

// Aggregator folds the updates contributed to one namespace into its
// metadata.
type Aggregator func(current map[string]any, updates []map[string]any) (map[string]any, error)

// MetadataRegistry collects aggregators and updates during build complete
// hooks. Nothing is merged until Merge is called.
type MetadataRegistry struct {
	mu          sync.Mutex
	aggregators map[string]Aggregator
	updates     map[string][]map[string]any
	order       []string
}

// NewMetadataRegistry creates an empty registry.
func NewMetadataRegistry() *MetadataRegistry {
	return &MetadataRegistry{
		aggregators: make(map[string]Aggregator),
		updates:     make(map[string][]map[string]any),
	}
}

// Aggregator declares how updates to namespace are merged. A later
// declaration replaces an earlier one.
func (r *MetadataRegistry) Aggregator(namespace string, fn Aggregator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aggregators[namespace] = fn
	r.touch(namespace)
}

// Update contributes data to namespace.
func (r *MetadataRegistry) Update(namespace string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates[namespace] = append(r.updates[namespace], maps.Clone(data))
	r.touch(namespace)
}

func (r *MetadataRegistry) touch(namespace string) {
	for _, ns := range r.order {
		if ns == namespace {
			return
		}
	}
	r.order = append(r.order, namespace)
}

// Merge applies every aggregator to base and returns the result. Namespaces
// without an aggregator merge updates key by key, later updates winning.
func (r *MetadataRegistry) Merge(base map[string]map[string]any) (map[string]map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]map[string]any, len(base)+len(r.order))
	for ns, data := range base {
		out[ns] = maps.Clone(data)
	}
	for _, ns := range r.order {
		current := out[ns]
		if current == nil {
			current = map[string]any{}
		}
		updates := r.updates[ns]
		if agg, ok := r.aggregators[ns]; ok {
			merged, err := agg(current, updates)
			if err != nil {
				return nil, err
			}
			if merged != nil {
				current = merged
			}
		} else {
			for _, u := range updates {
				maps.Copy(current, u)
			}
		}
		if len(current) > 0 {
			out[ns] = current
		}
	}
	return out, nil
}
