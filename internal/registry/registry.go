// Package registry holds the provider/model catalog as a copy-on-write
// snapshot. Reads are lock-free pointer loads; a mutation publishes a new
// immutable snapshot with a version bump.
package registry

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	gateway "github.com/llmrouter/gateway/internal"
)

// Snapshot is an immutable view of the catalog. Never mutate a published
// snapshot; copy, change, and publish.
type Snapshot struct {
	Version   int
	Providers map[string]*gateway.ProviderInfo
	Models    map[string]*gateway.ModelInfo // keyed "provider:model"
	order     []string                      // provider ids, sorted for determinism
}

// ProviderIDs returns the sorted provider ids.
func (s *Snapshot) ProviderIDs() []string { return s.order }

// Model returns the model record for (providerID, model), or nil.
func (s *Snapshot) Model(providerID, model string) *gateway.ModelInfo {
	return s.Models[providerID+":"+model]
}

// Registry combines the catalog snapshot with the live adapter table and
// per-model observed performance windows.
type Registry struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[Snapshot]

	adapters sync.Map // providerID -> gateway.Provider
	perf     sync.Map // "provider:model" -> *Perf
}

// New returns an empty registry with a published version-0 snapshot.
func New() *Registry {
	r := &Registry{}
	r.snap.Store(&Snapshot{
		Providers: map[string]*gateway.ProviderInfo{},
		Models:    map[string]*gateway.ModelInfo{},
	})
	return r
}

// Snapshot returns the current immutable catalog view.
func (r *Registry) Snapshot() *Snapshot { return r.snap.Load() }

// Publish replaces the catalog with the given records, bumping the version.
func (r *Registry) Publish(providers []*gateway.ProviderInfo, models []*gateway.ModelInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.snap.Load()
	next := &Snapshot{
		Version:   old.Version + 1,
		Providers: make(map[string]*gateway.ProviderInfo, len(providers)),
		Models:    make(map[string]*gateway.ModelInfo, len(models)),
	}
	for _, p := range providers {
		cp := *p
		cp.Version = next.Version
		next.Providers[p.ID] = &cp
		next.order = append(next.order, p.ID)
	}
	slices.Sort(next.order)
	for _, m := range models {
		cp := *m
		next.Models[m.ProviderID+":"+m.ID] = &cp
	}
	r.snap.Store(next)
}

// UpsertProvider publishes a new snapshot with p added or replaced.
func (r *Registry) UpsertProvider(p *gateway.ProviderInfo, models []*gateway.ModelInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.snap.Load()
	next := cloneSnapshot(old)
	next.Version = old.Version + 1
	cp := *p
	cp.Version = next.Version
	next.Providers[p.ID] = &cp
	if !slices.Contains(next.order, p.ID) {
		next.order = append(next.order, p.ID)
		slices.Sort(next.order)
	}
	for _, m := range models {
		mc := *m
		next.Models[m.ProviderID+":"+m.ID] = &mc
	}
	r.snap.Store(next)
}

// SetModelLoaded publishes a snapshot with the model's loaded flag changed.
// Only meaningful for gguf_local providers; other mutations go through
// UpsertProvider.
func (r *Registry) SetModelLoaded(providerID, model string, loaded bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.snap.Load()
	key := providerID + ":" + model
	m, ok := old.Models[key]
	if !ok {
		return gateway.E(gateway.KindNotFound, "model %s not registered", key)
	}
	next := cloneSnapshot(old)
	next.Version = old.Version + 1
	mc := *m
	mc.Loaded = loaded
	next.Models[key] = &mc
	r.snap.Store(next)
	return nil
}

func cloneSnapshot(old *Snapshot) *Snapshot {
	next := &Snapshot{
		Version:   old.Version,
		Providers: make(map[string]*gateway.ProviderInfo, len(old.Providers)),
		Models:    make(map[string]*gateway.ModelInfo, len(old.Models)),
		order:     slices.Clone(old.order),
	}
	for k, v := range old.Providers {
		next.Providers[k] = v
	}
	for k, v := range old.Models {
		next.Models[k] = v
	}
	return next
}

// RegisterAdapter installs the live adapter for a provider id.
func (r *Registry) RegisterAdapter(providerID string, p gateway.Provider) {
	r.adapters.Store(providerID, p)
}

// Adapter returns the live adapter for a provider id.
func (r *Registry) Adapter(providerID string) (gateway.Provider, error) {
	v, ok := r.adapters.Load(providerID)
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", providerID)
	}
	return v.(gateway.Provider), nil
}

// AdapterIDs returns the sorted ids of all registered adapters.
func (r *Registry) AdapterIDs() []string {
	var ids []string
	r.adapters.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	slices.Sort(ids)
	return ids
}

// Perf returns the performance window for (providerID, model), creating it
// on first use.
func (r *Registry) Perf(providerID, model string) *Perf {
	key := providerID + ":" + model
	if v, ok := r.perf.Load(key); ok {
		return v.(*Perf)
	}
	v, _ := r.perf.LoadOrStore(key, newPerf())
	return v.(*Perf)
}

// CandidatesFor returns every (provider, model) pair in the snapshot that
// hosts the given model id, in deterministic provider order. An empty model
// returns every registered pair.
func (s *Snapshot) CandidatesFor(model string) []gateway.Candidate {
	var out []gateway.Candidate
	for _, pid := range s.order {
		p := s.Providers[pid]
		for _, m := range p.Models {
			if model == "" || m == model {
				out = append(out, gateway.Candidate{ProviderID: pid, Model: m})
			}
		}
	}
	return out
}
