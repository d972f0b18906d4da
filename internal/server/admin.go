package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/llmrouter/gateway/internal"
)

// statsResponse is the /admin/stats body: gateway counters, per-provider
// probe results, circuit states, and pipeline queue depth.
type statsResponse struct {
	Inflight  int                     `json:"inflight"`
	Queued    int64                   `json:"queued"`
	Providers map[string]providerStat `json:"providers"`
	Registry  registryStat            `json:"registry"`
}

type providerStat struct {
	Healthy      bool   `json:"healthy"`
	ProbeLatency int64  `json:"probeLatencyMs"`
	Circuit      string `json:"circuit"`
	Failures     int    `json:"consecutiveFailures"`
}

type registryStat struct {
	Version   int `json:"version"`
	Providers int `json:"providers"`
	Models    int `json:"models"`
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	running, queued := s.deps.Pipeline.Inflight()
	snap := s.deps.Registry.Snapshot()

	stats := statsResponse{
		Inflight:  running,
		Queued:    queued,
		Providers: make(map[string]providerStat),
		Registry: registryStat{
			Version:   snap.Version,
			Providers: len(snap.Providers),
			Models:    len(snap.Models),
		},
	}

	circuits := s.deps.Breakers.Snapshots()
	for _, pid := range snap.ProviderIDs() {
		stat := providerStat{Healthy: true, Circuit: "closed"}
		if c, ok := circuits[pid]; ok {
			stat.Circuit = c.State
			stat.Failures = c.Consecutive
		}
		if s.deps.Health != nil {
			if hs, ok := s.deps.Health.Statuses()[pid]; ok {
				stat.Healthy = hs.OK
				stat.ProbeLatency = hs.Latency.Milliseconds()
			}
		}
		stats.Providers[pid] = stat
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache != nil {
		s.deps.Cache.Purge(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

// serviceEntry is one row of the /services provider listing.
type serviceEntry struct {
	ID         string   `json:"id"`
	Dialect    string   `json:"dialect"`
	Models     []string `json:"models"`
	Region     string   `json:"region,omitempty"`
	Healthy    *bool    `json:"healthy,omitempty"`
	Circuit    string   `json:"circuit"`
	RateBudget int64    `json:"rateBudget,omitempty"`
}

func (s *server) handleListServices(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Registry.Snapshot()
	circuits := s.deps.Breakers.Snapshots()

	entries := make([]serviceEntry, 0, len(snap.Providers))
	for _, pid := range snap.ProviderIDs() {
		p := snap.Providers[pid]
		e := serviceEntry{
			ID:         pid,
			Dialect:    string(p.Dialect),
			Models:     p.Models,
			Region:     p.Region,
			Circuit:    "closed",
			RateBudget: p.RateBudget,
		}
		if c, ok := circuits[pid]; ok {
			e.Circuit = c.State
		}
		if s.deps.Health != nil {
			if hs, ok := s.deps.Health.Statuses()[pid]; ok {
				healthy := hs.OK
				e.Healthy = &healthy
			}
		}
		entries = append(entries, e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": entries})
}

// localModelEntry is one row of the local-runner model listing.
type localModelEntry struct {
	ID         string `json:"id"`
	ProviderID string `json:"provider"`
	Loaded     bool   `json:"loaded"`
	Context    int    `json:"contextWindow"`
}

func (s *server) handleListLocalModels(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Registry.Snapshot()
	entries := []localModelEntry{}
	for _, pid := range snap.ProviderIDs() {
		p := snap.Providers[pid]
		if p.Dialect != gateway.DialectGGUFLocal {
			continue
		}
		for _, name := range p.Models {
			e := localModelEntry{ID: name, ProviderID: pid}
			if m := snap.Model(pid, name); m != nil {
				e.Loaded = m.Loaded
				e.Context = m.ContextWindow
			}
			entries = append(entries, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": entries})
}

type modelLoadRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// localLoader resolves the ModelLoader adapter for a load/unload request.
// When the provider is omitted, the first local provider hosting the model
// wins.
func (s *server) localLoader(providerID, model string) (string, gateway.ModelLoader, error) {
	snap := s.deps.Registry.Snapshot()
	if providerID == "" {
		for _, pid := range snap.ProviderIDs() {
			p := snap.Providers[pid]
			if p.Dialect != gateway.DialectGGUFLocal {
				continue
			}
			if snap.Model(pid, model) != nil {
				providerID = pid
				break
			}
		}
	}
	if providerID == "" {
		return "", nil, gateway.E(gateway.KindNotFound, "no local provider hosts model %s", model)
	}
	adapter, err := s.deps.Registry.Adapter(providerID)
	if err != nil {
		return "", nil, err
	}
	loader, ok := adapter.(gateway.ModelLoader)
	if !ok {
		return "", nil, gateway.E(gateway.KindInvalidRequest, "provider %s does not manage model lifecycle", providerID)
	}
	return providerID, loader, nil
}

func (s *server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	var req modelLoadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Model == "" {
		writeError(w, r, gateway.E(gateway.KindInvalidRequest, "model is required"))
		return
	}

	providerID, loader, err := s.localLoader(req.Provider, req.Model)
	if err != nil {
		writeError(w, r, err)
		return
	}

	start := time.Now()
	if err := loader.LoadModel(r.Context(), req.Model); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Registry.SetModelLoaded(providerID, req.Model, true); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider": providerID,
		"model":    req.Model,
		"loaded":   true,
		"loadMs":   time.Since(start).Milliseconds(),
	})
}

func (s *server) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	// The id accepts both a bare model name and a "<provider>:<modelId>" ref.
	providerID, model := splitModelRef(chi.URLParam(r, "id"))
	if q := r.URL.Query().Get("provider"); q != "" {
		providerID = q
	}
	providerID, loader, err := s.localLoader(providerID, model)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := loader.UnloadModel(r.Context(), model); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Registry.SetModelLoaded(providerID, model, false); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
