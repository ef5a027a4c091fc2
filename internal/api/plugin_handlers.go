package api

import (
	"net/http"

	"github.com/watson-creative/tracking-injector/internal/plugins"
	"github.com/watson-creative/tracking-injector/internal/store"
)

type pluginResponse struct {
	Slug      string            `json:"slug"`
	Metadata  *plugins.Metadata `json:"metadata"`
	Installed bool              `json:"installed"`
	Active    bool              `json:"active"`
	Version   string            `json:"recorded_version,omitempty"`
	Managed   bool              `json:"managed"`
}

// handleListPlugins lists the plugins found on disk together with their
// recorded activation state.
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	found, err := s.app.Registry().Discover()
	if err != nil {
		s.log.Errorf("Failed to discover plugins: %v", err)
		RespondWithError(w, http.StatusInternalServerError, "Failed to discover plugins")
		return
	}

	records, err := s.store.GetAllInstalledPlugins(r.Context())
	if err != nil {
		s.log.Errorf("Failed to load installed plugins: %v", err)
		RespondWithError(w, http.StatusInternalServerError, "Failed to load installed plugins")
		return
	}
	bySlug := make(map[string]*store.InstalledPlugin, len(records))
	for _, rec := range records {
		bySlug[rec.Slug] = rec
	}

	managed := ""
	if s.app.Checker() != nil {
		managed = s.app.Checker().Slug()
	}

	resp := make([]pluginResponse, 0, len(found))
	for _, p := range found {
		item := pluginResponse{Slug: p.Slug, Metadata: p.Metadata, Managed: p.Slug == managed}
		if rec, ok := bySlug[p.Slug]; ok {
			item.Installed = true
			item.Active = rec.Active
			item.Version = rec.Version
		}
		resp = append(resp, item)
	}
	RespondWithJSON(w, http.StatusOK, resp)
}
