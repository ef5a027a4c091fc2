package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/watson-creative/tracking-injector/internal/cache"
	"github.com/watson-creative/tracking-injector/internal/jobs"
	"github.com/watson-creative/tracking-injector/internal/updater"
)

type updatesResponse struct {
	Slug             string               `json:"slug"`
	InstalledVersion string               `json:"installed_version"`
	Update           *updater.UpdateOffer `json:"update,omitempty"`
	State            *updater.UpdateState `json:"state"`
	Message          string               `json:"message,omitempty"`
}

func (s *Server) updatesPayload(state *updater.UpdateState, message string) updatesResponse {
	checker := s.app.Checker()
	resp := updatesResponse{
		Slug:             checker.Slug(),
		InstalledVersion: checker.InstalledVersion(),
		State:            state,
		Message:          message,
	}
	if offer, ok := state.Response[checker.Slug()]; ok {
		resp.Update = &offer
	}
	return resp
}

func (s *Server) respondUpdateError(w http.ResponseWriter, err error) {
	if errors.Is(err, jobs.ErrNoChecker) {
		RespondWithError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.log.Errorf("Update check failed: %v", err)
	RespondWithError(w, http.StatusInternalServerError, "Failed to check for updates")
}

// handleGetUpdates runs a rate-limited update check, or a full refresh when
// the force-check parameter is present.
func (s *Server) handleGetUpdates(w http.ResponseWriter, r *http.Request) {
	var (
		state *updater.UpdateState
		err   error
	)
	if r.URL.Query().Has("force-check") {
		state, err = jobs.ForceCheck(r.Context(), s.app)
	} else {
		state, err = jobs.RunUpdateCheck(r.Context(), s.app, false)
	}
	if err != nil {
		s.respondUpdateError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, s.updatesPayload(state, ""))
}

func (s *Server) handleForceCheck(w http.ResponseWriter, r *http.Request) {
	state, err := jobs.ForceCheck(r.Context(), s.app)
	if err != nil {
		s.respondUpdateError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, s.updatesPayload(state, "Update cache cleared and check completed."))
}

func (s *Server) handlePluginInfo(w http.ResponseWriter, r *http.Request) {
	checker := s.app.Checker()
	if checker == nil {
		RespondWithError(w, http.StatusServiceUnavailable, jobs.ErrNoChecker.Error())
		return
	}
	q := r.URL.Query()
	action := q.Get("action")
	if action == "" {
		action = "plugin_information"
	}
	info, ok := checker.PluginInfo(r.Context(), action, updater.InfoRequest{Slug: q.Get("slug")})
	if !ok {
		RespondWithError(w, http.StatusNotFound, "Plugin not handled by this updater")
		return
	}
	RespondWithJSON(w, http.StatusOK, info)
}

func (s *Server) handleUpgradePlugin(w http.ResponseWriter, r *http.Request) {
	if s.app.Upgrader() == nil {
		RespondWithError(w, http.StatusServiceUnavailable, jobs.ErrNoChecker.Error())
		return
	}
	if err := s.app.JobManager().RunJob(jobs.JobUpgrade, s.app); err != nil {
		RespondWithError(w, http.StatusConflict, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusAccepted, map[string]string{
		"message": "Upgrade started.",
	})
}

func (s *Server) handleListUpgrades(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			RespondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	slug := r.URL.Query().Get("slug")
	if slug == "" && s.app.Checker() != nil {
		slug = s.app.Checker().Slug()
	}
	records, err := s.store.GetInstallHistory(r.Context(), slug, limit)
	if err != nil {
		s.log.Errorf("Failed to load install history: %v", err)
		RespondWithError(w, http.StatusInternalServerError, "Failed to load install history")
		return
	}
	RespondWithJSON(w, http.StatusOK, records)
}

// handleUpdaterDebug reports the checker configuration, the cached repository
// data and the last upgrade error.
func (s *Server) handleUpdaterDebug(w http.ResponseWriter, r *http.Request) {
	checker := s.app.Checker()
	if checker == nil {
		RespondWithError(w, http.StatusServiceUnavailable, jobs.ErrNoChecker.Error())
		return
	}
	ctx := r.Context()
	slug := checker.Slug()

	lastError, _, err := s.store.GetOption(ctx, jobs.LastErrorOption(slug))
	if err != nil {
		s.log.Warnf("Failed to read last upgrade error: %v", err)
	}

	var data updater.RepositoryData
	if _, err := cache.GetJSON(ctx, s.store.Transients(), cache.Key(slug, cache.PurposeGitHubData), &data); err != nil {
		s.log.Warnf("Failed to read cached GitHub data: %v", err)
	}

	cfg := checker.Config()
	cfg.ZipURL = redactQuery(cfg.ZipURL)

	RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"slug":              slug,
		"installed_version": checker.InstalledVersion(),
		"last_error":        lastError,
		"github_data":       data,
		"config":            cfg,
	})
}

// redactQuery drops the query string, which may carry an access token.
func redactQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	return u.String()
}
