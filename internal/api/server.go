// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/watson-creative/tracking-injector/internal/core"
	"github.com/watson-creative/tracking-injector/internal/logger"
	"github.com/watson-creative/tracking-injector/internal/store"
	"github.com/watson-creative/tracking-injector/internal/tracking"
	"github.com/watson-creative/tracking-injector/internal/websocket"
)

// Server holds the dependencies for our API.
type Server struct {
	app   *core.App
	store *store.Store
	log   *logrus.Entry

	// verified caches digests of tokens that already passed bcrypt.
	verified sync.Map
}

// Store returns the store instance.
func (s *Server) Store() *store.Store {
	return s.store
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{
		app:   app,
		store: app.Store(),
		log:   logger.New("api"),
	}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.log, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/version", s.handleGetVersion)
	r.Get("/api/health", s.handleHealth)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.AdminOnlyMiddleware)

		r.Get("/updates", s.handleGetUpdates)
		r.Post("/updates/force-check", s.handleForceCheck)
		r.Get("/updater/debug", s.handleUpdaterDebug)
		r.Get("/upgrades", s.handleListUpgrades)

		r.Get("/plugins", s.handleListPlugins)
		r.Get("/plugins/info", s.handlePluginInfo)
		r.Post("/plugins/upgrade", s.handleUpgradePlugin)

		r.Get("/tracking/settings", s.handleGetTrackingSettings)
		r.Put("/tracking/settings", s.handleUpdateTrackingSettings)

		r.Get("/jobs/status", s.handleGetAdminJobsStatus)
		r.Post("/jobs/run", s.handleRunAdminJob)

		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWs(s.app.WsHub(), w, r)
		})
	})

	// Everything else is the site, served with the tracking code injected.
	site := http.FileServer(http.Dir(s.app.Config().Site.Path))
	inject := tracking.Middleware(tracking.StoreSource(s.store), s.app.Config().IsLive(), logger.New("tracking"))
	r.Handle("/*", inject(site))

	return r
}
