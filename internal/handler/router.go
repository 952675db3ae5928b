package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/supportdesk/internal/config"
	"github.com/supportdesk/internal/middleware"
	"github.com/supportdesk/internal/push"
	"github.com/supportdesk/internal/service"
	"github.com/supportdesk/internal/storage"
	"github.com/supportdesk/internal/ws"
)

// RouterDeps are the collaborators services/api wires into the HTTP router.
type RouterDeps struct {
	Config   *config.Config
	Support  *service.Support
	Presence storage.PresenceStore
	Hub      *ws.Hub
	Push     *push.Client
}

// NewRouter builds the /support REST API, the /ws endpoint and the operational routes.
func NewRouter(d RouterDeps) http.Handler {
	cfg := d.Config
	supportH := NewSupportHandler(d.Support, d.Presence, cfg.RegisterPerHour)
	wsH := NewWSHandler(d.Hub, cfg.CORSAllowedOrigins)
	configH := NewConfigHandler(cfg)
	pushH := NewPushHandler(d.Push)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Skip compression for websocket: the compress writer is not a Hijacker and the upgrade fails.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		admins, customers := d.Hub.Counts()
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "admins": admins, "customers": customers})
	})
	r.With(middleware.InternalOnly).Handle("/metrics", promhttp.Handler())
	r.With(middleware.DetectAdmin(cfg.AdminToken)).Get("/ws", wsH.ServeWS)

	r.Route("/support", func(r chi.Router) {
		r.Use(middleware.RateLimitAPI)
		r.Get("/config", configH.GetClientConfig)
		r.Get("/config/push", configH.GetPushConfig)

		// Customer page: no token.
		r.Post("/register", supportH.Register)
		r.Get("/lookup/{phone}", supportH.Lookup)
		r.Get("/chats/{customerId}", supportH.GetChat)
		r.With(middleware.DetectAdmin(cfg.AdminToken)).Put("/customers/{id}/status", supportH.SetStatus)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminAuth(cfg.AdminToken))
			r.Get("/customers", supportH.ListCustomers)
			r.Post("/messages", supportH.SendMessage)
			r.Put("/customers/{id}/read", supportH.MarkRead)
			r.Post("/push/subscribe", pushH.Subscribe)
			r.Delete("/push/subscribe", pushH.Unsubscribe)
		})
	})
	return r
}
