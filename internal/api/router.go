package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fleet-bridge/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Bridge WebSocket (token query parameter, validated in handler)
	r.Get(s.wsPath(), s.handleBridgeSocket)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check and metrics (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/mqtt", func(r chi.Router) {
				r.Route("/profiles", func(r chi.Router) {
					r.With(s.require(auth.PermProfilesRead)).Get("/", s.handleListProfiles)
					r.With(s.require(auth.PermProfilesRead)).Get("/default", s.handleGetDefaultProfile)
					r.With(s.require(auth.PermProfilesManage)).Post("/", s.handleCreateProfile)

					r.Route("/{id}", func(r chi.Router) {
						r.With(s.require(auth.PermProfilesRead)).Get("/", s.handleGetProfile)
						r.With(s.require(auth.PermProfilesManage)).Put("/", s.handleUpdateProfile)
						r.With(s.require(auth.PermProfilesManage)).Patch("/", s.handleUpdateProfile)
						r.With(s.require(auth.PermProfilesManage)).Delete("/", s.handleDeleteProfile)
						r.With(s.require(auth.PermProfilesManage)).Post("/default", s.handleSetDefaultProfile)
					})
				})

				r.With(s.require(auth.PermProfilesRead)).Post("/test", s.handleTestConnect)
			})

			r.Route("/devices", func(r chi.Router) {
				r.With(s.require(auth.PermDevicesRead)).Get("/", s.handleListDevices)
				r.With(s.require(auth.PermDevicesRead)).Get("/current", s.handleCurrentDevices)
				r.With(s.require(auth.PermDevicesManage)).Post("/", s.handleCreateDevice)
				r.With(s.require(auth.PermDevicesManage)).Delete("/clear", s.handleClearRegistry)

				r.Route("/{deviceId}", func(r chi.Router) {
					r.With(s.require(auth.PermDevicesRead)).Get("/", s.handleGetDevice)
					r.With(s.require(auth.PermDevicesManage)).Put("/", s.handleUpdateDevice)
					r.With(s.require(auth.PermDevicesManage)).Patch("/", s.handleUpdateDevice)
					r.With(s.require(auth.PermDevicesManage)).Delete("/", s.handleDeleteDevice)
					r.With(s.require(auth.PermDevicesManage)).Post("/set-current", s.handleSetCurrentDevice)
					r.With(s.require(auth.PermDevicesManage)).Post("/set-gateway", s.handleSetGatewayDevice)
				})
			})

			r.With(s.require(auth.PermProfilesRead)).Get("/network/ping", s.handlePing)
			r.With(s.require(auth.PermProfilesRead)).Post("/redis/test", s.handleRedisTest)
			r.With(s.require(auth.PermAuditRead)).Get("/audit", s.handleListAudit)
			r.With(s.require(auth.PermSessionsRead)).Get("/error-codes", s.handleErrorCodes)

			r.Route("/sessions", func(r chi.Router) {
				r.With(s.require(auth.PermSessionsRead)).Get("/", s.handleListSessions)

				r.Route("/{id}", func(r chi.Router) {
					r.Group(func(r chi.Router) {
						r.Use(s.require(auth.PermSessionsRead))
						r.Get("/", s.handleGetSession)
						r.Get("/subscriptions", s.handleSessionSubscriptions)
						r.Get("/history", s.handleSessionHistory)
						r.Get("/devices", s.handleSessionDevices)
						r.Get("/devices/{deviceId}", s.handleSessionDevice)
					})

					r.Group(func(r chi.Router) {
						r.Use(s.require(auth.PermSessionsManage))
						r.Delete("/history", s.handleClearHistory)
						r.Delete("/devices", s.handleClearDevices)
					})

					r.Group(func(r chi.Router) {
						r.Use(s.require(auth.PermBridgePublish))
						r.Post("/services", s.handleServiceCall)
						r.Post("/devices/{deviceId}/live/{action}", s.handleLive)
						r.Post("/devices/{deviceId}/fileupload/{action}", s.handleFileUpload)
					})
				})
			})
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws/mqtt"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"sessions": s.sessions.Len(),
	})
}
