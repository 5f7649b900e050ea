package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/savegress/careledger/internal/config"
)

// Server represents the API server
type Server struct {
	config   *config.Config
	router   chi.Router
	handlers *Handlers
	resolver PrincipalResolver
	denylist TokenDenylist
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, handlers *Handlers, resolver PrincipalResolver, denylist TokenDenylist) *Server {
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		handlers: handlers,
		resolver: resolver,
		denylist: denylist,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Public auth endpoints
		r.Post("/auth/register", s.handlers.Register)
		r.Post("/auth/login", s.handlers.Login)

		// Everything else requires an authenticated principal
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(s.config, s.resolver, s.denylist))

			r.Post("/auth/logout", s.handlers.Logout)
			r.Get("/user-type", s.handlers.UserType)

			// Patient records
			r.Post("/add-patient-data", s.handlers.AddPatientData)
			r.Get("/patient-data", s.handlers.PatientData)
			r.Get("/patient-data-history", s.handlers.PatientDataHistory)
			r.Get("/doctor-patient-data/{patientAddress}", s.handlers.DoctorPatientData)

			// Consent
			r.Post("/request-access", s.handlers.RequestAccess)
			r.Post("/approve-access", s.handlers.ApproveAccess)
			r.Post("/revoke-access", s.handlers.RevokeAccess)
			r.Get("/access-requests", s.handlers.AccessRequests)
			r.Get("/previous-requests", s.handlers.PreviousRequests)
			r.Get("/doctor-requests", s.handlers.DoctorRequests)

			// Audit trail
			r.Route("/audit", func(r chi.Router) {
				r.Get("/events", s.handlers.AuditEvents)
				r.Get("/stats", s.handlers.AuditStats)
			})

			// Consent event stream
			r.Get("/ws", s.handlers.Websocket)
		})
	})
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}
