// Package server exposes the landing-page API: bookings, error tracking,
// scheduling webhooks, consent, and the feature-flag bootstrap.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meridian-keys/campaign-tracker/internal/capture"
	"github.com/meridian-keys/campaign-tracker/internal/config"
	"github.com/meridian-keys/campaign-tracker/internal/crm"
	"github.com/meridian-keys/campaign-tracker/internal/store"
)

// Server wires the HTTP handlers to storage, the capture facade, and the CRM
// sink.
type Server struct {
	cfg     config.ServerConfig
	flags   map[string]bool
	mapsKey string

	store   store.Store
	facade  *capture.Facade
	leads   *crm.LeadSink
	limiter *rate.Limiter

	nowFunc func() time.Time
}

// New creates a server. leads may be nil.
func New(cfg *config.Config, st store.Store, facade *capture.Facade, leads *crm.LeadSink) *Server {
	rps := cfg.Server.ErrorTrackingRPS
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Server.ErrorTrackingBurst
	if burst <= 0 {
		burst = 10
	}
	return &Server{
		cfg:     cfg.Server,
		flags:   cfg.Flags.Defaults,
		mapsKey: cfg.Maps.APIKey,
		store:   st,
		facade:  facade,
		leads:   leads,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		nowFunc: time.Now,
	}
}

// Router builds the chi router with CORS and request logging.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/bookings", s.handleBooking)
		r.Post("/bookings/test", s.handleBookingTest)
		r.Post("/error-tracking", s.handleErrorTracking)
		r.Post("/webhooks/cal", s.handleCalWebhook)
		r.Get("/bootstrap", s.handleBootstrap)
		r.Post("/consent", s.handleConsent)

		if s.cfg.DevMode {
			r.Get("/debug/events", s.handleDebugEvents)
		}
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
