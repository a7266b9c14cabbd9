package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	appTrade "github.com/livetrade/livetrade/internal/application/trade"
	domainTrade "github.com/livetrade/livetrade/internal/domain/trade"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	tradeSvc    *appTrade.Service
	corsOrigins []string
}

// NewServer builds the API. With no origins every origin is allowed.
func NewServer(tradeSvc *appTrade.Service, corsOrigins ...string) *Server {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	return &Server{
		tradeSvc:    tradeSvc,
		corsOrigins: corsOrigins,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)

	r.Post("/set_target", s.setTarget)
	r.Post("/offer", s.addOffer)
	r.Post("/remove_offer", s.removeOffer)
	r.Post("/accept", s.accept)
	r.Post("/reset", s.reset)
	r.Get("/status", s.status)

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondServiceError maps service errors onto status codes. Storage
// failures are not echoed to the client.
func respondServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, domainTrade.ErrInvalidInput) {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "trade store unavailable")
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
