package httpapi

import (
	"net/http"

	"cpms/internal/config"
	"cpms/internal/logger"
	"cpms/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Cfg       config.Config
	Engine    *services.Engine
	Chargers  services.ChargerRegistry
	Processor *services.EventsProcessor
	Metrics   http.Handler
	Log       logger.Logger
}

func NewServer(cfg config.Config, engine *services.Engine, chargers services.ChargerRegistry, processor *services.EventsProcessor, metrics http.Handler, log logger.Logger) *Server {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Server{Cfg: cfg, Engine: engine, Chargers: chargers, Processor: processor, Metrics: metrics, Log: log}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, requestLog(s.Log))

	r.Route("/v1/gateway", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return RequireBearer(s.Cfg.GatewayAPIKey, next) })
		r.Post("/events", s.IngestEvent)
	})

	r.Route("/v1/profiles", func(r chi.Router) {
		r.Post("/validate", s.ValidateProfile)
		r.Post("/", s.CreateProfile)
		r.Get("/", s.ListProfiles)
		r.Get("/{profileId}", s.GetProfile)
		r.Put("/{profileId}", s.ReplaceProfile)
		r.Delete("/{profileId}", s.DeleteProfile)
	})

	r.Get("/v1/chargers/{chargePointId}", s.GetCharger)
	r.Get("/v1/chargers/{chargePointId}/limit", s.GetLimit)
	r.Get("/v1/chargers/{chargePointId}/limits", s.GetConnectorLimits)
	r.Get("/v1/chargers/{chargePointId}/schedule", s.GetCompositeSchedule)

	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics)
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return r
}

func (s *Server) IngestEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := readAll(r, 2<<20)
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	evtType, err := s.Processor.Ingest(r.Context(), raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "type": evtType})
}

func (s *Server) GetCharger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chargePointId")
	ch, err := s.Chargers.Get(r.Context(), id)
	if err != nil {
		s.dbError(w, err)
		return
	}
	if ch == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chargePointId": ch.ChargePointId,
		"isActive":      ch.IsActive,
		"vendor":        ch.Vendor,
		"model":         ch.Model,
		"ocppVersion":   ch.OcppVersion,
		"lastSeenAt":    ch.LastSeenAt,
		"createdAt":     ch.CreatedAt,
		"updatedAt":     ch.UpdatedAt,
	})
}

func (s *Server) dbError(w http.ResponseWriter, err error) {
	s.Log.Errorf("request failed: %v", err)
	http.Error(w, "db error", http.StatusInternalServerError)
}
