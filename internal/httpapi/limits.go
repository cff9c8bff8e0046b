package httpapi

import (
	"errors"
	"net/http"
	"time"

	"cpms/internal/models"
	"cpms/internal/services"

	"github.com/go-chi/chi/v5"
)

type limitResp struct {
	ChargingProfileId int64    `json:"chargingProfileId"`
	Purpose           string   `json:"chargingProfilePurpose"`
	StackLevel        int      `json:"stackLevel"`
	RateUnit          string   `json:"chargingRateUnit"`
	Limit             float64  `json:"limit"`
	NumberPhases      *int     `json:"numberPhases,omitempty"`
	MinChargingRate   *float64 `json:"minChargingRate,omitempty"`
	PeriodIndex       int      `json:"periodIndex"`
	OffsetSeconds     int64    `json:"offsetSeconds"`
}

func toLimitResp(l *models.EffectiveLimit) *limitResp {
	if l == nil {
		return nil
	}
	return &limitResp{
		ChargingProfileId: l.ProfileId,
		Purpose:           string(l.Purpose),
		StackLevel:        l.StackLevel,
		RateUnit:          string(l.RateUnit),
		Limit:             l.Period.Limit,
		NumberPhases:      l.Period.NumberPhases,
		MinChargingRate:   l.MinChargingRate,
		PeriodIndex:       l.PeriodIndex,
		OffsetSeconds:     l.OffsetSeconds,
	}
}

type schedulePeriodResp struct {
	Start time.Time  `json:"start"`
	End   time.Time  `json:"end"`
	Limit *limitResp `json:"limit"`
}

// scopeFromQuery reads the connector and transaction a limit is resolved for.
func scopeFromQuery(r *http.Request) (models.Scope, error) {
	scope := models.Scope{ChargePointId: chi.URLParam(r, "chargePointId")}
	var err error
	if scope.ConnectorId, err = optInt(r, "connectorId"); err != nil {
		return scope, err
	}
	if scope.TransactionId, err = optInt(r, "transactionId"); err != nil {
		return scope, err
	}
	if scope.ActivatedAt, err = optTime(r, "activatedAt"); err != nil {
		return scope, err
	}
	return scope, nil
}

func (s *Server) GetLimit(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	at, err := instant(r, "at")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit, ok, err := s.Engine.Query(r.Context(), scope, at)
	if err != nil {
		s.dbError(w, err)
		return
	}
	resp := map[string]any{"chargePointId": scope.ChargePointId, "at": at, "limit": nil}
	if ok {
		resp["limit"] = toLimitResp(&limit)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) GetConnectorLimits(w http.ResponseWriter, r *http.Request) {
	cp := chi.URLParam(r, "chargePointId")
	connectors, err := intList(r, "connectorIds")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	at, err := instant(r, "at")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	items, err := s.Engine.QueryConnectors(r.Context(), cp, connectors, at)
	if err != nil {
		s.dbError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]any{"connectorId": it.ConnectorId, "limit": toLimitResp(it.Limit)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"chargePointId": cp, "at": at, "connectors": out})
}

func (s *Server) GetCompositeSchedule(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	from, err := instant(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	window := s.Cfg.Schedule.DefaultWindow
	d, err := optDuration(r, "duration")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if d != nil {
		window = *d
	}

	periods, err := s.Engine.CompositeSchedule(r.Context(), scope, from, window)
	if errors.Is(err, services.ErrInvalidWindow) || errors.Is(err, services.ErrWindowTooLarge) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.dbError(w, err)
		return
	}
	out := make([]schedulePeriodResp, 0, len(periods))
	for _, p := range periods {
		out = append(out, schedulePeriodResp{Start: p.Start, End: p.End, Limit: toLimitResp(p.Limit)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chargePointId": scope.ChargePointId,
		"from":          from,
		"duration":      int64(window / time.Second),
		"periods":       out,
	})
}
