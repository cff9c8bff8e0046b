package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"cpms/internal/models"
	"cpms/internal/services"
	"cpms/internal/smartcharging"

	"github.com/go-chi/chi/v5"
)

type validationResp struct {
	Valid   bool   `json:"valid"`
	Rule    string `json:"rule,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

type profileResp struct {
	ChargingProfileId int64 `json:"chargingProfileId"`
	models.ProfileDraft
}

func toProfileResp(p models.ChargingProfile) profileResp {
	return profileResp{ChargingProfileId: p.Id, ProfileDraft: smartcharging.Draft(p)}
}

func decodeDraft(w http.ResponseWriter, r *http.Request) (models.ProfileDraft, bool) {
	var d models.ProfileDraft
	raw, err := readAll(r, 1<<20)
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return d, false
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return d, false
	}
	return d, true
}

// profileError maps engine errors to responses. It returns false when err is
// nil.
func (s *Server) profileError(w http.ResponseWriter, r *http.Request, err error) bool {
	if err == nil {
		return false
	}
	var verr *smartcharging.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, validationResp{
			Valid:   false,
			Rule:    string(verr.Rule),
			Field:   verr.Field,
			Message: verr.Message,
		})
	case errors.Is(err, services.ErrProfileNotFound):
		http.NotFound(w, r)
	default:
		s.dbError(w, err)
	}
	return true
}

func profileID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "profileId"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "bad profile id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) ValidateProfile(w http.ResponseWriter, r *http.Request) {
	d, ok := decodeDraft(w, r)
	if !ok {
		return
	}
	if s.profileError(w, r, s.Engine.Validate(d)) {
		return
	}
	writeJSON(w, http.StatusOK, validationResp{Valid: true})
}

func (s *Server) CreateProfile(w http.ResponseWriter, r *http.Request) {
	d, ok := decodeDraft(w, r)
	if !ok {
		return
	}
	id, err := s.Engine.Submit(r.Context(), d)
	if s.profileError(w, r, err) {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"chargingProfileId": id})
}

func (s *Server) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := profileID(w, r)
	if !ok {
		return
	}
	p, err := s.Engine.Get(r.Context(), id)
	if s.profileError(w, r, err) {
		return
	}
	writeJSON(w, http.StatusOK, toProfileResp(p))
}

func (s *Server) ReplaceProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := profileID(w, r)
	if !ok {
		return
	}
	d, ok := decodeDraft(w, r)
	if !ok {
		return
	}
	if s.profileError(w, r, s.Engine.Replace(r.Context(), id, d)) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chargingProfileId": id})
}

func (s *Server) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := profileID(w, r)
	if !ok {
		return
	}
	if s.profileError(w, r, s.Engine.Remove(r.Context(), id)) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ListProfiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.ProfileFilter{
		ChargePointId:  q.Get("chargePointId"),
		Purpose:        models.Purpose(q.Get("purpose")),
		Kind:           models.Kind(q.Get("kind")),
		RecurrencyKind: models.RecurrencyKind(q.Get("recurrencyKind")),
		Description:    q.Get("description"),
	}
	if f.Purpose != "" && !f.Purpose.Valid() {
		http.Error(w, "purpose: unknown value", http.StatusBadRequest)
		return
	}
	if f.Kind != "" && !f.Kind.Valid() {
		http.Error(w, "kind: unknown value", http.StatusBadRequest)
		return
	}
	if f.RecurrencyKind != "" && !f.RecurrencyKind.Valid() {
		http.Error(w, "recurrencyKind: unknown value", http.StatusBadRequest)
		return
	}

	var err error
	if f.StackLevel, err = optInt(r, "stackLevel"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if f.ValidFrom, err = optTime(r, "validFrom"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if f.ValidTo, err = optTime(r, "validTo"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := optInt(r, "limit")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if limit != nil {
		f.Limit = *limit
	}

	items, err := s.Engine.List(r.Context(), f)
	if err != nil {
		s.dbError(w, err)
		return
	}
	out := make([]profileResp, 0, len(items))
	for _, p := range items {
		out = append(out, toProfileResp(p))
	}
	writeJSON(w, http.StatusOK, out)
}
