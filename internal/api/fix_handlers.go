package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lorawan-server/field-tester-server/internal/storage"
	"github.com/lorawan-server/field-tester-server/pkg/lorawan"
)

const (
	defaultLimit = 20
	maxLimit     = 1000
)

// HandleListFixes lists stored fixes
func (s *RESTServer) HandleListFixes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	filters := storage.FixFilters{}

	// Parse filters
	if devEUIStr := q.Get("dev_eui"); devEUIStr != "" {
		devEUI, err := lorawan.ParseEUI64(devEUIStr)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid dev_eui")
			return
		}
		filters.DevEUI = &devEUI
	}

	if deviceID := q.Get("device_id"); deviceID != "" {
		filters.DeviceID = &deviceID
	}

	if appID := q.Get("application_id"); appID != "" {
		filters.ApplicationID = &appID
	}

	if env := q.Get("envelope"); env != "" {
		filters.Envelope = &env
	}

	for param, dst := range map[string]**time.Time{"start": &filters.StartTime, "end": &filters.EndTime} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid "+param+" time, expected RFC3339")
			return
		}
		*dst = &ts
	}

	fixes, total, err := s.store.ListFixes(ctx, filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"fixes": fixes,
		"total": total,
	})
}

// HandleGetFix gets a stored fix
func (s *RESTServer) HandleGetFix(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid fix ID")
		return
	}

	fix, err := s.store.GetFix(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "fix not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, fix)
}
