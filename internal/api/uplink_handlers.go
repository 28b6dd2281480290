package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/field-tester-server/internal/envelope"
)

const (
	webhookKeyHeader = "X-Webhook-Key"
	maxBodySize      = 1 << 20
)

// HandleProcess decodes a raw envelope uplink and returns the decoded fix
func (s *RESTServer) HandleProcess(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var req envelope.RawUplink
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.handleUplink(w, r, envelope.TypeRaw, body)
}

// HandleTTSWebhook handles The Things Stack v3 uplink webhooks
func (s *RESTServer) HandleTTSWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	s.handleUplink(w, r, envelope.TypeTTS3, body)
}

// HandleChirpStackWebhook handles ChirpStack v3 and v4 HTTP integration
// uplink events
func (s *RESTServer) HandleChirpStackWebhook(w http.ResponseWriter, r *http.Request) {
	// the ChirpStack HTTP integration posts every event type to one url
	if event := r.URL.Query().Get("event"); event != "" && event != "up" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	s.handleUplink(w, r, envelope.TypeChirpStack, body)
}

func (s *RESTServer) handleUplink(w http.ResponseWriter, r *http.Request, t envelope.Type, body []byte) {
	res, err := s.processors[t].HandleUplink(r.Context(), "", body)
	if err != nil {
		if errors.Is(err, envelope.ErrInvalidPayload) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("envelope", string(t)).Msg("api: handle uplink error")
		s.respondError(w, http.StatusInternalServerError, "failed to process uplink")
		return
	}

	if res == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	log.Debug().
		Str("envelope", string(t)).
		Str("dev_eui", res.Uplink.DevEUI).
		Str("device_id", res.Uplink.DeviceID).
		Msg("api: responding with downlink")

	s.respondRaw(w, http.StatusOK, res.Body)
}

func (s *RESTServer) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	return body, true
}
