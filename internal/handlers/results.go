package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"timing-backend/internal/results"
)

func (h *Handler) GetResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"raceId":  h.svc.RaceID(),
		"results": h.svc.Results(),
	})
}

func (h *Handler) DownloadResults(w http.ResponseWriter, r *http.Request) {
	filename := results.Filename(h.svc.RaceID())
	body, err := results.ToCSV(h.svc.Results(), h.svc.Location())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

type EmailResultsRequest struct {
	To []string `json:"to"`
}

func (h *Handler) EmailResults(w http.ResponseWriter, r *http.Request) {
	if !h.opts.Mail.IsConfigured() {
		writeError(w, http.StatusServiceUnavailable, "email not configured")
		return
	}

	var req EmailResultsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.To) == 0 {
		writeError(w, http.StatusBadRequest, "at least one recipient is required")
		return
	}

	raceID := h.svc.RaceID()
	if raceID == "" {
		writeError(w, http.StatusConflict, "no race joined")
		return
	}

	body, err := results.ToCSV(h.svc.Results(), h.svc.Location())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.opts.Mail.SendResults(req.To, raceID, results.Filename(raceID), body); err != nil {
		log.Error().Err(err).Str("race_id", raceID).Msg("Failed to email results")
		writeError(w, http.StatusBadGateway, "failed to send email")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": len(req.To)})
}
