package handlers

import (
	"encoding/json"
	"net/http"

	"timing-backend/internal/importer"
	"timing-backend/internal/models"
	"timing-backend/internal/race"
)

const maxRosterBytes = 4 << 20

func (h *Handler) ImportRiders(w http.ResponseWriter, r *http.Request) {
	rows, err := importer.Parse(http.MaxBytesReader(w, r.Body, maxRosterBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var report race.ImportReport
	if !h.withController(w, func(ctrl *race.Controller) error {
		report = ctrl.Import(r.Context(), rows)
		return nil
	}) {
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type StartRequest struct {
	RiderNumber  string `json:"riderNumber"`
	ConfirmRerun bool   `json:"confirmRerun"`
}

func (h *Handler) StartRider(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var rider models.Rider
	if !h.withController(w, func(ctrl *race.Controller) (err error) {
		rider, err = ctrl.Start(r.Context(), req.RiderNumber, req.ConfirmRerun)
		return err
	}) {
		return
	}
	writeJSON(w, http.StatusCreated, rider)
}

type FinishRequest struct {
	RiderNumber string `json:"riderNumber"`
}

func (h *Handler) FinishRider(w http.ResponseWriter, r *http.Request) {
	var req FinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var rider models.Rider
	if !h.withController(w, func(ctrl *race.Controller) (err error) {
		rider, err = ctrl.FinishNow(r.Context(), req.RiderNumber)
		return err
	}) {
		return
	}
	writeJSON(w, http.StatusOK, rider)
}

func (h *Handler) ListCaptures(w http.ResponseWriter, r *http.Request) {
	var captures []models.PendingFinishCapture
	if !h.withController(w, func(ctrl *race.Controller) error {
		captures = ctrl.Captures()
		return nil
	}) {
		return
	}
	writeJSON(w, http.StatusOK, captures)
}

func (h *Handler) CreateCapture(w http.ResponseWriter, r *http.Request) {
	var capture models.PendingFinishCapture
	if !h.withController(w, func(ctrl *race.Controller) error {
		capture = ctrl.Capture()
		return nil
	}) {
		return
	}
	writeJSON(w, http.StatusCreated, capture)
}

type AssignCaptureRequest struct {
	RiderNumber string `json:"riderNumber"`
}

func (h *Handler) AssignCapture(w http.ResponseWriter, r *http.Request) {
	var req AssignCaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var capture models.PendingFinishCapture
	if !h.withController(w, func(ctrl *race.Controller) (err error) {
		capture, err = ctrl.AssignCapture(r.PathValue("id"), req.RiderNumber)
		return err
	}) {
		return
	}
	writeJSON(w, http.StatusOK, capture)
}

func (h *Handler) ResolveCapture(w http.ResponseWriter, r *http.Request) {
	var rider models.Rider
	if !h.withController(w, func(ctrl *race.Controller) (err error) {
		rider, err = ctrl.ResolveCapture(r.Context(), r.PathValue("id"))
		return err
	}) {
		return
	}
	writeJSON(w, http.StatusOK, rider)
}

func (h *Handler) DiscardCapture(w http.ResponseWriter, r *http.Request) {
	if !h.withController(w, func(ctrl *race.Controller) error {
		return ctrl.DiscardCapture(r.PathValue("id"))
	}) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
