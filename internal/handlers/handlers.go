package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"timing-backend/internal/auth"
	"timing-backend/internal/backup"
	"timing-backend/internal/email"
	"timing-backend/internal/feed"
	"timing-backend/internal/race"
	"timing-backend/internal/session"
)

type Options struct {
	PasswordHash string
	AuthSecret   string
	Origins      []string
	Mail         *email.Config
}

type Handler struct {
	svc  *session.Service
	hub  *feed.Hub
	opts Options
}

func New(svc *session.Service, hub *feed.Hub, opts Options) *Handler {
	if opts.Mail == nil {
		opts.Mail = &email.Config{}
	}
	return &Handler{svc: svc, hub: hub, opts: opts}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /api/auth/login", h.Login)
	mux.HandleFunc("GET /api/me", h.GetMe)

	mux.HandleFunc("GET /api/race", h.GetBoard)
	mux.HandleFunc("PUT /api/race", h.JoinRace)
	mux.HandleFunc("DELETE /api/race", h.LeaveRace)

	mux.HandleFunc("POST /api/riders/import", auth.RequireAdmin(h.ImportRiders))
	mux.HandleFunc("POST /api/starts", h.StartRider)
	mux.HandleFunc("POST /api/finishes", h.FinishRider)

	mux.HandleFunc("GET /api/captures", h.ListCaptures)
	mux.HandleFunc("POST /api/captures", h.CreateCapture)
	mux.HandleFunc("PUT /api/captures/{id}", h.AssignCapture)
	mux.HandleFunc("POST /api/captures/{id}/resolve", h.ResolveCapture)
	mux.HandleFunc("DELETE /api/captures/{id}", h.DiscardCapture)

	mux.HandleFunc("GET /api/results", h.GetResults)
	mux.HandleFunc("GET /api/results.csv", h.DownloadResults)
	mux.HandleFunc("POST /api/results/email", auth.RequireAdmin(h.EmailResults))

	mux.HandleFunc("GET /api/backup/{eventType}", h.GetBackup)
	mux.HandleFunc("POST /api/connectivity", h.SetConnectivity)
	mux.HandleFunc("GET /api/pending", h.GetPending)

	mux.HandleFunc("GET /api/feed", h.hub.Handler(h.opts.Origins, func() any { return h.svc.Board() }))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"raceId":  h.svc.RaceID(),
		"online":  h.svc.Engine().Online(),
		"pending": h.svc.Engine().PendingCount(),
	})
}

type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := auth.Login(req.Name, req.Password, h.opts.PasswordHash, h.opts.AuthSecret)
	if err != nil {
		log.Warn().Str("operator", req.Name).Msg("Rejected operator login")
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	op := auth.GetOperator(r.Context())
	if op == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Board())
}

type JoinRaceRequest struct {
	RaceID string `json:"raceId"`
}

func (h *Handler) JoinRace(w http.ResponseWriter, r *http.Request) {
	var req JoinRaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.Join(req.RaceID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Board())
}

func (h *Handler) LeaveRace(w http.ResponseWriter, r *http.Request) {
	h.svc.Leave()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetBackup(w http.ResponseWriter, r *http.Request) {
	eventType, err := backup.ParseEventType(r.PathValue("eventType"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	writeJSON(w, http.StatusOK, h.svc.Journal().Recent(eventType, n))
}

type ConnectivityRequest struct {
	Online bool `json:"online"`
}

func (h *Handler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req ConnectivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp := map[string]any{"online": req.Online}
	if err := h.svc.Engine().SetOnline(r.Context(), req.Online); err != nil {
		// Undrained writes stay queued.
		log.Warn().Err(err).Msg("Pending writes not fully drained")
		resp["flushError"] = err.Error()
	}
	resp["pending"] = h.svc.Engine().PendingCount()
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetPending(w http.ResponseWriter, r *http.Request) {
	entries := h.svc.Engine().Pending()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"online":  h.svc.Engine().Online(),
		"entries": entries,
	})
}

// withController runs fn against the joined race and writes the error
// response when there is no race or fn fails. It reports whether fn succeeded.
func (h *Handler) withController(w http.ResponseWriter, fn func(*race.Controller) error) bool {
	err := h.svc.WithController(fn)
	switch {
	case err == nil:
		return true
	case errors.Is(err, session.ErrNoRace):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeDomainError(w, err)
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var de *race.DomainError
	if !errors.As(err, &de) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusBadRequest
	switch de.Code {
	case race.ErrCodeNotFound:
		status = http.StatusNotFound
	case race.ErrCodeAlreadyOnTrack, race.ErrCodeNotOnTrack, race.ErrCodeDuplicateNumber:
		status = http.StatusConflict
	case race.ErrCodeRerunConfirmationRequired:
		status = http.StatusPreconditionRequired
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": de.Message, "code": de.Code})
}
