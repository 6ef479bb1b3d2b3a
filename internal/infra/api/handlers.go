package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"whatsapp-dispatch/internal/domain"
	"whatsapp-dispatch/internal/infra/logging"
)

type statusResponse struct {
	IsReady     bool   `json:"isReady"`
	HasQR       bool   `json:"hasQR"`
	Queue       string `json:"queue"`
	FailedQueue string `json:"failedQueue"`
	SetupMode   bool   `json:"setupMode"`
	State       string `json:"state"`
}

type sessionInfoResponse struct {
	HasSession  bool   `json:"hasSession"`
	SessionPath string `json:"sessionPath"`
	IsReady     bool   `json:"isReady"`
	ClientID    string `json:"clientId"`
}

type replayRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.session.Status()
	q := s.jobs.Queues()
	writeJSON(w, http.StatusOK, statusResponse{
		IsReady:     s.session.IsReady(),
		HasQR:       st.HasQR,
		Queue:       q.Pending,
		FailedQueue: q.DeadLetter,
		SetupMode:   s.opts.SetupMode,
		State:       string(st.State),
	})
}

func (s *Server) handleQR(w http.ResponseWriter, _ *http.Request) {
	if qr, ok := s.session.QR(); ok {
		writeJSON(w, http.StatusOK, map[string]string{"qr": qr})
		return
	}
	if s.session.IsReady() {
		writeJSON(w, http.StatusOK, map[string]string{"message": "client already authenticated"})
		return
	}
	writeError(w, http.StatusNotFound, "no qr available")
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, _ *http.Request) {
	st := s.session.Status()
	writeJSON(w, http.StatusOK, sessionInfoResponse{
		HasSession:  st.HasSession,
		SessionPath: st.SessionPath,
		IsReady:     s.session.IsReady(),
		ClientID:    st.ClientID,
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job, err := s.jobs.Submit(r.Context(), body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "id": job.ID})
	case errors.Is(err, domain.ErrInvalidJob):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logging.With(r.Context(), s.log).Error().Err(err).Msg("enqueue failed")
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
	}
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	if err := s.session.ClearSession(r.Context()); err != nil {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("clear session failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "session cleared successfully",
		"needsRestart": true,
	})
}

func (s *Server) handleRestartSession(w http.ResponseWriter, r *http.Request) {
	err := s.session.Restart(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": "session restarted"})
	case errors.Is(err, context.DeadlineExceeded):
		// bring-up is still running inside the lifecycle loop
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "session restart in progress"})
	case errors.Is(err, domain.ErrSessionClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleDeadLetterList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	page, err := s.jobs.ListDeadLetter(r.Context(), limit)
	if err != nil {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("dead-letter listing failed")
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleDeadLetterReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.jobs.ReplayDeadLetter(r.Context(), req.Limit)
	if err != nil {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("dead-letter replay failed")
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
