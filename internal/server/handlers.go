package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/iamcos/cutoffdb/internal/cutoff"
	"github.com/iamcos/cutoffdb/internal/histsync"
	"github.com/iamcos/cutoffdb/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"records":               stats.Records,
		"recovered_from_backup": stats.Recovered,
	})
}

func (s *Server) handleListCutoffs(w http.ResponseWriter, r *http.Request) {
	records := s.store.GetAllCutoffs()
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.ToMap())
	}
	writeJSON(w, http.StatusOK, map[string]any{"cutoffs": out, "count": len(out)})
}

func (s *Server) handleGetCutoff(w http.ResponseWriter, r *http.Request) {
	tag := mux.Vars(r)["tag"]
	rec, err := s.store.GetCutoff(tag)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec.ToMap())
}

// handleStoreCutoff is the ingest path for discovery engines: the body is a
// record in its generic map shape, exactly as exported.
func (s *Server) handleStoreCutoff(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed record: "+err.Error())
		return
	}

	rec, err := cutoff.RecordFromMap(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch err := s.store.StoreCutoff(rec); {
	case errors.Is(err, store.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusCreated, rec.ToMap())
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	findings := s.store.ValidateIntegrity()
	writeJSON(w, http.StatusOK, map[string]any{
		"clean":    len(findings) == 0,
		"findings": findings,
	})
}

type validateRequest struct {
	MarketTag string    `json:"market_tag"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}

	res, err := s.svc.ValidateWindow(req.MarketTag, req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	tag := mux.Vars(r)["tag"]
	startRaw := r.URL.Query().Get("start")
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be an RFC3339 timestamp")
		return
	}

	res, err := s.svc.CheckHistory(tag, start)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type beginSyncRequest struct {
	MarketTag string    `json:"market_tag"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
}

func (s *Server) handleBeginSync(w http.ResponseWriter, r *http.Request) {
	var req beginSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}

	sync, err := s.tracker.Begin(req.MarketTag, req.From, req.To)
	if errors.Is(err, histsync.ErrSyncActive) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sync)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.tracker.Status(mux.Vars(r)["id"])
	if errors.Is(err, histsync.ErrUnknownSync) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSyncProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Progress float64 `json:"progress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	s.finishSyncOp(w, s.tracker.Advance(mux.Vars(r)["id"], req.Progress))
}

func (s *Server) handleSyncComplete(w http.ResponseWriter, r *http.Request) {
	s.finishSyncOp(w, s.tracker.Complete(mux.Vars(r)["id"]))
}

func (s *Server) handleSyncFail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	s.finishSyncOp(w, s.tracker.Fail(mux.Vars(r)["id"], req.Reason))
}

func (s *Server) finishSyncOp(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, histsync.ErrUnknownSync):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, histsync.ErrSyncFinished):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
