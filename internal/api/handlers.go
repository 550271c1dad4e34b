package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"epoch-crank/internal/crank"
)

func (h *handler) healthz(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *handler) crank(w http.ResponseWriter, req *http.Request) {
	writeSuccess(w, req, h.svc.Crank(req.Context()))
}

func (h *handler) closeAll(w http.ResponseWriter, req *http.Request) {
	writeSuccess(w, req, h.svc.CloseAll(req.Context()))
}

func (h *handler) closeExpired(w http.ResponseWriter, req *http.Request) {
	writeSuccess(w, req, h.svc.CloseExpired(req.Context()))
}

// scheduler runs one pipeline tick under the run budget. When the budget
// runs out the caller gets a 500 at once; the tick stops at the next round
// boundary.
func (h *handler) scheduler(w http.ResponseWriter, req *http.Request) {
	if h.cfg.RunBudget <= 0 {
		writeSuccess(w, req, h.svc.Tick(req.Context()))
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), h.cfg.RunBudget)
	defer cancel()

	done := make(chan crank.TickReport, 1)
	go func() { done <- h.svc.Tick(ctx) }()

	select {
	case rep := <-done:
		writeSuccess(w, req, rep)
	case <-ctx.Done():
		h.log.Error().Dur("budget", h.cfg.RunBudget).Str("request_id", crank.RequestID(req.Context())).Msg("scheduler run exceeded its budget")
		writeError(w, req, http.StatusInternalServerError, "TimeoutError",
			fmt.Sprintf("execution exceeded the %s budget", h.cfg.RunBudget))
	}
}

func (h *handler) openRound(w http.ResponseWriter, req *http.Request) {
	d := h.cfg.DefaultRoundDuration
	if raw := req.URL.Query().Get("duration"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, req, http.StatusBadRequest, "ValidationError", fmt.Sprintf("invalid duration %q", raw))
			return
		}
		d = parsed
	}
	if d < crank.MinRoundDuration {
		writeError(w, req, http.StatusBadRequest, "ValidationError",
			fmt.Sprintf("duration must be at least %s", crank.MinRoundDuration))
		return
	}

	opened, err := h.svc.OpenRound(req.Context(), d)
	if err != nil {
		writeError(w, req, http.StatusInternalServerError, "LedgerError", err.Error())
		return
	}
	writeSuccess(w, req, map[string]any{
		"success": true,
		"message": "round opened",
		"epoch":   opened,
	})
}

// writeSuccess answers 200 with the fields of result plus timestamp and
// requestId, whatever result says about its own success.
func writeSuccess(w http.ResponseWriter, req *http.Request, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		writeError(w, req, http.StatusInternalServerError, "EncodingError", err.Error())
		return
	}
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, req, http.StatusInternalServerError, "EncodingError", err.Error())
		return
	}
	body["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	body["requestId"] = crank.RequestID(req.Context())
	writeJSON(w, http.StatusOK, body)
}

type errorBody struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId"`
}

func writeError(w http.ResponseWriter, req *http.Request, status int, errorType, msg string) {
	writeJSON(w, status, errorBody{
		Success:   false,
		Error:     msg,
		ErrorType: errorType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RequestID: crank.RequestID(req.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
