package sentinel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"stock-sentinel/internal/model"
	sqlitestore "stock-sentinel/internal/store/sqlite"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleInstruments serves GET (current and staged sets) and POST (stage a
// new list) on /instruments. POST accepts either a bare array or
// {"instruments": [...]}.
func (svc *Service) handleInstruments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		resp := map[string]interface{}{"current": svc.registry.Peek()}
		if pending, ok := svc.registry.Pending(); ok {
			resp["pending"] = pending
		}
		writeJSON(w, http.StatusOK, resp)

	case http.MethodPost:
		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		var list []model.Instrument
		if err := json.Unmarshal(raw, &list); err != nil {
			var wrapped struct {
				Instruments []model.Instrument `json:"instruments"`
			}
			if err := json.Unmarshal(raw, &wrapped); err != nil {
				http.Error(w, "invalid instrument list: "+err.Error(), http.StatusBadRequest)
				return
			}
			list = wrapped.Instruments
		}
		for _, inst := range list {
			if strings.TrimSpace(inst.Code) == "" {
				http.Error(w, "instrument code is required", http.StatusBadRequest)
				return
			}
		}
		staged := svc.ProposeInstruments(list)
		svc.log.Info("instrument list proposed over HTTP", "instruments", len(list), "staged", staged)
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"staged":   staged,
			"cooldown": svc.cfg.InstrumentCooldown.String(),
		})

	default:
		http.Error(w, "GET or POST only", http.StatusMethodNotAllowed)
	}
}

// handleAlerts serves GET /alerts?limit=N from the alert history, falling
// back to the live feed.
func (svc *Service) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	limit := svc.cfg.AlertFeedSize
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, 1000)
	}

	var (
		alerts []model.Alert
		err    error
	)
	switch {
	case svc.deps.Alerts != nil:
		alerts, err = svc.deps.Alerts.RecentAlerts(r.Context(), limit)
	case svc.deps.Feed != nil:
		alerts, err = svc.deps.Feed.LatestAlerts(r.Context(), limit)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// handleMarkAlert serves POST /alerts/{id}/read and /alerts/{id}/handled.
func (svc *Service) handleMarkAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if svc.deps.Alerts == nil {
		http.Error(w, "alert history not configured", http.StatusServiceUnavailable)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/alerts/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id, action := parts[0], parts[1]
	var read, handled bool
	switch action {
	case "read":
		read = true
	case "handled":
		read, handled = true, true
	default:
		http.NotFound(w, r)
		return
	}

	found, err := svc.deps.Alerts.MarkAlert(r.Context(), id, read, handled)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, "alert not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "read": read, "handled": handled})
}

// handleIndicators serves GET /indicators/{code}: the latest in-memory
// snapshots, newest first. With ?price=P it returns the snapshot the
// instrument would get if P printed now, leaving the state untouched.
func (svc *Service) handleIndicators(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	code := strings.Trim(strings.TrimPrefix(r.URL.Path, "/indicators/"), "/")
	if code == "" {
		writeJSON(w, http.StatusOK, svc.Engine().Codes())
		return
	}
	if s := r.URL.Query().Get("price"); s != "" {
		price, err := strconv.ParseFloat(s, 64)
		if err != nil {
			http.Error(w, "price must be a number", http.StatusBadRequest)
			return
		}
		snap, err := svc.Engine().Preview(code, price, svc.now())
		switch {
		case errors.Is(err, model.ErrInvalidSample):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case err != nil:
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			writeJSON(w, http.StatusOK, snap)
		}
		return
	}
	snaps := svc.Engine().Recent(code, svc.indCfg.RecentDepth)
	if len(snaps) == 0 {
		http.Error(w, "no indicators for "+code, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// handleSignals serves GET /signals: pending buy signals, newest first.
func (svc *Service) handleSignals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	if svc.deps.Signals == nil {
		http.Error(w, "signal store not configured", http.StatusServiceUnavailable)
		return
	}
	signals, err := svc.deps.Signals.PendingBuySignals(r.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if signals == nil {
		signals = []sqlitestore.BuySignal{}
	}
	writeJSON(w, http.StatusOK, signals)
}
