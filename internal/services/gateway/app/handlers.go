package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
	"github.com/BuXianWanYin/fish-dish-iot/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

func (g *Gateway) listDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := g.cfg.Store.ListDevices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	out := make([]DeviceView, 0, len(devs))
	for _, d := range devs {
		out = append(out, toDeviceView(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) getDevice(w http.ResponseWriter, r *http.Request) {
	d, err := g.cfg.Store.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "device_not_found", "device not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toDeviceView(*d))
}

// controlDevice answers with the controller result, using its code as status.
func (g *Gateway) controlDevice(w http.ResponseWriter, r *http.Request) {
	var req model.ControlRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "body must be {\"action\":\"on|off\",\"index\":0|1}")
			return
		}
	}
	// consentito anche ?action=on&index=1
	if req.Action == "" {
		req.Action = r.URL.Query().Get("action")
	}
	if s := r.URL.Query().Get("index"); s != "" && len(body) == 0 {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_index", "index must be an integer")
			return
		}
		req.Index = n
	}
	res := g.cfg.Controller.ControlDevice(r.Context(), chi.URLParam(r, "id"), req.Action, req.Index)
	status := res.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func (g *Gateway) latestReading(w http.ResponseWriter, r *http.Request) {
	if g.cfg.Latest == nil {
		writeError(w, http.StatusServiceUnavailable, "influx_disabled", "time series storage not configured")
		return
	}
	minutes := 60 * 24
	if s := r.URL.Query().Get("minutes"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			minutes = n
		}
	}
	id := chi.URLParam(r, "id")
	latest, err := g.cfg.Latest.Latest(r.Context(), id, minutes)
	if err != nil {
		writeError(w, http.StatusBadGateway, "query_failed", err.Error())
		return
	}
	if latest == nil {
		writeError(w, http.StatusNotFound, "no_data", "no reading for device "+id)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (g *Gateway) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AlertFilter{DeviceID: q.Get("device_id")}
	if s := q.Get("status"); s != "" {
		var st model.AlertStatus
		switch s {
		case "open", "0":
			st = model.AlertOpen
		case "resolved", "1":
			st = model.AlertResolved
		default:
			writeError(w, http.StatusBadRequest, "invalid_status", "status must be open or resolved")
			return
		}
		f.Status = &st
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		f.Limit = n
	}
	alerts, err := g.cfg.Store.ListAlerts(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (g *Gateway) resolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := g.cfg.Store.ResolveAlert(r.Context(), id, time.Now())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "alert_not_open", "no open alert "+id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "resolve_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": model.AlertResolved})
}

func (g *Gateway) serialPorts(w http.ResponseWriter, _ *http.Request) {
	ports, err := g.cfg.ListPorts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enumerate_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ports)
}

// reloadSensors rilegge la configurazione e riallinea i loop di polling.
func (g *Gateway) reloadSensors(w http.ResponseWriter, r *http.Request) {
	if g.cfg.Reseed != nil {
		if err := g.cfg.Reseed(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "reseed_failed", err.Error())
			return
		}
	}
	if err := g.cfg.Pollers.Reconcile(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "reload_failed", err.Error())
		return
	}
	g.sensorStatus(w, r)
}

func (g *Gateway) sensorStatus(w http.ResponseWriter, r *http.Request) {
	devs, err := g.cfg.Store.ListDevices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	out := SensorStatus{Running: g.cfg.Pollers.Running(), Actuators: []ActuatorStatus{}}
	sort.Strings(out.Running)
	for _, d := range devs {
		if !d.Controllable {
			continue
		}
		a := ActuatorStatus{DeviceID: d.ID, ControlStatus: string(d.ControlStatus)}
		if g.cfg.Pulses != nil {
			a.PendingRest = g.cfg.Pulses.Pending(d.ID)
		}
		if g.cfg.Auto != nil {
			snap := g.cfg.Auto.Snapshot(d.ID)
			a.Auto = &snap
		}
		out.Actuators = append(out.Actuators, a)
	}
	writeJSON(w, http.StatusOK, out)
}
