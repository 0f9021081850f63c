package app

import (
	"encoding/json"
	"net/http"
	"time"
)

// Health reports the state of the station dependencies. Nil probes are
// treated as "not configured" and do not affect readiness, except the serial
// link which is always required.
type Health struct {
	SerialOpen    func() bool
	MQTTConnected func() bool
	// LastWriteErrorAge is the age of the last InfluxDB write error.
	LastWriteErrorAge func() time.Duration
	// MinErrorAge is how long writes must have been clean to count as ready.
	MinErrorAge time.Duration
}

type healthStatus struct {
	Status          string   `json:"status"`
	SerialOpen      bool     `json:"serial_open"`
	MQTTConnected   *bool    `json:"mqtt_connected,omitempty"`
	LastWriteErrorS *float64 `json:"last_write_error_age_sec,omitempty"`
}

func (h *Health) minErrorAge() time.Duration {
	if h.MinErrorAge <= 0 {
		return 30 * time.Second
	}
	return h.MinErrorAge
}

func (h *Health) snapshot() (healthStatus, bool) {
	st := healthStatus{SerialOpen: h.SerialOpen != nil && h.SerialOpen()}
	ready := st.SerialOpen
	degraded := !st.SerialOpen

	if h.MQTTConnected != nil {
		ok := h.MQTTConnected()
		st.MQTTConnected = &ok
		ready = ready && ok
		degraded = degraded || !ok
	}
	if h.LastWriteErrorAge != nil {
		age := h.LastWriteErrorAge()
		secs := age.Seconds()
		st.LastWriteErrorS = &secs
		ok := age > h.minErrorAge()
		ready = ready && ok
		degraded = degraded || !ok
	}

	switch {
	case ready:
		st.Status = "ok"
	case degraded && (st.SerialOpen || (st.MQTTConnected != nil && *st.MQTTConnected)):
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	return st, ready
}

// Ready reports whether every configured dependency is healthy.
func (h *Health) Ready() bool {
	_, ready := h.snapshot()
	return ready
}

func (h *Health) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	st, _ := h.snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// ServeReady: 200 solo se tutte le dipendenze sono ok.
func (h *Health) ServeReady(w http.ResponseWriter, _ *http.Request) {
	ready := h.Ready()
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}
