package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
	"github.com/BuXianWanYin/fish-dish-iot/internal/serialport"
	"github.com/BuXianWanYin/fish-dish-iot/internal/services/autocontrol"
	"github.com/BuXianWanYin/fish-dish-iot/internal/services/persistence"
	"github.com/BuXianWanYin/fish-dish-iot/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	resolved []string
	filter   store.AlertFilter
}

func (f *fakeStore) ListDevices(context.Context) ([]model.Device, error) {
	return []model.Device{
		{ID: "1", Name: "weather-box", TypeTag: "1", Online: true},
		{ID: "9", Name: "aerator", TypeTag: "6", Controllable: true, CommandOn: "AA|BB", CommandOff: "CC|DD", ControlStatus: model.ControlOn},
	}, nil
}

func (f *fakeStore) GetDevice(_ context.Context, id string) (*model.Device, error) {
	if id != "9" {
		return nil, store.ErrNotFound
	}
	return &model.Device{ID: "9", Name: "aerator", TypeTag: "6"}, nil
}

func (f *fakeStore) ListAlerts(_ context.Context, flt store.AlertFilter) ([]model.Alert, error) {
	f.mu.Lock()
	f.filter = flt
	f.mu.Unlock()
	return []model.Alert{{ID: "a1", DeviceID: "2", Direction: model.DirectionLow}}, nil
}

func (f *fakeStore) ResolveAlert(_ context.Context, id string, _ time.Time) error {
	if id != "a1" {
		return store.ErrNotFound
	}
	f.mu.Lock()
	f.resolved = append(f.resolved, id)
	f.mu.Unlock()
	return nil
}

type fakeCtrl struct {
	device, action string
	index          int
}

func (c *fakeCtrl) ControlDevice(_ context.Context, id, action string, index int) model.ControlResult {
	c.device, c.action, c.index = id, action, index
	if id == "404" {
		return model.ControlResult{Code: http.StatusNotFound, Message: "device 404 not found"}
	}
	return model.ControlResult{Success: true, Code: http.StatusOK, Message: "ok"}
}

type fakeLatest struct{}

func (fakeLatest) Latest(_ context.Context, id string, minutes int) (*persistence.Latest, error) {
	if id != "2" {
		return nil, nil
	}
	return &persistence.Latest{DeviceID: "2", Values: map[string]any{"ph_value": 7.1, "minutes": minutes}}, nil
}

func newTestGateway(t *testing.T, h *Health) (*httptest.Server, *fakeStore, *fakeCtrl, *Hub) {
	t.Helper()
	st := &fakeStore{}
	ctrl := &fakeCtrl{}
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	g := NewGateway(Config{
		Store:      st,
		Controller: ctrl,
		Latest:     fakeLatest{},
		Hub:        hub,
		Health:     h,
		ListPorts: func() ([]serialport.PortInfo, error) {
			return []serialport.PortInfo{{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1A86"}}, nil
		},
	})
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, st, ctrl, hub
}

func decode(t *testing.T, res *http.Response, out any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
}

func TestControlEndpoint(t *testing.T) {
	srv, _, ctrl, _ := newTestGateway(t, nil)

	res, err := http.Post(srv.URL+"/api/devices/9/control", "application/json", strings.NewReader(`{"action":"on","index":1}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	var out model.ControlResult
	decode(t, res, &out)
	if res.StatusCode != http.StatusOK || !out.Success {
		t.Fatalf("status=%d body=%+v", res.StatusCode, out)
	}
	if ctrl.device != "9" || ctrl.action != "on" || ctrl.index != 1 {
		t.Fatalf("controller got %s/%s/%d", ctrl.device, ctrl.action, ctrl.index)
	}

	res, err = http.Post(srv.URL+"/api/devices/404/control?action=off", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	decode(t, res, &out)
	if res.StatusCode != http.StatusNotFound || out.Success || out.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%+v", res.StatusCode, out)
	}
	if ctrl.action != "off" || ctrl.index != 0 {
		t.Fatalf("query params not used: %s/%d", ctrl.action, ctrl.index)
	}

	res, err = http.Post(srv.URL+"/api/devices/9/control", "application/json", strings.NewReader(`{bad`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestDeviceEndpoints(t *testing.T) {
	srv, _, _, _ := newTestGateway(t, nil)

	res, err := http.Get(srv.URL + "/api/devices")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var devs []DeviceView
	decode(t, res, &devs)
	if len(devs) != 2 || devs[0].Type != "weather" || !devs[1].DualPhase || devs[1].ControlStatus != "1" {
		t.Fatalf("devices = %+v", devs)
	}

	res, err = http.Get(srv.URL + "/api/devices/nope")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}

	res, err = http.Get(srv.URL + "/api/devices/2/readings/latest?minutes=15")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var latest persistence.Latest
	decode(t, res, &latest)
	if latest.Values["ph_value"] != 7.1 || latest.Values["minutes"] != float64(15) {
		t.Fatalf("latest = %+v", latest)
	}

	res, err = http.Get(srv.URL + "/api/serial/ports")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var ports []serialport.PortInfo
	decode(t, res, &ports)
	if len(ports) != 1 || ports[0].Name != "/dev/ttyUSB0" {
		t.Fatalf("ports = %+v", ports)
	}
}

func TestAlertEndpoints(t *testing.T) {
	srv, st, _, _ := newTestGateway(t, nil)

	res, err := http.Get(srv.URL + "/api/alerts?status=open&device_id=2&limit=5")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var alerts []model.Alert
	decode(t, res, &alerts)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %+v", alerts)
	}
	if st.filter.Status == nil || *st.filter.Status != model.AlertOpen || st.filter.DeviceID != "2" || st.filter.Limit != 5 {
		t.Fatalf("filter = %+v", st.filter)
	}

	res, err = http.Get(srv.URL + "/api/alerts?status=maybe")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}

	res, err = http.Post(srv.URL+"/api/alerts/a1/resolve", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK || len(st.resolved) != 1 {
		t.Fatalf("status = %d resolved = %v", res.StatusCode, st.resolved)
	}
	res, err = http.Post(srv.URL+"/api/alerts/zz/resolve", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}

func TestHealthAndReady(t *testing.T) {
	var mu sync.Mutex
	serialOpen, mqttUp := true, false
	h := &Health{
		SerialOpen:        func() bool { mu.Lock(); defer mu.Unlock(); return serialOpen },
		MQTTConnected:     func() bool { mu.Lock(); defer mu.Unlock(); return mqttUp },
		LastWriteErrorAge: func() time.Duration { return time.Hour },
	}
	srv, _, _, _ := newTestGateway(t, h)

	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var st map[string]any
	decode(t, res, &st)
	if st["status"] != "degraded" || st["serial_open"] != true || st["mqtt_connected"] != false {
		t.Fatalf("health = %v", st)
	}
	res, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d, want 503", res.StatusCode)
	}

	mu.Lock()
	mqttUp = true
	mu.Unlock()
	res, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ready status = %d, want 200", res.StatusCode)
	}

	res, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", res.StatusCode)
	}
}

func TestHealthDown(t *testing.T) {
	h := &Health{SerialOpen: func() bool { return false }, MQTTConnected: func() bool { return false }}
	st, ready := h.snapshot()
	if ready || st.Status != "down" {
		t.Fatalf("snapshot = %+v ready=%v", st, ready)
	}
	if !(&Health{SerialOpen: func() bool { return true }}).Ready() {
		t.Fatal("serial only station should be ready")
	}
}

func TestWebsocketReceivesAlerts(t *testing.T) {
	srv, _, _, hub := newTestGateway(t, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/alerts"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := hub.NotifyAlert(context.Background(), model.AlertMessage{AlertID: "a1", AlertType: "HIGH", AlertLevel: 1}); err != nil {
		t.Fatalf("NotifyAlert failed: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string             `json:"type"`
		Payload model.AlertMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if msg.Type != "alert" || msg.Payload.AlertID != "a1" || msg.Payload.AlertLevel != 1 {
		t.Fatalf("message = %+v", msg)
	}
}

func TestGRPCHealthFollowsReadiness(t *testing.T) {
	var mu sync.Mutex
	open := false
	hs := NewHealthServer(&Health{SerialOpen: func() bool { mu.Lock(); defer mu.Unlock(); return open }})

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		res, err := hs.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: StationService})
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		return res.Status
	}
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status = %s, want NOT_SERVING", got)
	}

	mu.Lock()
	open = true
	mu.Unlock()
	hs.refresh()
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %s, want SERVING", got)
	}
}

type fakePollers struct {
	mu         sync.Mutex
	reconciles int
	running    []string
	err        error
}

func (p *fakePollers) Reconcile(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.reconciles++
	p.running = []string{"3", "1"}
	return nil
}

func (p *fakePollers) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reconciles
}

func (p *fakePollers) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.running...)
}

type fakePulses map[string]int

func (f fakePulses) Pending(id string) int { return f[id] }

type fakeAuto struct{}

func (fakeAuto) Snapshot(id string) autocontrol.Snapshot {
	return autocontrol.Snapshot{LastTriggered: id == "9", AutoOffPending: id == "9"}
}

func newSensorGateway(t *testing.T, p *fakePollers, reseed func(context.Context) error) *httptest.Server {
	t.Helper()
	g := NewGateway(Config{
		Store:      &fakeStore{},
		Controller: &fakeCtrl{},
		Pollers:    p,
		Reseed:     reseed,
		Pulses:     fakePulses{"9": 1},
		Auto:       fakeAuto{},
	})
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestSensorReloadAndStatus(t *testing.T) {
	p := &fakePollers{running: []string{"1"}}
	var reseeds atomic.Int32
	srv := newSensorGateway(t, p, func(context.Context) error { reseeds.Add(1); return nil })

	res, err := http.Get(srv.URL + "/api/sensors/status")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var st SensorStatus
	decode(t, res, &st)
	if res.StatusCode != http.StatusOK || len(st.Running) != 1 || st.Running[0] != "1" {
		t.Fatalf("status=%d body=%+v", res.StatusCode, st)
	}
	if len(st.Actuators) != 1 {
		t.Fatalf("actuators = %+v, want only the controllable device", st.Actuators)
	}
	a := st.Actuators[0]
	if a.DeviceID != "9" || a.ControlStatus != "1" || a.PendingRest != 1 || a.Auto == nil || !a.Auto.AutoOffPending {
		t.Fatalf("actuator = %+v", a)
	}

	res, err = http.Post(srv.URL+"/api/sensors/reload", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	decode(t, res, &st)
	if res.StatusCode != http.StatusOK || reseeds.Load() != 1 || p.count() != 1 {
		t.Fatalf("status=%d reseeds=%d reconciles=%d", res.StatusCode, reseeds.Load(), p.count())
	}
	if len(st.Running) != 2 || st.Running[0] != "1" || st.Running[1] != "3" {
		t.Fatalf("running after reload = %v, want sorted [1 3]", st.Running)
	}
}

func TestSensorReloadFailures(t *testing.T) {
	p := &fakePollers{}
	srv := newSensorGateway(t, p, func(context.Context) error { return errors.New("bad seed") })
	res, err := http.Post(srv.URL+"/api/sensors/reload", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusInternalServerError || p.count() != 0 {
		t.Fatalf("status=%d reconciles=%d", res.StatusCode, p.count())
	}

	p = &fakePollers{err: errors.New("store down")}
	srv = newSensorGateway(t, p, nil)
	res, err = http.Post(srv.URL+"/api/sensors/reload", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", res.StatusCode)
	}
}

func TestSensorRoutesAbsentWithoutPollers(t *testing.T) {
	srv, _, _, _ := newTestGateway(t, nil)
	res, err := http.Get(srv.URL + "/api/sensors/status")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}
