// Package app is the HTTP and gRPC surface of the station: device control,
// alert management, latest readings, health and the live alert stream.
package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
	"github.com/BuXianWanYin/fish-dish-iot/internal/serialport"
	"github.com/BuXianWanYin/fish-dish-iot/internal/services/autocontrol"
	"github.com/BuXianWanYin/fish-dish-iot/internal/services/persistence"
	"github.com/BuXianWanYin/fish-dish-iot/internal/store"
)

type Store interface {
	ListDevices(ctx context.Context) ([]model.Device, error)
	GetDevice(ctx context.Context, id string) (*model.Device, error)
	ListAlerts(ctx context.Context, f store.AlertFilter) ([]model.Alert, error)
	ResolveAlert(ctx context.Context, id string, at time.Time) error
}

type Controller interface {
	ControlDevice(ctx context.Context, deviceID, action string, index int) model.ControlResult
}

// LatestReader is nil when InfluxDB is not configured.
type LatestReader interface {
	Latest(ctx context.Context, deviceID string, minutes int) (*persistence.Latest, error)
}

// Pollers is the set of per-device polling loops.
type Pollers interface {
	Reconcile(ctx context.Context) error
	Running() []string
}

// PulseCounter reports the return-to-rest frames still waiting for a device.
type PulseCounter interface {
	Pending(deviceID string) int
}

// AutoState reports the auto-control debounce state of a device.
type AutoState interface {
	Snapshot(deviceID string) autocontrol.Snapshot
}

type Config struct {
	Store      Store
	Controller Controller
	Latest     LatestReader
	Hub        *Hub
	Health     *Health
	ListPorts  func() ([]serialport.PortInfo, error)

	// Sensor loops. Reseed, when set, reloads the device configuration
	// before the loops are reconciled.
	Pollers Pollers
	Reseed  func(ctx context.Context) error
	Pulses  PulseCounter
	Auto    AutoState

	HTTPTimeout time.Duration
}

type Gateway struct {
	cfg Config
}

func NewGateway(cfg Config) *Gateway {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 20 * time.Second
	}
	if cfg.ListPorts == nil {
		cfg.ListPorts = serialport.ListPorts
	}
	if cfg.Health == nil {
		cfg.Health = &Health{}
	}
	return &Gateway{cfg: cfg}
}

func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", g.cfg.Health.ServeHealth)
	r.Get("/readyz", g.cfg.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())
	if g.cfg.Hub != nil {
		// niente timeout: la connessione resta aperta
		r.Get("/ws/alerts", g.cfg.Hub.ServeWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(g.cfg.HTTPTimeout))
		r.Route("/api", func(api chi.Router) {
			api.Get("/devices", g.listDevices)
			api.Get("/devices/{id}", g.getDevice)
			api.Post("/devices/{id}/control", g.controlDevice)
			api.Get("/devices/{id}/readings/latest", g.latestReading)
			api.Get("/alerts", g.listAlerts)
			api.Post("/alerts/{id}/resolve", g.resolveAlert)
			api.Get("/serial/ports", g.serialPorts)
			if g.cfg.Pollers != nil {
				api.Post("/sensors/reload", g.reloadSensors)
				api.Get("/sensors/status", g.sensorStatus)
			}
		})
	})
	return r
}

// RunServer starts srv and shuts it down when ctx is cancelled.
func RunServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("gateway: HTTP listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	case err := <-errCh:
		return err
	}
}
