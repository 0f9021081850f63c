package poller

import (
	"context"
	"log"
	"sync"

	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
)

type DeviceLister interface {
	SensorDevices(ctx context.Context) ([]model.Device, error)
}

type loop struct {
	dev    model.Device
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the per-device loops and keeps them in line with the store.
type Manager struct {
	poller  *Poller
	devices DeviceLister

	mu    sync.Mutex
	loops map[string]*loop
	base  context.Context
}

func NewManager(p *Poller, devices DeviceLister) *Manager {
	return &Manager{poller: p, devices: devices, loops: make(map[string]*loop)}
}

// Start launches a loop for every sensor with a polling command.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.base = ctx
	m.mu.Unlock()
	return m.Reconcile(ctx)
}

// Reconcile stops loops of removed or reconfigured devices and starts the
// missing ones.
func (m *Manager) Reconcile(ctx context.Context) error {
	devs, err := m.devices.SensorDevices(ctx)
	if err != nil {
		return err
	}
	want := make(map[string]model.Device, len(devs))
	for _, d := range devs {
		if !d.Type().IsSensor() {
			continue
		}
		if !d.HasPollCommand() {
			log.Printf("poller: device %s (%s) has no polling command, skipped", d.ID, d.Name)
			continue
		}
		want[d.ID] = d
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.base == nil {
		// senza Start i loop non seguono il contesto della richiesta
		m.base = context.WithoutCancel(ctx)
	}
	for id, l := range m.loops {
		d, ok := want[id]
		if ok && sameSchedule(l.dev, d) {
			continue
		}
		l.cancel()
		<-l.done
		delete(m.loops, id)
	}
	for id, d := range want {
		if _, ok := m.loops[id]; ok {
			continue
		}
		m.spawn(d)
	}
	return nil
}

func sameSchedule(a, b model.Device) bool {
	return a.SensorCommand == b.SensorCommand && a.TypeTag == b.TypeTag &&
		a.Name == b.Name && a.PastureID == b.PastureID && a.BatchID == b.BatchID
}

func (m *Manager) spawn(d model.Device) {
	ctx, cancel := context.WithCancel(m.base)
	l := &loop{dev: d, cancel: cancel, done: make(chan struct{})}
	m.loops[d.ID] = l
	go func() {
		defer close(l.done)
		m.poller.Run(ctx, d)
	}()
}

// Running lists the ids of the devices being polled.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.loops))
	for id := range m.loops {
		ids = append(ids, id)
	}
	return ids
}

// Stop cancels every loop and waits for them to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	loops := m.loops
	m.loops = make(map[string]*loop)
	m.mu.Unlock()
	for _, l := range loops {
		l.cancel()
	}
	for _, l := range loops {
		<-l.done
	}
}
