// Package autocontrol evaluates the enabled strategies against every incoming
// reading and drives actuators through the command queue.
package autocontrol

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/BuXianWanYin/fish-dish-iot/internal/cmdqueue"
	"github.com/BuXianWanYin/fish-dish-iot/internal/metrics"
	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
)

const (
	DefaultCooldown  = 120 * time.Second
	DefaultOnSpacing = time.Second
)

type Store interface {
	EnabledStrategies(ctx context.Context) ([]model.Strategy, error)
	GetDevice(ctx context.Context, id string) (*model.Device, error)
}

type Controller interface {
	ControlDevice(ctx context.Context, deviceID, action string, index int) model.ControlResult
}

type Executor interface {
	Submit(name string, fn cmdqueue.Task) error
}

type Config struct {
	// Cooldown suppresses automatic "on" after an automatic "off" completed.
	Cooldown time.Duration
	// OnSpacing is the pause between two actions triggered by the same reading.
	OnSpacing time.Duration
	// DurationUnit converts Strategy.ExecuteDuration; seconds unless set.
	DurationUnit time.Duration
}

// deviceState is the debounce/cooldown state of one actuator.
type deviceState struct {
	lastTriggered bool
	// un "off" automatico è già in coda
	offQueued     bool
	cooldownUntil time.Time
	autoOff       *time.Timer
	autoOffIndex  int
}

type Engine struct {
	store Store
	ctrl  Controller
	queue Executor
	cfg   Config
	now   func() time.Time

	mu     sync.Mutex
	states map[string]*deviceState
	closed bool
}

func NewEngine(s Store, ctrl Controller, q Executor, cfg Config) *Engine {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.OnSpacing <= 0 {
		cfg.OnSpacing = DefaultOnSpacing
	}
	if cfg.DurationUnit <= 0 {
		cfg.DurationUnit = time.Second
	}
	return &Engine{
		store:  s,
		ctrl:   ctrl,
		queue:  q,
		cfg:    cfg,
		now:    time.Now,
		states: make(map[string]*deviceState),
	}
}

// Compare applies a strategy operator. ok is false for unsupported operators.
func Compare(op string, value, target float64) (match bool, ok bool) {
	switch op {
	case ">":
		return value > target, true
	case "<":
		return value < target, true
	case "=", "==":
		return value == target, true
	case ">=":
		return value >= target, true
	case "<=":
		return value <= target, true
	}
	return false, false
}

func (e *Engine) state(id string) *deviceState {
	st, ok := e.states[id]
	if !ok {
		st = &deviceState{}
		e.states[id] = st
	}
	return st
}

// action is an actuation decided for the current reading.
type action struct {
	strategy model.Strategy
	deviceID string
	act      model.Action
	index    int
}

// CheckAndExecute runs every enabled strategy against r. Matching actions are
// queued in strategy order; the call never blocks on the serial link.
func (e *Engine) CheckAndExecute(ctx context.Context, r model.Reading) {
	strategies, err := e.store.EnabledStrategies(ctx)
	if err != nil {
		log.Printf("auto: ERROR load strategies: %v", err)
		return
	}
	var todo []action
	for _, s := range strategies {
		if a, ok := e.evaluate(ctx, s, r); ok {
			todo = append(todo, a)
		}
	}
	for i, a := range todo {
		e.submit(a, i < len(todo)-1)
	}
}

// evaluate decides whether s fires for r, claiming the debounce slot if so.
func (e *Engine) evaluate(ctx context.Context, s model.Strategy, r model.Reading) (a action, fire bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("auto: ERROR strategy %d panicked: %v", s.ID, rec)
			fire = false
		}
	}()

	value, ok := r.Number(s.Parameter)
	if !ok {
		return a, false
	}
	match, ok := Compare(s.Operator, value, s.Value)
	if !ok {
		log.Printf("auto: WARN strategy %d has unsupported operator %q", s.ID, s.Operator)
		metrics.AutoActions.WithLabelValues("bad_operator").Inc()
		return a, false
	}
	if !match {
		return a, false
	}
	act, ok := model.ParseAction(string(s.Action))
	if !ok {
		log.Printf("auto: WARN strategy %d has invalid action %q", s.ID, s.Action)
		return a, false
	}
	dev, err := e.store.GetDevice(ctx, s.DeviceID)
	if err != nil || dev == nil {
		log.Printf("auto: WARN strategy %d device %q: %v", s.ID, s.DeviceID, err)
		metrics.AutoActions.WithLabelValues("bad_device").Inc()
		return a, false
	}
	if dev.ControlStatus == act.TargetStatus() {
		return a, false
	}
	index := 0
	if dev.DualPhase() {
		index = 1
	}

	if act == model.ActionOn {
		e.mu.Lock()
		st := e.state(dev.ID)
		now := e.now()
		switch {
		case now.Before(st.cooldownUntil):
			e.mu.Unlock()
			log.Printf("auto: device %s cooling down until %s, on skipped", dev.ID, st.cooldownUntil.Format(time.RFC3339))
			metrics.AutoActions.WithLabelValues("cooldown").Inc()
			return a, false
		case st.lastTriggered:
			e.mu.Unlock()
			metrics.AutoActions.WithLabelValues("debounced").Inc()
			return a, false
		}
		st.lastTriggered = true
		e.mu.Unlock()
	} else {
		e.mu.Lock()
		st := e.state(dev.ID)
		if st.offQueued {
			e.mu.Unlock()
			metrics.AutoActions.WithLabelValues("debounced").Inc()
			return a, false
		}
		st.offQueued = true
		e.mu.Unlock()
	}
	return action{strategy: s, deviceID: dev.ID, act: act, index: index}, true
}

func (e *Engine) submit(a action, pause bool) {
	name := fmt.Sprintf("auto %s %s", a.act, a.deviceID)
	err := e.queue.Submit(name, func(ctx context.Context) (any, error) {
		res := e.execute(ctx, a)
		if pause {
			t := time.NewTimer(e.cfg.OnSpacing)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
		return res, nil
	})
	if err != nil {
		log.Printf("auto: ERROR queue %s: %v", name, err)
		if a.act == model.ActionOn {
			e.release(a.deviceID)
		} else {
			e.offSettled(a.deviceID)
		}
	}
}

// execute runs on the queue worker; the controller writes inline.
func (e *Engine) execute(ctx context.Context, a action) model.ControlResult {
	log.Printf("auto: strategy %d -> device %s %s (index %d)", a.strategy.ID, a.deviceID, a.act, a.index)
	res := e.ctrl.ControlDevice(ctx, a.deviceID, string(a.act), a.index)
	if a.act == model.ActionOff {
		// lo stato del device è già aggiornato: le letture successive lo vedono
		e.offSettled(a.deviceID)
	}
	if !res.Success {
		log.Printf("auto: ERROR strategy %d device %s %s: %s", a.strategy.ID, a.deviceID, a.act, res.Message)
		metrics.AutoActions.WithLabelValues("failed").Inc()
		if a.act == model.ActionOn {
			e.release(a.deviceID)
		}
		return res
	}
	metrics.AutoActions.WithLabelValues(string(a.act)).Inc()

	switch {
	case a.act == model.ActionOff:
		e.offDone(a.deviceID)
	case a.strategy.ExecuteDuration > 0:
		e.armAutoOff(a)
	}
	return res
}

// release frees the debounce slot of a device whose "on" did not happen.
func (e *Engine) release(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state(deviceID).lastTriggered = false
}

// offSettled frees the queued-off slot of a device.
func (e *Engine) offSettled(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state(deviceID).offQueued = false
}

// offDone records a completed automatic "off".
func (e *Engine) offDone(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state(deviceID)
	st.lastTriggered = false
	st.cooldownUntil = e.now().Add(e.cfg.Cooldown)
}

// armAutoOff schedules the matching "off" after the strategy duration. A
// previous timer of the same device is replaced.
func (e *Engine) armAutoOff(a action) {
	d := time.Duration(a.strategy.ExecuteDuration) * e.cfg.DurationUnit
	log.Printf("auto: strategy %d device %s will switch off in %s", a.strategy.ID, a.deviceID, d)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	st := e.state(a.deviceID)
	if st.autoOff != nil {
		st.autoOff.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		e.mu.Lock()
		if st.autoOff == t {
			st.autoOff = nil
		}
		e.mu.Unlock()

		name := "auto off " + a.deviceID
		err := e.queue.Submit(name, func(ctx context.Context) (any, error) {
			res := e.ctrl.ControlDevice(ctx, a.deviceID, string(model.ActionOff), a.index)
			if !res.Success {
				log.Printf("auto: ERROR timed off of device %s: %s", a.deviceID, res.Message)
				metrics.AutoActions.WithLabelValues("failed").Inc()
			} else {
				metrics.AutoActions.WithLabelValues("timed_off").Inc()
			}
			e.offDone(a.deviceID)
			return res, nil
		})
		if err != nil {
			log.Printf("auto: ERROR queue %s: %v", name, err)
		}
	})
	st.autoOff = t
	st.autoOffIndex = a.index
}

// Close stops the timers and switches off right away every device still
// waiting for its timed "off". Call it while the queue is running.
func (e *Engine) Close(ctx context.Context) {
	type pending struct {
		deviceID string
		index    int
	}
	var flush []pending
	e.mu.Lock()
	e.closed = true
	for id, st := range e.states {
		if st.autoOff != nil && st.autoOff.Stop() {
			flush = append(flush, pending{deviceID: id, index: st.autoOffIndex})
		}
		st.autoOff = nil
	}
	e.mu.Unlock()

	for _, p := range flush {
		log.Printf("auto: device %s switched off on shutdown", p.deviceID)
		if res := e.ctrl.ControlDevice(ctx, p.deviceID, string(model.ActionOff), p.index); !res.Success {
			log.Printf("auto: ERROR shutdown off of device %s: %s", p.deviceID, res.Message)
		}
	}
}

// Snapshot is the debounce state of a device, for diagnostics.
type Snapshot struct {
	LastTriggered  bool      `json:"last_triggered"`
	CooldownUntil  time.Time `json:"cooldown_until"`
	AutoOffPending bool      `json:"auto_off_pending"`
	OffQueued      bool      `json:"off_queued"`
}

func (e *Engine) Snapshot(deviceID string) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[deviceID]
	if !ok {
		return Snapshot{}
	}
	return Snapshot{LastTriggered: st.lastTriggered, CooldownUntil: st.cooldownUntil, AutoOffPending: st.autoOff != nil, OffQueued: st.offQueued}
}
