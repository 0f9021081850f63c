// Package alert raises, deduplicates and auto-clears threshold alerts.
package alert

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BuXianWanYin/fish-dish-iot/internal/metrics"
	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
)

// CriticalDeviation is the fractional distance from the breached bound above
// which an alert is critical.
const CriticalDeviation = 0.5

type Store interface {
	ThresholdFor(ctx context.Context, deviceID, param string) (*model.ThresholdConfig, error)
	LatestAlert(ctx context.Context, k model.AlertKey, dir model.Direction) (*model.Alert, error)
	OpenAlerts(ctx context.Context, k model.AlertKey) ([]model.Alert, error)
	InsertAlert(ctx context.Context, a *model.Alert) error
	ResolveAlert(ctx context.Context, id string, at time.Time) error
	ParamLabel(ctx context.Context, key string) string
}

// Notifier receives every newly raised alert.
type Notifier interface {
	NotifyAlert(ctx context.Context, m model.AlertMessage) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, m model.AlertMessage) error

func (f NotifierFunc) NotifyAlert(ctx context.Context, m model.AlertMessage) error { return f(ctx, m) }

// Check is one parameter value of a reading.
type Check struct {
	DeviceID   string
	DeviceName string
	DeviceType string
	PastureID  string
	BatchID    string
	ParamName  string
	Value      float64
	Unit       string
}

func (c Check) key() model.AlertKey {
	return model.AlertKey{DeviceID: c.DeviceID, ParamName: c.ParamName, PastureID: c.PastureID, BatchID: c.BatchID}
}

type Engine struct {
	store     Store
	notifiers []Notifier
	now       func() time.Time

	// non viene mai potata: cresce al più fino alle combinazioni (device, parametro, zona) configurate
	locks sync.Map // AlertKey.String() -> *sync.Mutex
}

func NewEngine(s Store, notifiers ...Notifier) *Engine {
	return &Engine{store: s, notifiers: notifiers, now: time.Now}
}

func (e *Engine) lock(k model.AlertKey) func() {
	v, _ := e.locks.LoadOrStore(k.String(), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Severity grades a breach by its fractional distance from bound. A zero
// bound has no meaningful ratio and is always critical.
func Severity(value, bound float64) model.Severity {
	if bound == 0 {
		return model.SeverityCritical
	}
	if math.Abs(value-bound)/math.Abs(bound) > CriticalDeviation {
		return model.SeverityCritical
	}
	return model.SeverityWarning
}

// breach compares value with the configured bounds.
func breach(th *model.ThresholdConfig, value float64) (model.Direction, float64, bool) {
	if th.Min != nil && value < *th.Min {
		return model.DirectionLow, *th.Min, true
	}
	if th.Max != nil && value > *th.Max {
		return model.DirectionHigh, *th.Max, true
	}
	return "", 0, false
}

func message(label string, dir model.Direction, value, bound float64, unit string) string {
	if dir == model.DirectionLow {
		return fmt.Sprintf("%s too low: %.2f%s, below threshold %.2f%s", label, value, unit, bound, unit)
	}
	return fmt.Sprintf("%s too high: %.2f%s, above threshold %.2f%s", label, value, unit, bound, unit)
}

// CheckAndGenerate evaluates one value against its threshold. A breach opens
// an alert unless the latest alert of the same direction is still open; a
// value back in range resolves every open alert of the parameter. Errors are
// logged and never returned, so the caller can go on with other parameters.
func (e *Engine) CheckAndGenerate(ctx context.Context, c Check) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("alert: ERROR check %s/%s panicked: %v", c.DeviceID, c.ParamName, r)
		}
	}()
	if err := e.check(ctx, c); err != nil {
		log.Printf("alert: ERROR check %s/%s: %v", c.DeviceID, c.ParamName, err)
	}
}

func (e *Engine) check(ctx context.Context, c Check) error {
	th, err := e.store.ThresholdFor(ctx, c.DeviceID, c.ParamName)
	if err != nil {
		return fmt.Errorf("threshold lookup: %w", err)
	}
	if th == nil {
		return nil
	}

	k := c.key()
	unlock := e.lock(k)
	defer unlock()

	dir, bound, breached := breach(th, c.Value)
	if !breached {
		return e.clear(ctx, k)
	}

	latest, err := e.store.LatestAlert(ctx, k, dir)
	if err != nil {
		return fmt.Errorf("latest alert: %w", err)
	}
	if latest != nil && latest.Status == model.AlertOpen {
		metrics.Alerts.WithLabelValues("suppressed").Inc()
		return nil
	}

	unit := c.Unit
	if unit == "" {
		unit = th.Unit
	}
	now := e.now()
	a := &model.Alert{
		ID:           uuid.NewString(),
		DeviceID:     c.DeviceID,
		DeviceName:   c.DeviceName,
		DeviceType:   c.DeviceType,
		PastureID:    c.PastureID,
		BatchID:      c.BatchID,
		ParamName:    c.ParamName,
		ParamValue:   c.Value,
		Direction:    dir,
		Message:      message(e.store.ParamLabel(ctx, c.ParamName), dir, c.Value, bound, unit),
		Severity:     Severity(c.Value, bound),
		Status:       model.AlertOpen,
		ThresholdMin: th.Min,
		ThresholdMax: th.Max,
		AlertTime:    now,
	}
	if err := e.store.InsertAlert(ctx, a); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	metrics.Alerts.WithLabelValues("raised").Inc()
	log.Printf("alert: %s %s [%s] %s", a.Severity, c.DeviceID, dir, a.Message)
	e.notify(ctx, a)
	return nil
}

func (e *Engine) clear(ctx context.Context, k model.AlertKey) error {
	open, err := e.store.OpenAlerts(ctx, k)
	if err != nil {
		return fmt.Errorf("open alerts: %w", err)
	}
	now := e.now()
	for _, a := range open {
		if err := e.store.ResolveAlert(ctx, a.ID, now); err != nil {
			log.Printf("alert: WARN resolve %s: %v", a.ID, err)
			continue
		}
		metrics.Alerts.WithLabelValues("cleared").Inc()
		log.Printf("alert: cleared %s %s/%s [%s]", a.ID, k.DeviceID, k.ParamName, a.Direction)
	}
	return nil
}

// ToMessage builds the notification payload of an alert.
func ToMessage(a *model.Alert) model.AlertMessage {
	return model.AlertMessage{
		AlertID:      a.ID,
		DeviceID:     a.DeviceID,
		DeviceName:   a.DeviceName,
		AlertType:    string(a.Direction),
		AlertMessage: a.Message,
		ParamName:    a.ParamName,
		ParamValue:   strconv.FormatFloat(a.ParamValue, 'f', -1, 64),
		AlertLevel:   a.Severity.Level(),
		AlertTime:    a.AlertTime,
		PastureID:    a.PastureID,
		BatchID:      a.BatchID,
	}
}

func (e *Engine) notify(ctx context.Context, a *model.Alert) {
	m := ToMessage(a)
	for _, n := range e.notifiers {
		if err := n.NotifyAlert(ctx, m); err != nil {
			log.Printf("alert: WARN notify %s: %v", a.ID, err)
		}
	}
}
