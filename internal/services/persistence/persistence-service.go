// Package persistence writes readings to InfluxDB and reads the latest values
// back for the HTTP surface.
package persistence

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"

	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
	"github.com/BuXianWanYin/fish-dish-iot/internal/protocol"
)

// Configurazione Influx
type InfluxConfig struct {
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

func (c InfluxConfig) Valid() error {
	if c.InfluxURL == "" || c.InfluxToken == "" || c.InfluxOrg == "" || c.InfluxBucket == "" {
		return fmt.Errorf("influx config incomplete")
	}
	return nil
}

// Measurement is the measurement name of a reading data tag.
func Measurement(dataTag string) string {
	switch dataTag {
	case "weather":
		return "weather_data"
	case "water":
		return "water_quality_data"
	default:
		return "sensor_data"
	}
}

// ReadingToPoint maps a reading to a point: one field per value, identifiers
// as tags. Non numeric values other than the raw frame are dropped.
func ReadingToPoint(r model.Reading) *write.Point {
	tags := map[string]string{"device_id": r.DeviceID}
	if r.PastureID != "" {
		tags["pasture_id"] = r.PastureID
	}
	if r.BatchID != "" {
		tags["batch_id"] = r.BatchID
	}
	fields := make(map[string]interface{}, len(r.Values))
	for k, v := range r.Values {
		key := sanitizeKey(k)
		if k == protocol.FieldRaw {
			if s, ok := v.(string); ok {
				fields[key] = s
			}
			continue
		}
		if n, ok := r.Number(k); ok {
			fields[key] = n
		}
	}
	t := r.Timestamp
	if t.IsZero() {
		t = time.Now()
	}
	return influxdb2.NewPoint(Measurement(r.Type), tags, fields, t)
}

func sanitizeKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// PointWriter is satisfied by api.WriteAPIBlocking.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Writer scrive le letture su Influx dietro un circuit breaker e traccia
// l'ultimo errore per /healthz e /readyz.
type Writer struct {
	api PointWriter
	cb  *gobreaker.CircuitBreaker

	mu      sync.RWMutex
	lastErr time.Time
	written int64
}

func NewWriter(w PointWriter) *Writer {
	st := gobreaker.Settings{
		Name:     "influx-write",
		Interval: 60 * time.Second,
		Timeout:  15 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("persistence: breaker %s %s -> %s", name, from, to)
		},
	}
	return &Writer{
		api:     w,
		cb:      gobreaker.NewCircuitBreaker(st),
		lastErr: time.Now().Add(-24 * time.Hour), // di default "lontano nel tempo"
	}
}

func (w *Writer) WriteReading(ctx context.Context, r model.Reading) error {
	p := ReadingToPoint(r)
	if len(p.FieldList()) == 0 {
		return nil
	}
	_, err := w.cb.Execute(func() (any, error) {
		return nil, w.api.WritePoint(ctx, p)
	})
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.lastErr = time.Now()
		return fmt.Errorf("influx write %s: %w", r.DeviceID, err)
	}
	w.written++
	return nil
}

// LastErrorAge ritorna da quanto tempo non si verificano errori di scrittura.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// Written is the number of readings stored since start.
func (w *Writer) Written() int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.written
}
