package persistence

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
)

func TestReadingToPoint(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r := model.Reading{
		DeviceID:  "2",
		Type:      "water",
		PastureID: "p1",
		BatchID:   "b1",
		Timestamp: at,
		Values:    map[string]any{"ph_value": 7.25, "water_temperature": "24.5", "note": "x y"},
	}
	line := write.PointToLineProtocol(ReadingToPoint(r), time.Second)
	for _, want := range []string{"water_quality_data,", "batch_id=b1", "device_id=2", "pasture_id=p1", "ph_value=7.25", "water_temperature=24.5", " 1714557600"} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q does not contain %q", line, want)
		}
	}
	if strings.Contains(line, "note") {
		t.Fatalf("non numeric value written: %q", line)
	}
}

func TestReadingToPointRawFrame(t *testing.T) {
	r := model.Reading{DeviceID: "7", Type: "other", Timestamp: time.Unix(10, 0), Values: map[string]any{"raw_data": "01 03"}}
	line := write.PointToLineProtocol(ReadingToPoint(r), time.Second)
	if !strings.HasPrefix(line, "sensor_data,device_id=7 raw_data=\"01 03\"") {
		t.Fatalf("line = %q", line)
	}
}

func TestMeasurement(t *testing.T) {
	for tag, want := range map[string]string{"weather": "weather_data", "water": "water_quality_data", "other": "sensor_data", "": "sensor_data"} {
		if got := Measurement(tag); got != want {
			t.Errorf("Measurement(%q) = %q, want %q", tag, got, want)
		}
	}
}

type fakeWriteAPI struct {
	mu     sync.Mutex
	points int
	err    error
}

func (f *fakeWriteAPI) WritePoint(_ context.Context, p ...*write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.points += len(p)
	return nil
}

func TestWriterTracksErrors(t *testing.T) {
	api := &fakeWriteAPI{}
	w := NewWriter(api)
	r := model.Reading{DeviceID: "1", Type: "weather", Timestamp: time.Now(), Values: map[string]any{"temperature": 21.5}}

	if err := w.WriteReading(context.Background(), r); err != nil {
		t.Fatalf("WriteReading failed: %v", err)
	}
	if w.Written() != 1 || w.LastErrorAge() < time.Hour {
		t.Fatalf("written=%d lastErrAge=%v", w.Written(), w.LastErrorAge())
	}

	api.err = errors.New("influx down")
	for i := 0; i < 5; i++ {
		if err := w.WriteReading(context.Background(), r); err == nil {
			t.Fatal("expected a write error")
		}
	}
	if w.LastErrorAge() > time.Second {
		t.Fatalf("last error age = %v after failures", w.LastErrorAge())
	}
	// breaker aperto: le scritture successive non arrivano a Influx
	api.err = nil
	if err := w.WriteReading(context.Background(), r); err == nil {
		t.Fatal("expected the open breaker to reject the write")
	}
	if api.points != 1 {
		t.Fatalf("points = %d, want 1", api.points)
	}
}

func TestWriterSkipsEmptyReadings(t *testing.T) {
	api := &fakeWriteAPI{err: errors.New("must not be called")}
	w := NewWriter(api)
	if err := w.WriteReading(context.Background(), model.Reading{DeviceID: "1", Values: map[string]any{"note": "x"}}); err != nil {
		t.Fatalf("WriteReading failed: %v", err)
	}
}

func TestLatestFlux(t *testing.T) {
	q := latestFlux("agri", `dev"1`, 30)
	for _, want := range []string{`from(bucket: "agri")`, "range(start: -30m)", `r.device_id == "dev\"1"`, "last()"} {
		if !strings.Contains(q, want) {
			t.Fatalf("query %q does not contain %q", q, want)
		}
	}
	if !strings.Contains(latestFlux("agri", "x", 0), "-1440m") {
		t.Fatal("default window is not 24h")
	}
}
