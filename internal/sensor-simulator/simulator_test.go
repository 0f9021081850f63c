package sensor_simulator

import (
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
	"github.com/BuXianWanYin/fish-dish-iot/internal/protocol"
	"github.com/BuXianWanYin/fish-dish-iot/internal/serialport"
)

func TestWalkStaysNearRange(t *testing.T) {
	g := NewDataGenerator(42)
	for _, name := range []string{ParamDissolvedOxygen, ParamAmmonia, ParamConductivity} {
		w := defaultWalks()[name]
		prev := w.Value
		for i := 0; i < 2000; i++ {
			v := g.Next(name)
			if v < w.Min-0.005 || v > w.Max+0.005 {
				t.Fatalf("%s out of range: %v", name, v)
			}
			if math.Abs(v-math.Round(v*100)/100) > 1e-9 {
				t.Fatalf("%s not rounded to 2 decimals: %v", name, v)
			}
			// passo + rientro al massimo
			if d := math.Abs(v - prev); d > w.Step+(w.Max-w.Min)*0.1+0.01 {
				t.Fatalf("%s jumped %v -> %v", name, prev, v)
			}
			prev = v
		}
	}
	if g.Next("nope") != 0 {
		t.Fatalf("unknown parameter must yield 0")
	}
}

func TestWalkReentersFromOutside(t *testing.T) {
	w := &Walk{Value: 10, Min: 0, Max: 1, Step: 0.1}
	v := w.next(rand.New(rand.NewSource(1)))
	if v < 0.9 || v > 1 {
		t.Fatalf("expected value near the upper bound, got %v", v)
	}
	w = &Walk{Value: -10, Min: 0, Max: 1, Step: 0.1}
	v = w.next(rand.New(rand.NewSource(1)))
	if v < 0 || v > 0.1 {
		t.Fatalf("expected value near the lower bound, got %v", v)
	}
}

func TestFramesDecode(t *testing.T) {
	f := protocol.Decode(model.DeviceWeather, WeatherFrame(WeatherSample{
		Humidity: 55.5, Temperature: 21.3, Noise: 40.2, PM25: 12, PM10: 30, Light: 900,
	}))
	if f[protocol.FieldHumidity] != 55.5 || f[protocol.FieldTemperature] != 21.3 ||
		f[protocol.FieldPM10] != 30.0 || f[protocol.FieldLight] != 900.0 {
		t.Fatalf("weather decode mismatch: %v", f)
	}

	f = protocol.Decode(model.DeviceWeather, WindDirectionFrame(2, 90))
	if f[protocol.FieldWindDirection] != "E" || f[protocol.FieldDirectionAngle] != 90.0 {
		t.Fatalf("wind direction decode mismatch: %v", f)
	}

	f = protocol.Decode(model.DeviceWeather, WindSpeedFrame(4.2))
	if f[protocol.FieldWindSpeed] != 4.2 {
		t.Fatalf("wind speed decode mismatch: %v", f)
	}

	f = protocol.Decode(model.DeviceWater, WaterFrame(25.37, 7.05))
	if f[protocol.FieldWaterTemperature] != 25.37 || f[protocol.FieldPH] != 7.05 {
		t.Fatalf("water decode mismatch: %v", f)
	}
}

func TestKindFor(t *testing.T) {
	cases := []struct {
		dev  model.Device
		want FrameKind
	}{
		{model.Device{TypeTag: "2"}, FrameWater},
		{model.Device{TypeTag: "1", Name: "Wind direction"}, FrameWindDirection},
		{model.Device{TypeTag: "1", Name: "风速传感器"}, FrameWindSpeed},
		{model.Device{TypeTag: "1", Name: "shutter box"}, FrameWeather},
		{model.Device{TypeTag: "6"}, FrameEcho},
	}
	for _, c := range cases {
		if got := KindFor(c.dev); got != c.want {
			t.Fatalf("KindFor(%+v) = %v, want %v", c.dev, got, c.want)
		}
	}
}

func TestFramePortThroughLink(t *testing.T) {
	port := NewFramePort(NewDataGenerator(7))
	if err := port.AnswerDevice(model.Device{TypeTag: "2", SensorCommand: "01 03 00 00 00 04 44 09"}); err != nil {
		t.Fatalf("AnswerDevice failed: %v", err)
	}
	if err := port.AnswerDevice(model.Device{TypeTag: "6", SensorCommand: "05 03 00 00"}); err != nil {
		t.Fatalf("AnswerDevice failed: %v", err)
	}

	link := serialport.NewLink(serialport.WithOpener(port.Opener()))
	if err := link.Open("/dev/sim0", 9600); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = link.Close() })

	if _, err := link.Write([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x04, 0x44, 0x09}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	resp, err := link.Read(256)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	f := protocol.Decode(model.DeviceWater, resp)
	if _, ok := f[protocol.FieldPH].(float64); !ok {
		t.Fatalf("expected a decodable water frame, got % X -> %v", resp, f)
	}

	if _, err := link.Write([]byte{0x05, 0x03, 0x00, 0x00}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if resp, _ = link.Read(256); protocol.BytesToHex(resp) != "05 03 00 00" {
		t.Fatalf("expected echo, got % X", resp)
	}

	n, err := link.Write([]byte{0x01, 0x05, 0x00, 0x00, 0xFF, 0x00})
	if err != nil || n != 6 {
		t.Fatalf("control write: n=%d err=%v", n, err)
	}
	if resp, _ = link.Read(256); len(resp) != 0 {
		t.Fatalf("control writes must not produce input, got % X", resp)
	}
	if got := port.Controls(); len(got) != 1 || got[0][1] != 0x05 {
		t.Fatalf("control frame not recorded: %v", got)
	}
}

func TestFramePortBadCommand(t *testing.T) {
	if err := NewFramePort(nil).Answer("zz", FrameWater); err == nil {
		t.Fatalf("expected error for invalid hex")
	}
}

type capture struct {
	mu    sync.Mutex
	topic string
	qos   byte
	body  []byte
}

func (c *capture) Publish(topic string, qos byte, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic, c.qos, c.body = topic, qos, payload
	return nil
}

func TestSensorSimulatorPublishesReading(t *testing.T) {
	pub := &capture{}
	s := NewSensorSimulator(pub, NewDataGenerator(3), "fish-dish/ingest/water", "w1")
	s.now = func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) }

	if err := s.PublishOnce(); err != nil {
		t.Fatalf("PublishOnce failed: %v", err)
	}
	if pub.topic != "fish-dish/ingest/water" || pub.qos != 1 {
		t.Fatalf("unexpected topic/qos %s/%d", pub.topic, pub.qos)
	}
	var r model.Reading
	if err := json.Unmarshal(pub.body, &r); err != nil {
		t.Fatalf("payload is not a reading: %v", err)
	}
	if r.DeviceID != "w1" || r.Type != "water" || !r.Timestamp.Equal(s.now()) {
		t.Fatalf("unexpected identity: %+v", r)
	}
	do, ok := r.Number(ParamDissolvedOxygen)
	if !ok || do < 6.0 || do > 7.2 {
		t.Fatalf("dissolved oxygen out of range: %v", r.Values)
	}
	if _, ok := r.Number(ParamConductivity); !ok {
		t.Fatalf("conductivity missing: %v", r.Values)
	}
}
