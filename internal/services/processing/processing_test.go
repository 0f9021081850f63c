package processing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
	"github.com/BuXianWanYin/fish-dish-iot/internal/services/alert"
	"github.com/BuXianWanYin/fish-dish-iot/internal/store"
)

type fakeStore struct {
	mu     sync.Mutex
	topics map[string]string
	online []string
}

func (f *fakeStore) TopicFor(_ context.Context, id string) (string, byte, bool, error) {
	t, ok := f.topics[id]
	return t, 1, ok, nil
}

func (f *fakeStore) GetDevice(_ context.Context, id string) (*model.Device, error) {
	if id != "2" {
		return nil, store.ErrNotFound
	}
	return &model.Device{ID: "2", Name: "pond-probe", TypeTag: "2", PastureID: "p1", BatchID: "b1"}, nil
}

func (f *fakeStore) MarkDeviceOnline(_ context.Context, id string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = append(f.online, id)
	return true, nil
}

type steps struct {
	mu  sync.Mutex
	log []string
}

func (s *steps) add(v string) {
	s.mu.Lock()
	s.log = append(s.log, v)
	s.mu.Unlock()
}

func (s *steps) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

type stepWriter struct {
	*steps
	err error
}

func (w stepWriter) WriteReading(_ context.Context, r model.Reading) error {
	w.add("write " + r.DeviceID)
	return w.err
}

type stepPub struct {
	*steps
	payloads [][]byte
	err      error
}

func (p *stepPub) Publish(topic string, qos byte, payload []byte) error {
	p.add("publish " + topic)
	p.payloads = append(p.payloads, payload)
	return p.err
}

type stepAlerts struct{ *steps }

func (a stepAlerts) CheckAndGenerate(_ context.Context, c alert.Check) {
	a.add("alert " + c.ParamName + " " + c.Unit)
}

type stepAuto struct{ *steps }

func (a stepAuto) CheckAndExecute(_ context.Context, r model.Reading) {
	a.add("auto " + r.DeviceID)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func newTestService(failIO bool) (*Service, *steps, *stepPub, *fakeStore) {
	st := &steps{}
	var ioErr error
	if failIO {
		ioErr = errors.New("backend down")
	}
	pub := &stepPub{steps: st, err: ioErr}
	fs := &fakeStore{topics: map[string]string{"2": "/fish-dish/water/2"}}
	svc := NewService(fs, stepWriter{steps: st, err: ioErr}, pub, stepAlerts{st}, stepAuto{st})
	return svc, st, pub, fs
}

func TestProcessOrder(t *testing.T) {
	for _, failIO := range []bool{false, true} {
		svc, st, _, _ := newTestService(failIO)
		svc.Process(context.Background(), model.Reading{
			DeviceID: "2",
			Type:     "water",
			Values:   map[string]any{"ph_value": 7.1, "water_temperature": 24.0, "raw_data": "01", "note": "x"},
		})
		want := []string{
			"write 2",
			"publish /fish-dish/water/2",
			"alert ph_value ",
			"alert water_temperature ℃",
			"auto 2",
		}
		got := st.all()
		if len(got) != len(want) {
			t.Fatalf("failIO=%v steps = %v, want %v", failIO, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("failIO=%v steps = %v, want %v", failIO, got, want)
			}
		}
	}
}

func TestProcessFallsBackToUnknownTopic(t *testing.T) {
	svc, st, _, _ := newTestService(false)
	svc.Process(context.Background(), model.Reading{DeviceID: "77", Values: map[string]any{}})
	if got := st.all(); len(got) < 2 || got[1] != "publish "+DefaultUnknownTopic {
		t.Fatalf("steps = %v", got)
	}
}

func TestHandleInbound(t *testing.T) {
	svc, st, pub, fs := newTestService(false)
	payload := []byte(`{"deviceId":"2","dissolved_oxygen":6.4,"ammonia_nitrogen":0.48}`)

	if err := svc.HandleInbound("fish-dish/ingest/2", fakeMessage{topic: "fish-dish/ingest/2", payload: payload}); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	// redelivery QoS1
	if err := svc.HandleInbound("fish-dish/ingest/2", fakeMessage{topic: "fish-dish/ingest/2", payload: payload}); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}

	if n := len(pub.payloads); n != 1 {
		t.Fatalf("published %d readings, want 1", n)
	}
	var out map[string]any
	if err := json.Unmarshal(pub.payloads[0], &out); err != nil {
		t.Fatalf("published payload is not JSON: %v", err)
	}
	if out["deviceName"] != "pond-probe" || out["type"] != "water" || out["pastureId"] != "p1" || out["dissolved_oxygen"] != 6.4 {
		t.Fatalf("published = %v", out)
	}
	if len(fs.online) != 1 {
		t.Fatalf("online marks = %v", fs.online)
	}
	if got := st.all(); got[len(got)-1] != "auto 2" {
		t.Fatalf("steps = %v", got)
	}
}

func TestHandleInboundDropsBadInput(t *testing.T) {
	svc, st, _, _ := newTestService(false)
	if err := svc.HandleInbound("t", fakeMessage{payload: []byte("{not json")}); err != nil {
		t.Fatalf("invalid JSON must not fail the stream: %v", err)
	}
	if err := svc.HandleInbound("t", fakeMessage{payload: []byte(`{"ph_value":7}`)}); err != nil {
		t.Fatalf("missing device id must not fail the stream: %v", err)
	}
	if err := svc.HandleInbound("t", fakeMessage{payload: []byte(`{"deviceId":"99","ph_value":7}`)}); err == nil {
		t.Fatal("expected an error for an unknown device")
	}
	if len(st.all()) != 0 {
		t.Fatalf("steps = %v, want none", st.all())
	}
}
