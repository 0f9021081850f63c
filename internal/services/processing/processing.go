// Package processing fans a decoded reading out to storage, the bus, the alert
// engine and the auto-control engine.
package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
	"github.com/BuXianWanYin/fish-dish-iot/internal/protocol"
	"github.com/BuXianWanYin/fish-dish-iot/internal/services/alert"
	"github.com/BuXianWanYin/fish-dish-iot/pkg/broker"
	"github.com/BuXianWanYin/fish-dish-iot/pkg/dedup"
)

const DefaultUnknownTopic = "/fish-dish/unknown"

type Store interface {
	TopicFor(ctx context.Context, deviceID string) (string, byte, bool, error)
	GetDevice(ctx context.Context, id string) (*model.Device, error)
	MarkDeviceOnline(ctx context.Context, id string, at time.Time) (bool, error)
}

type ReadingWriter interface {
	WriteReading(ctx context.Context, r model.Reading) error
}

type AlertChecker interface {
	CheckAndGenerate(ctx context.Context, c alert.Check)
}

type StrategyRunner interface {
	CheckAndExecute(ctx context.Context, r model.Reading)
}

type Service struct {
	store        Store
	writer       ReadingWriter
	pub          broker.IPublisher
	alerts       AlertChecker
	auto         StrategyRunner
	unknownTopic string
	seen         *dedup.Deduper
	now          func() time.Time
}

type Option func(*Service)

func WithUnknownTopic(t string) Option { return func(s *Service) { s.unknownTopic = t } }

// WithDeduper overrides the redelivery filter of inbound readings.
func WithDeduper(d *dedup.Deduper) Option { return func(s *Service) { s.seen = d } }

// NewService wires the stages; writer and pub may be nil when the backend is
// not configured.
func NewService(st Store, writer ReadingWriter, pub broker.IPublisher, alerts AlertChecker, auto StrategyRunner, opts ...Option) *Service {
	s := &Service{
		store:        st,
		writer:       writer,
		pub:          pub,
		alerts:       alerts,
		auto:         auto,
		unknownTopic: DefaultUnknownTopic,
		seen:         dedup.New(10*time.Minute, 10000),
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Process handles one reading. Storage and publish failures are logged and do
// not stop alerting and auto-control.
func (s *Service) Process(ctx context.Context, r model.Reading) {
	topic, qos := s.topic(ctx, r.DeviceID)

	if s.writer != nil {
		if err := s.writer.WriteReading(ctx, r); err != nil {
			log.Printf("processing: WARN %v", err)
		}
	}
	if s.pub != nil {
		if b, err := json.Marshal(r); err != nil {
			log.Printf("processing: ERROR encode reading %s: %v", r.DeviceID, err)
		} else if err := s.pub.Publish(topic, qos, b); err != nil {
			log.Printf("processing: WARN publish %s: %v", topic, err)
		}
	}

	if s.alerts != nil {
		for _, name := range numericParams(r) {
			v, _ := r.Number(name)
			s.alerts.CheckAndGenerate(ctx, alert.Check{
				DeviceID:   r.DeviceID,
				DeviceName: r.DeviceName,
				DeviceType: r.Type,
				PastureID:  r.PastureID,
				BatchID:    r.BatchID,
				ParamName:  name,
				Value:      v,
				Unit:       model.DefaultUnits[name],
			})
		}
	}
	if s.auto != nil {
		s.auto.CheckAndExecute(ctx, r)
	}
}

func (s *Service) topic(ctx context.Context, deviceID string) (string, byte) {
	topic, qos, ok, err := s.store.TopicFor(ctx, deviceID)
	if err != nil {
		log.Printf("processing: WARN topic lookup %s: %v", deviceID, err)
	}
	if !ok || topic == "" {
		log.Printf("processing: WARN no topic for device %s, using %s", deviceID, s.unknownTopic)
		return s.unknownTopic, 0
	}
	return topic, qos
}

// numericParams lists the alertable parameters of r in a stable order.
func numericParams(r model.Reading) []string {
	out := make([]string, 0, len(r.Values))
	for k := range r.Values {
		if k == protocol.FieldRaw {
			continue
		}
		if _, ok := r.Number(k); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

var errUnknownDevice = errors.New("unknown device")

// HandleInbound is the broker handler of readings pushed by devices that are
// not on the serial link. Redelivered payloads are dropped.
func (s *Service) HandleInbound(topic string, msg mqtt.Message) error {
	payload := msg.Payload()
	if !s.seen.ShouldProcess(dedup.PayloadKey(payload)) {
		return nil
	}
	var r model.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		log.Printf("processing: invalid JSON on %s: %v", topic, err)
		return nil // non bloccare lo stream
	}
	if r.DeviceID == "" {
		log.Printf("processing: reading on %s without deviceId dropped", topic)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dev, err := s.store.GetDevice(ctx, r.DeviceID)
	if err != nil {
		return fmt.Errorf("reading dropped: %w %s: %v", errUnknownDevice, r.DeviceID, err)
	}
	fill(&r, dev, s.now())

	if changed, err := s.store.MarkDeviceOnline(ctx, dev.ID, r.Timestamp); err != nil {
		log.Printf("processing: WARN device %s online update failed: %v", dev.ID, err)
	} else if changed {
		log.Printf("processing: device %s (%s) is online", dev.ID, dev.Name)
	}
	s.Process(ctx, r)
	return nil
}

// fill completes a pushed reading with the registered device data.
func fill(r *model.Reading, dev *model.Device, now time.Time) {
	if r.DeviceName == "" {
		r.DeviceName = dev.Name
	}
	if r.Type == "" {
		r.Type = dev.Type().DataTag()
	}
	if r.PastureID == "" {
		r.PastureID = dev.PastureID
	}
	if r.BatchID == "" {
		r.BatchID = dev.BatchID
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	if r.Values == nil {
		r.Values = map[string]any{}
	}
}
