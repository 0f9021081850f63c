package sensor_simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
	"github.com/BuXianWanYin/fish-dish-iot/internal/protocol"
	"github.com/BuXianWanYin/fish-dish-iot/internal/serialport"
	"github.com/BuXianWanYin/fish-dish-iot/pkg/broker"
	"go.bug.st/serial"
)

var errPortClosed = errors.New("simulated port closed")

// FrameEcho risponde ripetendo il comando (dispositivi "other").
const FrameEcho FrameKind = -1

// FramePort e' una porta seriale finta: risponde ai comandi di polling
// registrati con un frame sintetico, gli altri write (controlli) vengono
// solo confermati col numero di byte.
type FramePort struct {
	mu       sync.Mutex
	gen      *DataGenerator
	answers  map[string]FrameKind // hex normalizzato -> tipo frame
	pending  []byte
	controls [][]byte
	closed   bool
}

func NewFramePort(gen *DataGenerator) *FramePort {
	if gen == nil {
		gen = NewDataGenerator(0)
	}
	return &FramePort{gen: gen, answers: map[string]FrameKind{}}
}

// Answer registra il comando di polling cmd (hex).
func (p *FramePort) Answer(cmd string, k FrameKind) error {
	b, err := protocol.HexToBytes(cmd)
	if err != nil {
		return fmt.Errorf("simulator command %q: %w", cmd, err)
	}
	p.mu.Lock()
	p.answers[protocol.BytesToHex(b)] = k
	p.mu.Unlock()
	return nil
}

// AnswerDevice registra il comando di polling di dev col frame adatto al tipo.
func (p *FramePort) AnswerDevice(dev model.Device) error {
	if !dev.HasPollCommand() {
		return nil
	}
	return p.Answer(dev.SensorCommand, KindFor(dev))
}

// KindFor sceglie il frame dal tipo e, per le stazioni meteo, dal nome.
func KindFor(dev model.Device) FrameKind {
	switch dev.Type() {
	case model.DeviceWater:
		return FrameWater
	case model.DeviceWeather:
		name := strings.ToLower(dev.Name)
		switch {
		case strings.Contains(name, "direction") || strings.Contains(name, "风向"):
			return FrameWindDirection
		case strings.Contains(name, "speed") || strings.Contains(name, "风速"):
			return FrameWindSpeed
		}
		return FrameWeather
	default:
		return FrameEcho
	}
}

func (p *FramePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	k, ok := p.answers[protocol.BytesToHex(b)]
	if !ok {
		p.controls = append(p.controls, append([]byte(nil), b...))
		return len(b), nil
	}
	if k == FrameEcho {
		p.pending = append([]byte(nil), b...)
	} else {
		p.pending = p.gen.Frame(k)
	}
	return len(b), nil
}

// Read ritorna quello che c'e' nel buffer; vuoto = timeout (0, nil).
func (p *FramePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *FramePort) SetReadTimeout(time.Duration) error { return nil }

func (p *FramePort) ResetInputBuffer() error {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
	return nil
}

func (p *FramePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.pending = nil
	p.mu.Unlock()
	return nil
}

// Controls ritorna i frame di controllo ricevuti finora.
func (p *FramePort) Controls() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.controls))
	copy(out, p.controls)
	return out
}

// Opener permette al Link di "aprire" la porta finta con qualsiasi nome.
func (p *FramePort) Opener() serialport.Opener {
	return func(name string, _ *serial.Mode) (serialport.Port, error) {
		p.mu.Lock()
		p.closed = false
		p.mu.Unlock()
		log.Printf("simulator: serial %s is simulated", name)
		return p, nil
	}
}

// ===== Pushed readings =====

// SensorSimulator pubblica periodicamente letture di qualita' dell'acqua
// sul topic di ingest, come farebbe un dispositivo collegato via rete.
type SensorSimulator struct {
	generator *DataGenerator
	publisher broker.IPublisher
	topic     string
	deviceID  string
	now       func() time.Time
}

func NewSensorSimulator(publisher broker.IPublisher, gen *DataGenerator, topic, deviceID string) *SensorSimulator {
	return &SensorSimulator{
		generator: gen,
		publisher: publisher,
		topic:     topic,
		deviceID:  deviceID,
		now:       time.Now,
	}
}

// Sample costruisce una lettura con i prossimi valori.
func (s *SensorSimulator) Sample() model.Reading {
	return model.Reading{
		DeviceID:  s.deviceID,
		Type:      model.DeviceWater.DataTag(),
		Timestamp: s.now().UTC(),
		Values:    s.generator.WaterQuality(),
	}
}

// PublishOnce pubblica un campione.
func (s *SensorSimulator) PublishOnce() error {
	r := s.Sample()
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	//debug
	log.Printf("simulator: pub device=%s do=%v nh3=%v ec=%v", r.DeviceID,
		r.Values[ParamDissolvedOxygen], r.Values[ParamAmmonia], r.Values[ParamConductivity])
	return s.publisher.Publish(s.topic, 1, payload)
}

// Start pubblica ogni interval finche' ctx non termina.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.PublishOnce(); err != nil {
				log.Printf("simulator: publish error: %v", err)
			}
		}
	}
}
