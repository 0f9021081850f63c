// Package poller runs one polling loop per sensor device. Every cycle writes
// the device command, waits for the answer and reads it inside a single
// queue task, so nothing else reaches the port between write and read.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/BuXianWanYin/fish-dish-iot/internal/cmdqueue"
	"github.com/BuXianWanYin/fish-dish-iot/internal/metrics"
	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
	"github.com/BuXianWanYin/fish-dish-iot/internal/protocol"
)

const (
	DefaultInterval  = 5 * time.Second
	DefaultReadDelay = 200 * time.Millisecond
	DefaultMaxRead   = 256
)

var errNoBytesWritten = errors.New("no bytes written")

// Executor is the command queue as seen by the pollers.
type Executor interface {
	SubmitSync(ctx context.Context, name string, fn cmdqueue.Task) (any, error)
}

// Link is the serial port as seen from inside a queue task.
type Link interface {
	Write(b []byte) (int, error)
	Read(maxBytes int) ([]byte, error)
}

type OnlineMarker interface {
	MarkDeviceOnline(ctx context.Context, id string, at time.Time) (bool, error)
}

// Sink consumes decoded readings.
type Sink interface {
	Process(ctx context.Context, r model.Reading)
}

type Config struct {
	Interval  time.Duration
	ReadDelay time.Duration
	MaxRead   int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ReadDelay < 0 {
		c.ReadDelay = 0
	}
	if c.MaxRead <= 0 {
		c.MaxRead = DefaultMaxRead
	}
	return c
}

// Poller executes poll cycles. It is shared by all device loops.
type Poller struct {
	queue  Executor
	link   Link
	online OnlineMarker
	sink   Sink
	cfg    Config
	now    func() time.Time
}

func New(q Executor, link Link, online OnlineMarker, sink Sink, cfg Config) *Poller {
	return &Poller{
		queue:  q,
		link:   link,
		online: online,
		sink:   sink,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

// exchange is the queue task of one cycle: write, settle, read.
func (p *Poller) exchange(frame []byte) cmdqueue.Task {
	return func(ctx context.Context) (any, error) {
		n, err := p.link.Write(frame)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, errNoBytesWritten
		}
		if p.cfg.ReadDelay > 0 {
			t := time.NewTimer(p.cfg.ReadDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		return p.link.Read(p.cfg.MaxRead)
	}
}

// PollOnce runs a single cycle for dev. An empty answer is not an error.
func (p *Poller) PollOnce(ctx context.Context, dev model.Device) error {
	kind := dev.Type().String()
	frame, err := protocol.HexToBytes(dev.SensorCommand)
	if err != nil {
		metrics.Polls.WithLabelValues(kind, "bad_command").Inc()
		return fmt.Errorf("device %s: %w", dev.ID, err)
	}

	v, err := p.queue.SubmitSync(ctx, "poll "+dev.ID, p.exchange(frame))
	if err != nil {
		metrics.Polls.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("device %s: %w", dev.ID, err)
	}
	answer, _ := v.([]byte)
	if len(answer) == 0 {
		metrics.Polls.WithLabelValues(kind, "empty").Inc()
		log.Printf("poller: device %s (%s) no response", dev.ID, dev.Name)
		return nil
	}
	metrics.Polls.WithLabelValues(kind, "ok").Inc()

	at := p.now()
	if changed, err := p.online.MarkDeviceOnline(ctx, dev.ID, at); err != nil {
		log.Printf("poller: WARN device %s online update failed: %v", dev.ID, err)
	} else if changed {
		log.Printf("poller: device %s (%s) is online", dev.ID, dev.Name)
	}

	reading := model.Reading{
		DeviceID:   dev.ID,
		DeviceName: dev.Name,
		Type:       dev.Type().DataTag(),
		PastureID:  dev.PastureID,
		BatchID:    dev.BatchID,
		Timestamp:  at,
		Values:     protocol.Decode(dev.Type(), answer),
	}
	p.sink.Process(ctx, reading)
	return nil
}

// Run polls dev every Interval until ctx is cancelled. Cancellation is only
// observed between cycles.
func (p *Poller) Run(ctx context.Context, dev model.Device) {
	log.Printf("poller: start device %s (%s) every %s", dev.ID, dev.Name, p.cfg.Interval)
	for {
		if err := p.PollOnce(ctx, dev); err != nil && ctx.Err() == nil {
			log.Printf("poller: ERROR %v", err)
		}
		t := time.NewTimer(p.cfg.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Printf("poller: stop device %s", dev.ID)
			return
		case <-t.C:
		}
	}
}
