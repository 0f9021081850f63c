package device

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/BuXianWanYin/fish-dish-iot/internal/cmdqueue"
	"github.com/BuXianWanYin/fish-dish-iot/internal/metrics"
	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
	"github.com/BuXianWanYin/fish-dish-iot/internal/protocol"
	"github.com/BuXianWanYin/fish-dish-iot/internal/store"
)

// DefaultSettleDelay separates the two frames of a dual-phase actuation.
const DefaultSettleDelay = 8 * time.Second

var errWriteFailed = errors.New("no bytes written")

type Store interface {
	GetDevice(ctx context.Context, id string) (*model.Device, error)
	UpdateControlStatus(ctx context.Context, id string, status model.ControlStatus) error
}

// Executor is the serial command queue.
type Executor interface {
	Do(ctx context.Context, name string, fn cmdqueue.Task) (any, error)
	Submit(name string, fn cmdqueue.Task) error
}

// Writer is the serial link.
type Writer interface {
	Write(b []byte) (int, error)
}

// pulse is a pending return-to-rest frame of a dual-phase actuation.
type pulse struct {
	deviceID string
	frame    []byte
	timer    *time.Timer
}

// Controller turns on/off requests into relay frames.
//
// Index 0 sends one frame. Index 1 drives a dual relay: "on" sends
// on[0] and, after the settle delay, off[0]; "off" sends on[1] and then
// off[1]. The delayed frame is never cancelled by a later request because it
// de-energizes the relay the first frame energized.
type Controller struct {
	store  Store
	queue  Executor
	link   Writer
	settle time.Duration

	mu      sync.Mutex
	pending map[*pulse]struct{}
	closed  bool
}

func NewController(s Store, q Executor, link Writer, settle time.Duration) *Controller {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Controller{
		store:   s,
		queue:   q,
		link:    link,
		settle:  settle,
		pending: make(map[*pulse]struct{}),
	}
}

func result(code int, format string, args ...any) model.ControlResult {
	return model.ControlResult{Success: code == http.StatusOK, Code: code, Message: fmt.Sprintf(format, args...)}
}

// ControlDevice executes action ("on"/"off") on deviceID using the command
// group index (0 single phase, 1 dual phase). It never returns an error:
// failures are reported in the result. When ctx comes from a task already
// running on the queue worker the frame is written inline.
func (c *Controller) ControlDevice(ctx context.Context, deviceID, action string, index int) (res model.ControlResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("control: ERROR device %s %s panicked: %v", deviceID, action, r)
			res = result(http.StatusInternalServerError, "control failed: %v", r)
		}
		outcome := "ok"
		if !res.Success {
			outcome = strconv.Itoa(res.Code)
		}
		metrics.Controls.WithLabelValues(action, outcome).Inc()
	}()

	dev, err := c.store.GetDevice(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return result(http.StatusNotFound, "device %s not found", deviceID)
	}
	if err != nil {
		log.Printf("control: ERROR load device %s: %v", deviceID, err)
		return result(http.StatusInternalServerError, "load device: %v", err)
	}
	if !dev.Controllable {
		return result(http.StatusForbidden, "device %s is not controllable", deviceID)
	}
	on := model.CommandGroups(dev.CommandOn)
	off := model.CommandGroups(dev.CommandOff)
	if len(on) == 0 {
		return result(http.StatusBadRequest, "device %s has no on command configured", deviceID)
	}
	if len(off) == 0 {
		return result(http.StatusBadRequest, "device %s has no off command configured", deviceID)
	}
	act, ok := model.ParseAction(action)
	if !ok {
		return result(http.StatusBadRequest, "invalid action %q", action)
	}

	switch index {
	case 0:
		cmd := on[0]
		if act == model.ActionOff {
			cmd = off[0]
		}
		frame, err := protocol.HexToBytes(cmd)
		if err != nil {
			return result(http.StatusBadRequest, "device %s: %v", deviceID, err)
		}
		if err := c.send(ctx, deviceID, frame); err != nil {
			log.Printf("control: ERROR device %s %s write failed: %v", deviceID, act, err)
			return result(http.StatusInternalServerError, "command send failed: %v", err)
		}
		return c.commit(ctx, dev, act)

	case 1:
		if len(on) < 2 || len(off) < 2 {
			return result(http.StatusBadRequest, "device %s: multiple command groups not configured", deviceID)
		}
		phase := 0
		if act == model.ActionOff {
			phase = 1
		}
		first, err := protocol.HexToBytes(on[phase])
		if err != nil {
			return result(http.StatusBadRequest, "device %s: %v", deviceID, err)
		}
		rest, err := protocol.HexToBytes(off[phase])
		if err != nil {
			return result(http.StatusBadRequest, "device %s: %v", deviceID, err)
		}
		if err := c.send(ctx, deviceID, first); err != nil {
			log.Printf("control: ERROR device %s %s phase %d write failed: %v", deviceID, act, phase, err)
			return result(http.StatusInternalServerError, "command send failed: %v", err)
		}
		// il relè ha ricevuto on[phase]: il ritorno a riposo parte comunque
		c.schedule(deviceID, rest)
		return c.commit(ctx, dev, act)

	default:
		return result(http.StatusBadRequest, "unsupported command group index %d", index)
	}
}

// send writes one frame through the queue (inline when already on the worker).
func (c *Controller) send(ctx context.Context, deviceID string, frame []byte) error {
	v, err := c.queue.Do(ctx, "control "+deviceID, func(context.Context) (any, error) {
		return c.link.Write(frame)
	})
	if err != nil {
		return err
	}
	if n, _ := v.(int); n <= 0 {
		return errWriteFailed
	}
	return nil
}

func (c *Controller) commit(ctx context.Context, dev *model.Device, act model.Action) model.ControlResult {
	if err := c.store.UpdateControlStatus(ctx, dev.ID, act.TargetStatus()); err != nil {
		log.Printf("control: ERROR device %s status update failed: %v", dev.ID, err)
		return result(http.StatusInternalServerError, "status update failed: %v", err)
	}
	log.Printf("control: device %s (%s) turned %s", dev.ID, dev.Name, act)
	return result(http.StatusOK, "device %s turned %s", dev.ID, act)
}

// schedule queues the return-to-rest frame after the settle delay.
func (c *Controller) schedule(deviceID string, frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	p := &pulse{deviceID: deviceID, frame: frame}
	p.timer = time.AfterFunc(c.settle, func() {
		if !c.take(p) {
			return
		}
		err := c.queue.Submit("rest "+deviceID, func(context.Context) (any, error) {
			n, err := c.link.Write(frame)
			if err != nil || n <= 0 {
				log.Printf("control: WARN device %s return-to-rest frame failed: n=%d err=%v", deviceID, n, err)
			}
			return n, err
		})
		if err != nil {
			log.Printf("control: WARN device %s return-to-rest not queued: %v", deviceID, err)
		}
	})
	c.pending[p] = struct{}{}
}

// take removes p from the pending set, reporting whether it was still there.
func (c *Controller) take(p *pulse) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[p]; !ok {
		return false
	}
	delete(c.pending, p)
	return true
}

// Pending is the number of return-to-rest frames waiting for deviceID.
func (c *Controller) Pending(deviceID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for p := range c.pending {
		if p.deviceID == deviceID {
			n++
		}
	}
	return n
}

// Close stops the settle timers and writes the pending return-to-rest frames
// right away, so no relay is left energized. Call it before closing the queue.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	c.closed = true
	var flush []*pulse
	for p := range c.pending {
		// a fired timer owns its pulse and queues it itself
		if p.timer.Stop() {
			flush = append(flush, p)
			delete(c.pending, p)
		}
	}
	c.mu.Unlock()

	for _, p := range flush {
		frame := p.frame
		if _, err := c.queue.Do(ctx, "rest "+p.deviceID, func(context.Context) (any, error) {
			return c.link.Write(frame)
		}); err != nil {
			log.Printf("control: WARN device %s return-to-rest on shutdown failed: %v", p.deviceID, err)
		}
	}
}
