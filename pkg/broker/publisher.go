package broker

import (
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"
)

// IPublisher publishes a payload on a topic.
type IPublisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

var ErrPublishTimeout = errors.New("mqtt publish timed out")

type Publisher struct {
	client  mqtt.Client
	timeout time.Duration
}

func NewPublisher(client mqtt.Client) *Publisher {
	return &Publisher{client: client, timeout: 5 * time.Second}
}

func (p *Publisher) Publish(topic string, qos byte, payload []byte) error {
	token := p.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", topic, err)
	}
	return nil
}

// BreakerPublisher stops hammering a broker that keeps failing: after
// Failures consecutive errors publishes fail fast for OpenFor.
type BreakerPublisher struct {
	next IPublisher
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerPublisher(next IPublisher, failures int, openFor time.Duration) *BreakerPublisher {
	if failures < 1 {
		failures = 1
	}
	if openFor <= 0 {
		openFor = 10 * time.Second
	}
	st := gobreaker.Settings{
		Name:     "mqtt-publish",
		Interval: 60 * time.Second,
		Timeout:  openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("mqtt: breaker %s %s -> %s", name, from, to)
		},
	}
	return &BreakerPublisher{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *BreakerPublisher) Publish(topic string, qos byte, payload []byte) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Publish(topic, qos, payload)
	})
	return err
}

// State exposes the breaker state for health reporting.
func (b *BreakerPublisher) State() gobreaker.State { return b.cb.State() }
