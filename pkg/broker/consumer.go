package broker

import (
	"context"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one message received on topic.
type Handler func(topic string, message mqtt.Message) error

// Consumer subscribes a handler to a topic filter.
type Consumer struct {
	client  mqtt.Client
	topic   string
	qos     byte
	handler Handler
}

func NewConsumer(client mqtt.Client, topic string, qos byte, handler Handler) *Consumer {
	return &Consumer{client: client, topic: topic, qos: qos, handler: handler}
}

func (c *Consumer) SetHandler(h Handler) { c.handler = h }

// dispatch runs the handler, logging errors so a bad message never kills
// the paho callback goroutine.
func (c *Consumer) dispatch(_ mqtt.Client, m mqtt.Message) {
	if c.handler == nil {
		log.Printf("mqtt: no handler set for topic %s", c.topic)
		return
	}
	if err := c.handler(m.Topic(), m); err != nil {
		log.Printf("mqtt: error handling message on %s: %v", m.Topic(), err)
	}
}

// Consume subscribes and blocks until ctx is cancelled, then unsubscribes.
func (c *Consumer) Consume(ctx context.Context) error {
	token := c.client.Subscribe(c.topic, c.qos, c.dispatch)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, token.Error())
	}
	log.Printf("mqtt: subscribed to %s (qos=%d)", c.topic, c.qos)

	<-ctx.Done()

	if c.client.IsConnectionOpen() {
		c.client.Unsubscribe(c.topic).Wait()
	}
	return nil
}
