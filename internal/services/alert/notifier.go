package alert

import (
	"context"
	"encoding/json"

	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
	"github.com/BuXianWanYin/fish-dish-iot/pkg/broker"
)

// AlertQoS is the delivery level of alert notifications.
const AlertQoS byte = 1

// TopicNotifier publishes alerts as JSON on a fixed topic.
type TopicNotifier struct {
	pub   broker.IPublisher
	topic string
}

func NewTopicNotifier(pub broker.IPublisher, topic string) *TopicNotifier {
	return &TopicNotifier{pub: pub, topic: topic}
}

func (n *TopicNotifier) NotifyAlert(_ context.Context, m model.AlertMessage) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return n.pub.Publish(n.topic, AlertQoS, b)
}
