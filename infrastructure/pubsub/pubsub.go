package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"cloud.google.com/go/pubsub"
	log "github.com/sirupsen/logrus"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

// NewPubSub connects to Google Cloud Pub/Sub. Credentials come from the
// ambient environment (ADC).
func NewPubSub(ctx context.Context, projectID string) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// OutcomeNotifier publishes post lifecycle events to a Pub/Sub topic. A nil
// client disables publishing, mirroring how optional integrations degrade
// elsewhere.
type OutcomeNotifier struct {
	client    *pubsub.Client
	topicName string

	mu    sync.Mutex
	topic *pubsub.Topic
}

func NewOutcomeNotifier(client *pubsub.Client, topicName string) repository.IOutcomeNotifier {
	return &OutcomeNotifier{client: client, topicName: topicName}
}

func (n *OutcomeNotifier) Publish(ctx context.Context, event model.PostEvent) error {
	if n.client == nil {
		logger.GetLogger().Debug("PubSub client not configured. Outcome event dropped.")
		return nil
	}

	topic, err := n.ensureTopic(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	serverID, err := topic.Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
	if err != nil {
		return err
	}

	logger.GetLogger().WithFields(log.Fields{
		"serverID": serverID,
		"post":     event.PostID,
		"status":   event.Status,
	}).Info("Outcome event published")
	return nil
}

// ensureTopic resolves the topic once, creating it when absent.
func (n *OutcomeNotifier) ensureTopic(ctx context.Context) (*pubsub.Topic, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.topic != nil {
		return n.topic, nil
	}

	topic := n.client.Topic(n.topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		logger.GetLogger().WithField("topic", n.topicName).Info("Topic doesn't exist - creating it")
		topic, err = n.client.CreateTopic(ctx, n.topicName)
		if err != nil {
			return nil, err
		}
	}
	n.topic = topic
	return topic, nil
}
