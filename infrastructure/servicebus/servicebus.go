package servicebus

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	log "github.com/sirupsen/logrus"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

// NewServiceBus connects to an Azure Service Bus namespace with the default
// credential chain.
func NewServiceBus(_ context.Context, namespace string) (*azservicebus.Client, error) {
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, err
	}
	client, err := azservicebus.NewClient(namespace, credential, nil)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// OutcomeNotifier publishes post lifecycle events onto a Service Bus queue.
// A nil client disables publishing.
type OutcomeNotifier struct {
	client *azservicebus.Client
	queue  string
}

func NewOutcomeNotifier(client *azservicebus.Client, queue string) repository.IOutcomeNotifier {
	return &OutcomeNotifier{client: client, queue: queue}
}

func (n *OutcomeNotifier) Publish(ctx context.Context, event model.PostEvent) error {
	if n.client == nil {
		logger.GetLogger().Debug("Service Bus client not configured. Outcome event dropped.")
		return nil
	}

	sender, err := n.client.NewSender(n.queue, nil)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while making new sender service bus.")
		return err
	}
	defer func(sender *azservicebus.Sender, ctx context.Context) {
		if err := sender.Close(ctx); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while closing sender.")
		}
	}(sender, ctx)

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	contentType := "application/json"
	err = sender.SendMessage(ctx, &azservicebus.Message{
		Body:        payload,
		ContentType: &contentType,
	}, nil)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while sending message.")
		return err
	}

	logger.GetLogger().WithFields(log.Fields{
		"post":   event.PostID,
		"status": event.Status,
	}).Info("Outcome event published")
	return nil
}
