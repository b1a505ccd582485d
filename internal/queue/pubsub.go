package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

const ackDeadline = 20 * time.Second

// PubSubQueue publishes and consumes extraction jobs over one Google Pub/Sub
// topic and subscription pair.
type PubSubQueue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *logrus.Logger
}

// NewPubSubQueue connects to Pub/Sub and provisions the topic and
// subscription when they do not exist yet. Credentials come from
// credentialsJSON when set, otherwise from application default credentials.
func NewPubSubQueue(ctx context.Context, projectID, topicName, subName, credentialsJSON string, logger *logrus.Logger) (*PubSubQueue, error) {
	if projectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if topicName == "" || subName == "" {
		return nil, errors.New("pubsub topic and subscription names are required")
	}

	var client *pubsub.Client
	var err error
	if strings.TrimSpace(credentialsJSON) != "" {
		client, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credentialsJSON)))
	} else {
		client, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	topic, err := ensureTopic(ctx, client, topicName)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	sub, err := ensureSubscription(ctx, client, subName, topic)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	return &PubSubQueue{client: client, topic: topic, sub: sub, logger: logger}, nil
}

func ensureTopic(ctx context.Context, client *pubsub.Client, name string) (*pubsub.Topic, error) {
	topic := client.Topic(name)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check topic %q: %w", name, err)
	}
	if ok {
		return topic, nil
	}
	topic, err = client.CreateTopic(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create topic %q: %w", name, err)
	}
	return topic, nil
}

func ensureSubscription(ctx context.Context, client *pubsub.Client, name string, topic *pubsub.Topic) (*pubsub.Subscription, error) {
	sub := client.Subscription(name)
	ok, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check subscription %q: %w", name, err)
	}
	if ok {
		return sub, nil
	}
	sub, err = client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: ackDeadline,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription %q: %w", name, err)
	}
	return sub, nil
}

// Publish blocks until the broker acknowledges the message.
func (q *PubSubQueue) Publish(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	result := q.topic.Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish job for upload %s: %w", job.UploadID, err)
	}

	q.logger.WithFields(logrus.Fields{
		"upload_id":  job.UploadID,
		"message_id": id,
	}).Debug("extraction job published")
	return nil
}

// Receive delivers jobs to handler until ctx is cancelled. Handler failure
// nacks the message so the broker redelivers it. A message that cannot be
// decoded is acked and dropped; redelivery cannot fix it.
func (q *PubSubQueue) Receive(ctx context.Context, handler Handler) error {
	return q.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			q.logger.WithError(err).Warn("dropping undecodable queue message")
			msg.Ack()
			return
		}

		if err := handler(ctx, job); err != nil {
			q.logger.WithError(err).WithField("upload_id", job.UploadID).Warn("job handling failed, message nacked")
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close stops the publisher and releases the client.
func (q *PubSubQueue) Close() error {
	q.topic.Stop()
	return q.client.Close()
}

var (
	_ Publisher = (*PubSubQueue)(nil)
	_ Consumer  = (*PubSubQueue)(nil)
)
