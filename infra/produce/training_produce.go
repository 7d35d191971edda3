package produce

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tnqbao/gau-finetune-orchestrator/entity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	TrainingQueue      = "training.jobs"
	TrainingExchange   = "training.exchange"
	TrainingRoutingKey = "training.jobs"

	maxPublishAttempts = 3
)

// TrainingEnqueuer is the publishing contract consumed by the HTTP layer.
// TrainingProduceService satisfies it against a live broker channel.
type TrainingEnqueuer interface {
	PublishTrainingJob(ctx context.Context, item entity.WorkItem) error
}

// TrainingProduceService publishes training work items to the job queue
type TrainingProduceService struct {
	channel  *amqp.Channel
	enqueued metric.Int64Counter
}

// InitTrainingProduceService declares the training topology and returns a publisher
func InitTrainingProduceService(channel *amqp.Channel) *TrainingProduceService {
	service := &TrainingProduceService{
		channel: channel,
	}

	// Declare exchange
	err := channel.ExchangeDeclare(
		TrainingExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		panic("Failed to declare Training exchange: " + err.Error())
	}

	// Declare queue
	_, err = channel.QueueDeclare(
		TrainingQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		panic("Failed to declare Training queue: " + err.Error())
	}

	// Bind queue to exchange
	err = channel.QueueBind(
		TrainingQueue,
		TrainingRoutingKey,
		TrainingExchange,
		false,
		nil,
	)
	if err != nil {
		panic("Failed to bind Training queue: " + err.Error())
	}

	meter := otel.Meter("github.com/tnqbao/gau-finetune-orchestrator/infra/produce")
	enqueued, err := meter.Int64Counter("training.jobs.enqueued",
		metric.WithDescription("Number of training jobs published to the broker"))
	if err != nil {
		panic("Failed to create enqueued counter: " + err.Error())
	}
	service.enqueued = enqueued

	return service
}

// PublishTrainingJob publishes a work item as a persistent message. Delivery
// is retried a few times before the caller sees ErrBrokerDelivery.
func (s *TrainingProduceService) PublishTrainingJob(ctx context.Context, item entity.WorkItem) error {
	item.Timestamp = time.Now().Unix()

	body, err := json.Marshal(item)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= maxPublishAttempts; attempt++ {
		lastErr = s.channel.PublishWithContext(
			ctx,
			TrainingExchange,
			TrainingRoutingKey,
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
			},
		)
		if lastErr == nil {
			s.enqueued.Add(ctx, 1)
			return nil
		}

		if attempt < maxPublishAttempts {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
	}

	return fmt.Errorf("%w: %v", entity.ErrBrokerDelivery, lastErr)
}
