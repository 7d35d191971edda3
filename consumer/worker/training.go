package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tnqbao/gau-finetune-orchestrator/entity"
	"github.com/tnqbao/gau-finetune-orchestrator/infra"
	"github.com/tnqbao/gau-finetune-orchestrator/infra/produce"
	"github.com/tnqbao/gau-finetune-orchestrator/repository"
	"github.com/tnqbao/gau-finetune-orchestrator/trainer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
)

type TrainingConsumer struct {
	channel    *amqp.Channel
	infra      *infra.Infra
	repository *repository.Repository
	pipeline   *trainer.Pipeline
	tracer     trace.Tracer
	processed  metric.Int64Counter
	duration   metric.Float64Histogram
}

func NewTrainingConsumer(channel *amqp.Channel, infra *infra.Infra, repo *repository.Repository, pipeline *trainer.Pipeline) *TrainingConsumer {
	meter := otel.Meter("github.com/tnqbao/gau-finetune-orchestrator/consumer/worker")

	processed, err := meter.Int64Counter("training.jobs.processed",
		metric.WithDescription("Number of training jobs finished, by terminal state"))
	if err != nil {
		panic("Failed to create processed counter: " + err.Error())
	}

	duration, err := meter.Float64Histogram("training.job.duration.seconds",
		metric.WithDescription("Wall-clock duration of one training job attempt"))
	if err != nil {
		panic("Failed to create duration histogram: " + err.Error())
	}

	return &TrainingConsumer{
		channel:    channel,
		infra:      infra,
		repository: repo,
		pipeline:   pipeline,
		tracer:     otel.Tracer("github.com/tnqbao/gau-finetune-orchestrator/consumer/worker"),
		processed:  processed,
		duration:   duration,
	}
}

func (c *TrainingConsumer) Start(ctx context.Context) error {
	// One unacked item per worker: the next delivery waits until the current
	// job is acknowledged
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set channel prefetch: %w", err)
	}

	msgs, err := c.channel.Consume(
		produce.TrainingQueue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register training consumer: %w", err)
	}

	c.infra.Logger.InfoWithContextf(ctx, "[Training Consumer] Started listening for training jobs on queue: %s", produce.TrainingQueue)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.infra.Logger.InfoWithContextf(ctx, "[Training Consumer] Shutting down...")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.infra.Logger.WarningWithContextf(ctx, "[Training Consumer] Channel closed")
					return
				}
				c.handleTraining(ctx, msg)
			}
		}
	}()

	return nil
}

// handleTraining runs one delivery through the pipeline and settles it with
// the broker. The acknowledgment happens strictly after the terminal state is
// published, so a crash in between redelivers the item instead of losing it.
func (c *TrainingConsumer) handleTraining(ctx context.Context, msg amqp.Delivery) {
	c.infra.Logger.InfoWithContextf(ctx, "[Training Consumer] Received message")

	var item entity.WorkItem
	if err := json.Unmarshal(msg.Body, &item); err != nil {
		c.infra.Logger.ErrorWithContextf(ctx, err, "[Training Consumer] Failed to unmarshal message")
		_ = msg.Nack(false, false)
		return
	}

	jobID, err := uuid.Parse(item.JobID)
	if err != nil {
		c.infra.Logger.ErrorWithContextf(ctx, err, "[Training Consumer] Invalid job ID %q", item.JobID)
		_ = msg.Nack(false, false)
		return
	}

	ctx, span := c.tracer.Start(ctx, "training.job", trace.WithAttributes(
		attribute.String("job.id", item.JobID),
		attribute.Bool("messaging.redelivered", msg.Redelivered),
	))
	defer span.End()

	// A redelivered item re-runs from scratch: the previous attempt's
	// snapshot, whatever it says, no longer describes this execution
	if msg.Redelivered {
		if err := c.repository.State.ResetAttempt(ctx, item.JobID); err != nil {
			c.infra.Logger.WarningWithContextf(ctx, "[Training Consumer] Failed to reset snapshot for redelivered job %s: %v", item.JobID, err)
		}
	}

	startedAt := time.Now()
	outcome := c.pipeline.Run(ctx, item)
	elapsed := time.Since(startedAt).Seconds()

	if outcome.Aborted {
		c.infra.Logger.WarningWithContextf(ctx, "[Training Consumer] Job %s aborted by shutdown, requeueing", item.JobID)
		_ = msg.Nack(false, true)
		return
	}

	if err := c.publishTerminal(ctx, item.JobID, outcome); err != nil {
		c.infra.Logger.ErrorWithContextf(ctx, err, "[Training Consumer] Failed to publish terminal state for job %s, requeueing", item.JobID)
		span.RecordError(err)
		_ = msg.Nack(false, true)
		return
	}

	c.archiveTerminal(ctx, jobID, outcome)

	if err := c.repository.State.Deactivate(ctx, item.JobID); err != nil {
		c.infra.Logger.WarningWithContextf(ctx, "[Training Consumer] Failed to release activation for job %s: %v", item.JobID, err)
	}

	_ = msg.Ack(false)

	span.SetAttributes(attribute.String("job.state", string(outcome.Terminal)))
	c.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(outcome.Terminal))))
	c.duration.Record(ctx, elapsed, metric.WithAttributes(attribute.String("state", string(outcome.Terminal))))

	c.infra.Logger.InfoWithContextf(ctx, "[Training Consumer] Job %s finished as %s in %.2fs", item.JobID, outcome.Terminal, elapsed)
}

// publishTerminal writes the terminal snapshot, retrying before giving the
// item back to the broker. A transition rejected as invalid means the
// snapshot is already terminal (a cancel that landed first), which is fine.
func (c *TrainingConsumer) publishTerminal(ctx context.Context, jobID string, outcome trainer.Outcome) error {
	maxRetries := 3
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		switch outcome.Terminal {
		case entity.JobStateSucceeded:
			err = c.repository.State.SetSucceeded(ctx, jobID, outcome.Result)
		case entity.JobStateFailed:
			err = c.repository.State.SetFailed(ctx, jobID, outcome.Error)
		case entity.JobStateRevoked:
			err = c.repository.State.SetRevoked(ctx, jobID)
		default:
			return fmt.Errorf("unexpected terminal state %q", outcome.Terminal)
		}

		if err == nil {
			return nil
		}
		if errors.Is(err, entity.ErrInvalidTransition) {
			c.infra.Logger.InfoWithContextf(ctx, "[Training Consumer] Job %s already terminal: %v", jobID, err)
			return nil
		}

		c.infra.Logger.ErrorWithContextf(ctx, err, "[Training Consumer] Attempt %d/%d to publish terminal state failed: %v", attempt, maxRetries, err)

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	return err
}

// archiveTerminal mirrors the outcome into the durable archive. A failed
// archive write is logged and the job settles anyway; the row keeps its
// last recorded state.
func (c *TrainingConsumer) archiveTerminal(ctx context.Context, jobID uuid.UUID, outcome trainer.Outcome) {
	var (
		resultJSON datatypes.JSON
		message    string
	)

	switch outcome.Terminal {
	case entity.JobStateSucceeded:
		message = "Training completed successfully"
		if data, err := json.Marshal(outcome.Result); err == nil {
			resultJSON = data
		}
	case entity.JobStateFailed:
		if outcome.Error != nil {
			message = outcome.Error.Message
		}
	case entity.JobStateRevoked:
		message = "Job revoked"
	}

	finishedAt := time.Now().UTC().Format(time.RFC3339)
	if err := c.repository.Job.MarkTerminal(jobID, string(outcome.Terminal), resultJSON, message, finishedAt); err != nil {
		c.infra.Logger.ErrorWithContextf(ctx, err, "[Training Consumer] Failed to archive terminal state for job %s", jobID)
	}
}
