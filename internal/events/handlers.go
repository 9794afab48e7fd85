package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/parlae/pms-gateway/pkg/logging"
)

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSHandler forwards outbox entries to an SQS queue.
type SQSHandler struct {
	client   sqsSender
	queueURL string
}

type envelope struct {
	ID            string          `json:"id"`
	IntegrationID string          `json:"integration_id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     string          `json:"created_at"`
}

// NewSQSHandler creates a handler publishing to queueURL.
func NewSQSHandler(client *sqs.Client, queueURL string) *SQSHandler {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	return newSQSHandler(client, queueURL)
}

func newSQSHandler(client sqsSender, queueURL string) *SQSHandler {
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSHandler{client: client, queueURL: queueURL}
}

func (h *SQSHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	body, err := json.Marshal(envelope{
		ID:            entry.ID.String(),
		IntegrationID: entry.IntegrationID,
		Type:          entry.Type,
		Payload:       entry.Payload,
		CreatedAt:     entry.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	_, err = h.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(h.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type": {DataType: aws.String("String"), StringValue: aws.String(entry.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: failed to send SQS message: %w", err)
	}
	return nil
}

// LogHandler writes entries to the log. Used when no queue is configured.
type LogHandler struct {
	logger *logging.Logger
}

func NewLogHandler(logger *logging.Logger) *LogHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	h.logger.Info("pms event",
		"event_id", entry.ID,
		"integration_id", entry.IntegrationID,
		"type", entry.Type,
		"payload", string(entry.Payload),
	)
	return nil
}
