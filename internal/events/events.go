// Package events sends best-effort notifications about published media.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// TypeMediaPublished is the event type sent after a media field is updated.
const TypeMediaPublished = "media.published"

var tracer = otel.Tracer("catalog-events")

// MediaPublished announces that a movie's media field now points at url.
type MediaPublished struct {
	Type        string    `json:"type"`
	MovieID     int64     `json:"movieId"`
	Field       string    `json:"field"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, ev MediaPublished) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, MediaPublished) error { return nil }

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier sends events as JSON messages to one queue.
type SQSNotifier struct {
	client   sqsAPI
	queueURL string
	log      *slog.Logger
}

// NewSQSNotifier creates a notifier for queueURL.
func NewSQSNotifier(client *sqs.Client, queueURL string, log *slog.Logger) *SQSNotifier {
	return newSQSNotifier(client, queueURL, log)
}

func newSQSNotifier(client sqsAPI, queueURL string, log *slog.Logger) *SQSNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &SQSNotifier{client: client, queueURL: queueURL, log: log}
}

func (n *SQSNotifier) Notify(ctx context.Context, ev MediaPublished) error {
	ctx, span := tracer.Start(ctx, "notify-media-published")
	defer span.End()

	if ev.Type == "" {
		ev.Type = TypeMediaPublished
	}
	if ev.PublishedAt.IsZero() {
		ev.PublishedAt = time.Now().UTC()
	}
	span.SetAttributes(
		attribute.Int64("movie.id", ev.MovieID),
		attribute.String("media.field", ev.Field),
	)

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	out, err := n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String(ev.Type)},
			"movieId":   {DataType: aws.String("Number"), StringValue: aws.String(strconv.FormatInt(ev.MovieID, 10))},
		},
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to send event: %w", err)
	}

	n.log.DebugContext(ctx, "Media event sent",
		"movieId", ev.MovieID,
		"field", ev.Field,
		"messageId", aws.ToString(out.MessageId),
	)
	return nil
}
