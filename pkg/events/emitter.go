// Package events publishes audit events to Kafka.
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/tulip/pkg/audit"
	"github.com/Ramsey-B/tulip/pkg/kafka"
	"github.com/Ramsey-B/tulip/pkg/tracing"
)

// Publisher is the producer operation the emitter needs.
type Publisher interface {
	PublishAuditEvent(ctx context.Context, event *kafka.AuditEvent) error
}

// Emitter is an audit.Sink that forwards events to the audit topic.
type Emitter struct {
	producer Publisher
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

func (e *Emitter) Record(ctx context.Context, event audit.Event) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.Record")
	defer span.End()

	err := e.producer.PublishAuditEvent(ctx, &kafka.AuditEvent{
		EventType:  event.Action,
		ActorID:    event.ActorID,
		SubjectID:  event.SubjectID,
		Properties: event.Properties,
		Timestamp:  event.OccurredAt,
	})
	if err != nil {
		tracing.RecordError(span, err)
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", event.Action)
		return err
	}
	return nil
}
