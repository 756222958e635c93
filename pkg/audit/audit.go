// Package audit records who did what to which candidate.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
)

const (
	ActionCandidateMerged = "candidate.merged"
	ActionBatchImported   = "candidate.batch_imported"
)

type Event struct {
	Action     string         `json:"action"`
	ActorID    string         `json:"actor_id"`
	SubjectID  int64          `json:"subject_id"`
	Properties map[string]any `json:"properties,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Sink receives audit events. Callers treat a failing sink as non-fatal.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger ectologger.Logger
}

func NewLogSink(logger ectologger.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, event Event) error {
	fields := map[string]any{
		"action":      event.Action,
		"actor_id":    event.ActorID,
		"subject_id":  event.SubjectID,
		"occurred_at": event.OccurredAt,
	}
	for k, v := range event.Properties {
		fields[k] = v
	}
	s.logger.WithContext(ctx).WithFields(fields).Info("audit")
	return nil
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(context.Context, Event) error { return nil }
