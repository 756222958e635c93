package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []Event
	err    error
}

func (r *recordingSink) Record(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestMultiSink_FansOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	sink := MultiSink{a, nil, b}

	event := Event{Action: ActionCandidateMerged, ActorID: "op", SubjectID: 7, OccurredAt: time.Now()}
	require.NoError(t, sink.Record(context.Background(), event))
	assert.Equal(t, []Event{event}, a.events)
	assert.Equal(t, []Event{event}, b.events)
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	first := errors.New("kafka down")
	second := errors.New("graph down")
	ok := &recordingSink{}
	sink := MultiSink{&recordingSink{err: first}, ok, &recordingSink{err: second}}

	err := sink.Record(context.Background(), Event{Action: ActionBatchImported})
	require.Error(t, err)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.Len(t, ok.events, 1, "a failing sink does not stop the others")
}

func TestLogSink(t *testing.T) {
	sink := NewLogSink(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	assert.NoError(t, sink.Record(context.Background(), Event{Action: ActionCandidateMerged, Properties: map[string]any{"duplicate_id": 9}}))
	assert.NoError(t, Discard{}.Record(context.Background(), Event{}))
}
