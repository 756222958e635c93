package kafka

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/Ramsey-B/tulip/pkg/models"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string
}

// IntakeMessage is a batch of candidate rows published by an upstream intake system.
// A bare candidate object is accepted as a one-row batch.
type IntakeMessage struct {
	Rows           []models.CandidateInput `json:"rows"`
	SkipDuplicates *bool                   `json:"skip_duplicates,omitempty"`
	ActorID        string                  `json:"actor_id,omitempty"`
}

var ErrEmptyIntake = errors.New("intake message has no rows")

// ParseIntake decodes the message value as an IntakeMessage.
func (m *IncomingMessage) ParseIntake() (*IntakeMessage, error) {
	value := bytes.TrimSpace(m.Value)

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(value, &envelope); err != nil {
		return nil, err
	}

	var intake IntakeMessage
	if _, batched := envelope["rows"]; batched {
		if err := json.Unmarshal(value, &intake); err != nil {
			return nil, err
		}
	} else {
		var row models.CandidateInput
		if err := json.Unmarshal(value, &row); err != nil {
			return nil, err
		}
		intake.Rows = []models.CandidateInput{row}
	}

	if len(intake.Rows) == 0 {
		return nil, ErrEmptyIntake
	}
	if intake.ActorID == "" {
		intake.ActorID = m.Headers["actor_id"]
	}
	return &intake, nil
}
