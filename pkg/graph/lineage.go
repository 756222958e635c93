package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/tulip/pkg/audit"
	"github.com/Ramsey-B/tulip/pkg/tracing"
)

const mergedIntoCypher = `
	MERGE (p:Candidate {id: $primary_id})
	MERGE (d:Candidate {id: $duplicate_id})
	SET d.retired = true
	MERGE (d)-[r:MERGED_INTO]->(p)
	SET r.actor_id = $actor_id, r.merged_at = $merged_at, r.records_updated = $records_updated
`

const lineageCypher = `
	MATCH (d:Candidate)-[:MERGED_INTO*1..]->(p:Candidate {id: $id})
	RETURN d.id AS id
	ORDER BY id
`

// transactor is the slice of Client the lineage store uses.
type transactor interface {
	ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error)
	ExecuteRead(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error)
}

// LineageSink is an audit.Sink that turns merge events into MERGED_INTO edges
// from the retired duplicate to the surviving candidate.
type LineageSink struct {
	client transactor
	logger ectologger.Logger
}

func NewLineageSink(client *Client, logger ectologger.Logger) *LineageSink {
	return &LineageSink{client: client, logger: logger}
}

// Record ignores every action other than a merge.
func (s *LineageSink) Record(ctx context.Context, event audit.Event) error {
	if event.Action != audit.ActionCandidateMerged {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "graph.LineageSink.Record")
	defer span.End()

	params, err := mergeParams(event)
	if err != nil {
		return err
	}

	_, err = s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, mergedIntoCypher, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		tracing.RecordError(span, err)
		s.logger.WithContext(ctx).WithError(err).WithFields(params).Error("Failed to record merge lineage")
		return err
	}
	return nil
}

// MergedInto returns the ids of every candidate merged directly or transitively into id.
func (s *LineageSink) MergedInto(ctx context.Context, id int64) ([]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.LineageSink.MergedInto")
	defer span.End()

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, lineageCypher, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0)
		for result.Next(ctx) {
			value, _ := result.Record().Get("id")
			if n, ok := value.(int64); ok {
				ids = append(ids, n)
			}
		}
		return ids, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return res.([]int64), nil
}

func mergeParams(event audit.Event) (map[string]any, error) {
	duplicateID, ok := event.Properties["duplicate_id"].(int64)
	if !ok {
		return nil, fmt.Errorf("merge event for candidate %d has no duplicate_id", event.SubjectID)
	}
	params := map[string]any{
		"primary_id":      event.SubjectID,
		"duplicate_id":    duplicateID,
		"actor_id":        event.ActorID,
		"merged_at":       event.OccurredAt.UTC().Format(time.RFC3339),
		"records_updated": int64(0),
	}
	if n, ok := event.Properties["records_updated"].(int64); ok {
		params["records_updated"] = n
	}
	return params, nil
}
