package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/tulip/pkg/models"
)

// IntakeActor is recorded as the creator of candidates imported from Kafka without an actor header.
const IntakeActor = "kafka-intake"

// ErrPoisonMessage marks a message that can never be processed; the consumer commits past it.
var ErrPoisonMessage = errors.New("poison message")

// Importer is the batch import operation the intake handler drives.
type Importer interface {
	ImportBatch(ctx context.Context, rows []models.CandidateInput, skipDuplicates bool, actorID string) (*models.ImportResult, error)
}

// NewIntakeHandler imports each intake message as a batch. Duplicates are skipped unless the
// message asks otherwise; row-level failures are reported in the log and do not block the partition.
func NewIntakeHandler(importer Importer, logger ectologger.Logger) MessageHandler {
	return func(ctx context.Context, msg *IncomingMessage) error {
		intake, err := msg.ParseIntake()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPoisonMessage, err)
		}

		skip := true
		if intake.SkipDuplicates != nil {
			skip = *intake.SkipDuplicates
		}
		actor := intake.ActorID
		if actor == "" {
			actor = IntakeActor
		}

		result, err := importer.ImportBatch(ctx, intake.Rows, skip, actor)
		if err != nil {
			return err
		}

		log := logger.WithContext(ctx).WithFields(map[string]any{
			"key":        msg.Key,
			"offset":     msg.Offset,
			"total":      result.Total,
			"imported":   result.Imported,
			"duplicates": len(result.Duplicates),
			"errors":     len(result.Errors),
		})
		if len(result.Errors) > 0 {
			log.WithField("row_errors", result.Errors).Warn("Intake batch imported with row errors")
		} else {
			log.Info("Intake batch imported")
		}
		return nil
	}
}
