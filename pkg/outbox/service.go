package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
)

var errTxRequired = errors.New("outbox emit requires a transaction")

// DomainEvent is a state change to publish once its transaction commits.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	OccurredAt    time.Time
}

func (e DomainEvent) row() (models.OutboxEvent, string, error) {
	if !e.EventType.IsValid() {
		return models.OutboxEvent{}, "", fmt.Errorf("unknown outbox event type %q", e.EventType)
	}
	if !e.AggregateType.IsValid() {
		return models.OutboxEvent{}, "", fmt.Errorf("unknown aggregate type %q", e.AggregateType)
	}
	env, err := newEnvelope(e.Data, e.Actor, e.OccurredAt)
	if err != nil {
		return models.OutboxEvent{}, "", err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return models.OutboxEvent{}, "", err
	}
	return models.OutboxEvent{
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		Payload:       payload,
	}, env.EventID, nil
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit writes events to outbox_events through tx, so they become visible to
// the publisher exactly when the state change they describe commits. All
// events are validated before anything is written.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, events ...DomainEvent) error {
	if tx == nil {
		return errTxRequired
	}
	if len(events) == 0 {
		return nil
	}

	rows := make([]models.OutboxEvent, 0, len(events))
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		row, id, err := ev.row()
		if err != nil {
			return err
		}
		rows = append(rows, row)
		ids = append(ids, id)
	}
	if err := s.repo.Insert(tx, rows...); err != nil {
		return err
	}

	if s.logg != nil {
		for i, row := range rows {
			s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
				"outbox_event_id": ids[i],
				"event_type":      string(row.EventType),
				"aggregate_id":    row.AggregateID.String(),
			}), "outbox event queued")
		}
	}
	return nil
}
