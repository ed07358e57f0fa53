package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/pkg/db/dbtest"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
)

func TestEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	aggregateID := uuid.New()
	actor := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventRegistrationCreated,
			AggregateType: enums.AggregateRegistration,
			AggregateID:   aggregateID,
			Actor:         &ActorRef{UserID: actor},
			Data:          map[string]string{"status": "ACTIVE"},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, aggregateID, rows[0].AggregateID)

	env, err := DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, actor, env.Actor.UserID)
	assert.JSONEq(t, `{"status":"ACTIVE"}`, string(env.Data))
}

func TestDecodeEnvelopeRejectsUndeliverablePayloads(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"version":2,"data":{}}`))
	assert.ErrorIs(t, err, ErrEnvelopeVersion)

	_, err = DecodeEnvelope([]byte(`{"version":1,"data":null}`))
	assert.ErrorIs(t, err, ErrEnvelopeEmpty)

	_, err = DecodeEnvelope([]byte(`{"version":1}`))
	assert.ErrorIs(t, err, ErrEnvelopeEmpty)

	_, err = DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	_ = conn.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventRegistrationPaid,
			AggregateType: enums.AggregateRegistration,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		}))
		return errors.New("abort")
	})

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitRejectsUnknownTypesAndMissingTx(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))

	conn := dbtest.Open(t)
	err := svc.Emit(context.Background(), conn, DomainEvent{EventType: "nope", AggregateType: enums.AggregateEvent})
	require.Error(t, err)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	first := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventRegistrationPaid, AggregateType: enums.AggregateRegistration, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	second := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventRegistrationRefunded, AggregateType: enums.AggregateRegistration, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	require.NoError(t, repo.Insert(conn, first, second))

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, repo.MarkPublishedTx(conn, first.ID))
	require.NoError(t, repo.MarkTerminalTx(conn, second.ID, errors.New("bad payload"), 3))

	rows, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, rows)

	deleted, err := repo.DeletePublishedBefore(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}

func TestEmitWritesBatchAtomically(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	valid := DomainEvent{
		EventType:     enums.EventRegistrationRefundInitiated,
		AggregateType: enums.AggregateRegistration,
		AggregateID:   uuid.New(),
		Data:          map[string]int{"amount_cents": 1500},
	}

	err := svc.Emit(context.Background(), conn, valid, DomainEvent{EventType: "bogus", AggregateType: enums.AggregateRegistration})
	require.Error(t, err)
	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count, "nothing is written when one event is invalid")

	second := valid
	second.AggregateID = uuid.New()
	require.NoError(t, svc.Emit(context.Background(), conn, valid, second))
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}
