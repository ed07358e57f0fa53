package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/pkg/config"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
	"github.com/pitlane-hq/pitlane-backend/pkg/outbox/registry"
	"github.com/pitlane-hq/pitlane-backend/pkg/pubsub"
)

const (
	publishTimeout = 15 * time.Second
	maxBackoff     = 10 * time.Second
	jitterWindow   = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

// broker is the Pub/Sub surface the relay needs; pkg/pubsub.Client
// implements it.
type broker interface {
	Ping(context.Context) error
	Publish(ctx context.Context, topic string, msg *gcppubsub.Message) (string, error)
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Outbox     config.OutboxConfig
	Logger     *logger.Logger
	DB         dbClient
	Broker     broker
	Repository outboxRepository
	Registry   registryResolver
}

// Service relays outbox_events rows to Pub/Sub in commit order. A row is
// retried until MaxAttempts; rows that can never be delivered are parked at
// the ceiling with their last error.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	broker       broker
	repo         outboxRepository
	registry     registryResolver
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Broker == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	cfg := params.Outbox
	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		broker:       params.Broker,
		repo:         params.Repository,
		registry:     params.Registry,
		batchSize:    orDefault(cfg.BatchSize, 50),
		maxAttempts:  orDefault(cfg.MaxAttempts, 10),
		pollInterval: time.Duration(orDefault(cfg.PollIntervalMS, 500)) * time.Millisecond,
	}, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// outcome is what happened to one row in a batch.
type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeParked
)

type batchStats struct {
	published, retried, parked int
}

func (b *batchStats) add(o outcome) {
	switch o {
	case outcomePublished:
		b.published++
	case outcomeRetry:
		b.retried++
	case outcomeParked:
		b.parked++
	}
}

func (b batchStats) total() int { return b.published + b.retried + b.parked }

// Run polls until ctx is cancelled. An empty batch waits one poll interval;
// a batch whose bookkeeping fails backs off exponentially up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.broker.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	backoff := s.newBackoff()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		stats, err := s.processBatch(ctx)
		wait := time.Duration(0)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			wait, _ = backoff.Next()
		case stats.total() == 0:
			backoff = s.newBackoff()
			wait = s.pollInterval
		default:
			backoff = s.newBackoff()
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) newBackoff() retry.Backoff {
	b := retry.NewExponential(s.pollInterval)
	b = retry.WithJitter(jitterWindow, b)
	return retry.WithCappedDuration(maxBackoff, b)
}

// processBatch delivers one locked batch. Rows stay locked until the
// transaction ends so concurrent relays never publish the same row twice.
func (s *Service) processBatch(ctx context.Context) (batchStats, error) {
	var stats batchStats
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		stats = batchStats{}
		rows, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		for _, row := range rows {
			o, err := s.deliver(ctx, tx, row)
			if err != nil {
				return err
			}
			stats.add(o)
		}
		return nil
	})
	if err == nil && stats.total() > 0 {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"published": stats.published,
			"retried":   stats.retried,
			"parked":    stats.parked,
		}), "outbox batch relayed")
	}
	return stats, err
}

// deliver publishes one row and records the result on it. The returned
// error is reserved for bookkeeping failures.
func (s *Service) deliver(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (outcome, error) {
	ctx = s.logg.WithFields(ctx, rowFields(row))

	resolved, err := s.registry.Resolve(row)
	if err != nil {
		return s.park(ctx, tx, row, "undecodable", err)
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"topic": resolved.Descriptor.Topic, "event_id": resolved.Envelope.EventID})

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	messageID, pubErr := s.broker.Publish(publishCtx, resolved.Descriptor.Topic, message(row, resolved))
	cancel()

	switch {
	case pubErr == nil:
		if err := s.repo.MarkPublishedTx(tx, row.ID); err != nil {
			return 0, fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		s.logg.Info(s.logg.WithField(ctx, "message_id", messageID), "outbox event published")
		return outcomePublished, nil
	case permanent(pubErr):
		return s.park(ctx, tx, row, "unroutable", pubErr)
	case row.AttemptCount+1 >= s.maxAttempts:
		return s.park(ctx, tx, row, "max_attempts", fmt.Errorf("giving up after %d attempts: %w", row.AttemptCount+1, pubErr))
	}

	s.logg.Warn(s.logg.WithField(ctx, "error", pubErr.Error()), "outbox publish failed, will retry")
	if err := s.repo.MarkFailedTx(tx, row.ID, pubErr); err != nil {
		return 0, fmt.Errorf("mark failed %s: %w", row.ID, err)
	}
	return outcomeRetry, nil
}

func (s *Service) park(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason string, cause error) (outcome, error) {
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"terminal_reason": reason,
		"error":           cause.Error(),
	}), "outbox event parked")
	if err := s.repo.MarkTerminalTx(tx, row.ID, cause, s.maxAttempts); err != nil {
		return 0, fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	return outcomeParked, nil
}

// permanent reports publish errors that no retry can fix.
func permanent(err error) bool {
	return errors.Is(err, pubsub.ErrNoTopic) || status.Code(err) == codes.InvalidArgument
}

// message carries the stored envelope as-is; attributes let subscribers
// filter without decoding the body.
func message(row models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data: row.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   row.AggregateID.String(),
			"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

func rowFields(row models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	}
	if row.LastError != nil {
		fields["last_error"] = *row.LastError
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
