package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
)

const defaultCodeRetention = 24 * time.Hour

type codePurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type RegistrationCodeCleanupJobParams struct {
	Logger    *logger.Logger
	Codes     codePurger
	Retention time.Duration
}

// NewRegistrationCodeCleanupJob frees the six-digit code space by dropping
// codes that expired more than Retention ago.
func NewRegistrationCodeCleanupJob(params RegistrationCodeCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Codes == nil {
		return nil, fmt.Errorf("code purger required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultCodeRetention
	}
	return &registrationCodeCleanupJob{
		logg:      params.Logger,
		codes:     params.Codes,
		retention: retention,
		now:       time.Now,
	}, nil
}

type registrationCodeCleanupJob struct {
	logg      *logger.Logger
	codes     codePurger
	retention time.Duration
	now       func() time.Time
}

func (j *registrationCodeCleanupJob) Name() string { return "registration-code-cleanup" }

func (j *registrationCodeCleanupJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.codes.PurgeExpired(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge registration codes: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "registration code cleanup complete")
	return nil
}
