package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/pitlane-hq/pitlane-backend/internal/registrations"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
	"github.com/pitlane-hq/pitlane-backend/pkg/metrics"
)

const defaultStallAfter = 24 * time.Hour

type RefundStallReportJobParams struct {
	Logger        *logger.Logger
	Registrations registrations.Repository
	Metrics       *metrics.RegistrationMetrics
	StallAfter    time.Duration
}

// NewRefundStallReportJob surfaces refunds whose charge.refunded webhook has
// not arrived. Those rows need manual reconciliation.
func NewRefundStallReportJob(params RefundStallReportJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Registrations == nil {
		return nil, fmt.Errorf("registration repository required")
	}
	stallAfter := params.StallAfter
	if stallAfter <= 0 {
		stallAfter = defaultStallAfter
	}
	return &refundStallReportJob{
		logg:       params.Logger,
		regs:       params.Registrations,
		metrics:    params.Metrics,
		stallAfter: stallAfter,
		now:        time.Now,
	}, nil
}

type refundStallReportJob struct {
	logg       *logger.Logger
	regs       registrations.Repository
	metrics    *metrics.RegistrationMetrics
	stallAfter time.Duration
	now        func() time.Time
}

func (j *refundStallReportJob) Name() string { return "refund-stall-report" }

func (j *refundStallReportJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.stallAfter)
	stalled, err := j.regs.ListStale(ctx, enums.RegistrationRefundInitiated, cutoff, 0)
	if err != nil {
		return fmt.Errorf("list stalled refunds: %w", err)
	}
	j.metrics.SetStalledRefunds(len(stalled))

	for _, reg := range stalled {
		regCtx := j.logg.WithFields(ctx, map[string]any{
			"registration_id": reg.ID.String(),
			"event_id":        reg.EventID.String(),
			"stalled_since":   reg.UpdatedAt,
		})
		j.logg.Warn(regCtx, "refund awaiting settlement")
	}
	j.logg.Info(j.logg.WithField(ctx, "stalled", len(stalled)), "refund stall report complete")
	return nil
}
