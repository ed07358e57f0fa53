// Package paymentpoll waits for a checkout to leave PAYMENT_INITIATED,
// backing off between status reads.
package paymentpoll

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
)

const (
	DefaultInitial = 3 * time.Second
	DefaultFactor  = 1.5
	DefaultMax     = 30 * time.Second
)

// StatusFunc reads the current registration status for a session.
type StatusFunc func(ctx context.Context, sessionID string) (enums.RegistrationStatus, error)

type Options struct {
	Initial time.Duration
	Factor  float64
	Max     time.Duration
}

type Poller struct {
	status  StatusFunc
	initial time.Duration
	factor  float64
	max     time.Duration
}

func New(status StatusFunc, opts Options) (*Poller, error) {
	if status == nil {
		return nil, errors.New("status func required")
	}
	p := &Poller{status: status, initial: opts.Initial, factor: opts.Factor, max: opts.Max}
	if p.initial <= 0 {
		p.initial = DefaultInitial
	}
	if p.factor < 1 {
		p.factor = DefaultFactor
	}
	if p.max <= 0 {
		p.max = DefaultMax
	}
	return p, nil
}

// Wait polls until the status settles or ctx ends. On cancellation the last
// observed status is returned together with ctx's error.
func (p *Poller) Wait(ctx context.Context, sessionID string) (enums.RegistrationStatus, error) {
	var last enums.RegistrationStatus
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		status, err := p.status(ctx, sessionID)
		if err != nil {
			if pkgerrors.Retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		last = status
		if status == enums.RegistrationPaymentInitiated {
			return retry.RetryableError(errStillPending)
		}
		return nil
	})
	if errors.Is(err, errStillPending) && ctx.Err() != nil {
		return last, ctx.Err()
	}
	return last, err
}

var errStillPending = errors.New("payment still pending")

// backoff grows geometrically by factor and is capped at max. Attempts are
// unbounded; ctx bounds the wait.
func (p *Poller) backoff() retry.Backoff {
	next := p.initial
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		current := next
		next = time.Duration(float64(next) * p.factor)
		return current, false
	})
	return retry.WithCappedDuration(p.max, b)
}
