package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/internal/cars"
	"github.com/pitlane-hq/pitlane-backend/internal/events"
	"github.com/pitlane-hq/pitlane-backend/internal/ledger"
	"github.com/pitlane-hq/pitlane-backend/internal/payments/gatewaytest"
	"github.com/pitlane-hq/pitlane-backend/internal/registrations"
	"github.com/pitlane-hq/pitlane-backend/pkg/config"
	"github.com/pitlane-hq/pitlane-backend/pkg/db"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
	"github.com/pitlane-hq/pitlane-backend/pkg/outbox"
)

func newTestService(t *testing.T, conn *gorm.DB, gw Gateway) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		DB:            db.Wrap(conn),
		Registrations: registrations.NewRepository(conn),
		Events:        events.NewRepository(conn),
		Cars:          cars.NewRepository(conn),
		Gateway:       gw,
		Outbox:        outbox.NewService(outbox.NewRepository(conn), nil),
		Stripe: config.StripeConfig{
			SuccessURL: "https://pitlane.test/success",
			CancelURL:  "https://pitlane.test/cancel",
			SessionTTL: 30 * time.Minute,
		},
	})
	require.NoError(t, err)
	return svc
}

func newTestReconciler(t *testing.T, conn *gorm.DB) *Reconciler {
	t.Helper()
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	rec, err := NewReconciler(ReconcilerParams{
		DB:            db.Wrap(conn),
		Registrations: registrations.NewRepository(conn),
		Events:        events.NewRepository(conn),
		Ledger:        ledgerSvc,
		Outbox:        outbox.NewService(outbox.NewRepository(conn), nil),
	})
	require.NoError(t, err)
	return rec
}

func ledgerTypes(t *testing.T, conn *gorm.DB) []enums.LedgerEventType {
	t.Helper()
	var rows []models.LedgerEvent
	require.NoError(t, conn.Order("created_at ASC").Find(&rows).Error)
	out := make([]enums.LedgerEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Type)
	}
	return out
}

var _ Gateway = (*gatewaytest.Gateway)(nil)
