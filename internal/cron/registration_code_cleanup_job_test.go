package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitlane-hq/pitlane-backend/internal/checkin"
	"github.com/pitlane-hq/pitlane-backend/internal/events"
	"github.com/pitlane-hq/pitlane-backend/internal/registrations"
	"github.com/pitlane-hq/pitlane-backend/pkg/db"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/dbtest"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
)

func TestRegistrationCodeCleanupJob(t *testing.T) {
	conn := dbtest.Open(t)
	f := dbtest.Seed(t, conn)
	reg := f.AddRegistration(t, conn, enums.RegistrationPaid)
	now := time.Now().UTC().Truncate(time.Second)
	for code, expiresAt := range map[int]time.Time{
		111111: now.Add(-48 * time.Hour),
		222222: now.Add(-time.Hour),
		333333: now.Add(time.Minute),
	} {
		require.NoError(t, conn.Create(&models.RegistrationCode{
			RegistrationID: reg.ID,
			Code:           code,
			CreatedAt:      expiresAt.Add(-3 * time.Minute),
			ExpiresAt:      expiresAt,
		}).Error)
	}

	svc, err := checkin.NewService(checkin.ServiceParams{
		DB:            db.Wrap(conn),
		Codes:         checkin.NewRepository(conn),
		Registrations: registrations.NewRepository(conn),
		Events:        events.NewRepository(conn),
	})
	require.NoError(t, err)
	job, err := NewRegistrationCodeCleanupJob(RegistrationCodeCleanupJobParams{Logger: logger.Nop(), Codes: svc})
	require.NoError(t, err)
	job.(*registrationCodeCleanupJob).now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))

	var codes []int
	require.NoError(t, conn.Model(&models.RegistrationCode{}).Order("code").Pluck("code", &codes).Error)
	assert.Equal(t, []int{222222, 333333}, codes)
}
