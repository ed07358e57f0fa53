// Package dbtest opens isolated in-memory SQLite databases carrying the
// service schema, for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
)

var schema = []string{
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		stripe_account_id TEXT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE cars (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE events (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		price_cents INTEGER NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'pln',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		registered_drivers INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE registrations (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		car_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		stripe_session_id TEXT NULL UNIQUE,
		payment_intent_id TEXT NULL,
		amount_paid_cents INTEGER NULL,
		attended BOOLEAN NOT NULL DEFAULT 0,
		attended_at DATETIME NULL,
		deleted_at DATETIME NULL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE registration_codes (
		id TEXT PRIMARY KEY,
		registration_id TEXT NOT NULL,
		code INTEGER NOT NULL,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_registration_codes_code ON registration_codes (code)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME,
		published_at DATETIME NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NULL
	)`,
	`CREATE TABLE ledger_events (
		id TEXT PRIMARY KEY,
		registration_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL,
		external_ref TEXT NULL,
		metadata BLOB NULL,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_ledger_events_external_ref ON ledger_events (registration_id, type, external_ref)`,
}

// Open returns a fresh database with the schema applied. The pool is pinned
// to a single connection so concurrent callers serialize instead of hitting
// SQLITE_LOCKED on the shared cache.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}

// Fixture bundles the rows most tests need: an organiser with a connected
// account, a driver with a car, and one event.
type Fixture struct {
	Organizer models.User
	Driver    models.User
	Car       models.Car
	Event     models.Event
}

// EventOption tweaks the seeded event.
type EventOption func(*models.Event)

func WithPaymentType(p enums.PaymentType) EventOption {
	return func(e *models.Event) { e.PaymentType = p }
}

func WithPrice(cents int64) EventOption {
	return func(e *models.Event) { e.PriceCents = cents }
}

func WithStart(start time.Time, duration time.Duration) EventOption {
	return func(e *models.Event) {
		e.StartDate = start.UTC()
		e.EndDate = start.UTC().Add(duration)
	}
}

// Seed inserts a Fixture. The event defaults to ONLINE, 200.00 PLN, starting
// in a week and lasting eight hours.
func Seed(t *testing.T, conn *gorm.DB, opts ...EventOption) Fixture {
	t.Helper()

	acct := "acct_organizer"
	f := Fixture{
		Organizer: models.User{Email: "organizer@pitlane.test", StripeAccountID: &acct},
		Driver:    models.User{Email: "driver@pitlane.test"},
	}
	mustCreate(t, conn, &f.Organizer)
	mustCreate(t, conn, &f.Driver)

	f.Car = models.Car{UserID: f.Driver.ID, Make: "Mazda", Model: "MX-5"}
	mustCreate(t, conn, &f.Car)

	start := time.Now().UTC().Add(7 * 24 * time.Hour).Truncate(time.Second)
	f.Event = models.Event{
		Name:        "Autumn Track Day",
		PaymentType: enums.PaymentTypeOnline,
		PriceCents:  20000,
		Currency:    "pln",
		Status:      enums.EventStatusActive,
		StartDate:   start,
		EndDate:     start.Add(8 * time.Hour),
		CreatedBy:   f.Organizer.ID,
	}
	for _, opt := range opts {
		opt(&f.Event)
	}
	mustCreate(t, conn, &f.Event)
	return f
}

// AddRegistration inserts a registration for the fixture driver.
func (f Fixture) AddRegistration(t *testing.T, conn *gorm.DB, status enums.RegistrationStatus, mutate ...func(*models.Registration)) models.Registration {
	t.Helper()
	reg := models.Registration{
		EventID:     f.Event.ID,
		UserID:      f.Driver.ID,
		CarID:       f.Car.ID,
		Status:      status,
		PaymentType: f.Event.PaymentType,
	}
	for _, m := range mutate {
		m(&reg)
	}
	mustCreate(t, conn, &reg)
	return reg
}

// Reload reads the registration back from the database.
func Reload(t *testing.T, conn *gorm.DB, id uuid.UUID) models.Registration {
	t.Helper()
	var reg models.Registration
	if err := conn.Where("id = ?", id).Take(&reg).Error; err != nil {
		t.Fatalf("reload registration %s: %v", id, err)
	}
	return reg
}

// RegisteredDrivers reads the event counter.
func RegisteredDrivers(t *testing.T, conn *gorm.DB, eventID uuid.UUID) int {
	t.Helper()
	var ev models.Event
	if err := conn.Where("id = ?", eventID).Take(&ev).Error; err != nil {
		t.Fatalf("reload event %s: %v", eventID, err)
	}
	return ev.RegisteredDrivers
}

func mustCreate(t *testing.T, conn *gorm.DB, value any) {
	t.Helper()
	if err := conn.Create(value).Error; err != nil {
		t.Fatalf("seed %T: %v", value, err)
	}
}
