package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pitlane-hq/pitlane-backend/pkg/config"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	fsys, err := Source{}.FS()
	if err != nil {
		t.Fatalf("embedded fs: %v", err)
	}
	if err := ValidateFS(fsys); err != nil {
		t.Fatalf("validate embedded migrations: %v", err)
	}
	embeddedNames, _ := fs.Glob(fsys, "*.sql")
	diskNames, _ := fs.Glob(os.DirFS("migrations"), "*.sql")
	if strings.Join(embeddedNames, ",") != strings.Join(diskNames, ",") {
		t.Fatalf("embedded %v, on disk %v", embeddedNames, diskNames)
	}
}

func TestValidateRejectsBrokenMigrations(t *testing.T) {
	cases := map[string]string{
		"bad name":       "001_init.sql",
		"down before up": "20260901000000_swapped.sql",
		"missing down":   "20260901000001_up_only.sql",
	}
	bodies := map[string]string{
		"001_init.sql":               "-- +goose Up\n-- +goose Down\n",
		"20260901000000_swapped.sql": "-- +goose Down\n-- +goose Up\n",
		"20260901000001_up_only.sql": "-- +goose Up\nSELECT 1;\n",
	}
	for name, file := range cases {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, file), []byte(bodies[file]), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := ValidateDir(dir); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := ParseVersion("20260901090300"); err != nil || v != 20260901090300 {
		t.Fatalf("got %d, %v", v, err)
	}
	for _, raw := range []string{"", "2026", "2026090109030x", "202609010903001"} {
		if _, err := ParseVersion(raw); err == nil {
			t.Errorf("%q: expected error", raw)
		}
	}
}

func TestRegistrationMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_registrations.sql"))
	if err != nil || len(matches) == 0 {
		t.Fatalf("registration migration not found: %v", err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	for _, sub := range []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_registration_codes_code ON registration_codes (code)",
		"CHECK (code BETWEEN 100000 AND 999999)",
		"attended boolean NOT NULL DEFAULT false",
		"ux_registrations_stripe_session_id",
		"DROP TABLE IF EXISTS registrations",
	} {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	path, err := CreateSQLMigration(dir, "Add Refund Notes!", now)
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if filepath.Base(path) != "20260901100000_add_refund_notes.sql" {
		t.Fatalf("unexpected file name %s", filepath.Base(path))
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
	if _, err := CreateSQLMigration(dir, "add refund notes", now); err == nil {
		t.Fatal("expected duplicate migration to fail")
	}
}

func TestAutoRunOnlyInDevWithFlag(t *testing.T) {
	cases := []struct {
		env  string
		flag bool
		want bool
	}{
		{config.AppEnvDev, true, true},
		{config.AppEnvDev, false, false},
		{"prod", true, false},
	}
	for _, tc := range cases {
		cfg := &config.Config{
			App:          config.AppConfig{Env: tc.env},
			FeatureFlags: config.FeatureFlagsConfig{AutoMigrate: tc.flag},
		}
		if got := autoRunEnabled(cfg); got != tc.want {
			t.Errorf("env=%s flag=%v: got %v want %v", tc.env, tc.flag, got, tc.want)
		}
	}
	if autoRunEnabled(nil) {
		t.Error("nil config must not auto-run")
	}
}
