package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var (
	fileNameRe  = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	nonSlugRune = regexp.MustCompile(`[^a-z0-9]+`)
)

const skeleton = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- undo %[1]s
-- +goose StatementEnd
`

// CreateSQLMigration writes an empty migration named after now and label
// into dir and returns its path. Existing files are never overwritten.
func CreateSQLMigration(dir, label string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := slugify(label)
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", label)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, now.UTC().Format(versionLayout)+"_"+slug+".sql")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return "", fmt.Errorf("migration already exists: %s", path)
	}
	if err != nil {
		return "", err
	}
	if _, err := fmt.Fprintf(f, skeleton, slug); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}

func slugify(label string) string {
	return strings.Trim(nonSlugRune.ReplaceAllString(strings.ToLower(label), "_"), "_")
}
