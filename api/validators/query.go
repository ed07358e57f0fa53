package validators

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
)

// ParseQuerySeconds reads a whole number of seconds from the query string.
// A missing key yields zero.
func ParseQuerySeconds(r *http.Request, key string, max time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidQuery(key, "query parameter must be a whole number of seconds").WithDetails(map[string]any{"field": key})
	}
	value := time.Duration(seconds) * time.Second
	if seconds < 0 || value > max {
		return 0, invalidQuery(key, "query parameter out of range").WithDetails(map[string]any{
			"field": key,
			"min":   0,
			"max":   int(max / time.Second),
		})
	}
	return value, nil
}

func invalidQuery(key, msg string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithReason("invalid_" + key)
}
