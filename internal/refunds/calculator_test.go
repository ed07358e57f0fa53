package refunds

import (
	"testing"
	"time"
)

func TestCalculateRefundAmountTiers(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		until    time.Duration
		original int64
		want     int64
	}{
		{"100 hours before", 100 * time.Hour, 10000, 10000},
		{"48 hours before", 48 * time.Hour, 10000, 5000},
		{"10 hours before", 10 * time.Hour, 10000, 0},
		{"exactly 72 hours", 72 * time.Hour, 10000, 5000},
		{"just over 72 hours", 72*time.Hour + time.Second, 10000, 10000},
		{"exactly 24 hours", 24 * time.Hour, 10000, 0},
		{"after start", -time.Hour, 10000, 0},
		{"odd amount rounds half up", 30 * time.Hour, 10001, 5001},
		{"thirty hours on 200 PLN", 30 * time.Hour, 20000, 10000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateRefundAmount(now.Add(tc.until), tc.original, now)
			if got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRefundPercent(t *testing.T) {
	now := time.Now()
	if got := RefundPercent(now.Add(73*time.Hour), now); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if got := RefundPercent(now.Add(25*time.Hour), now); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
	if got := RefundPercent(now.Add(time.Hour), now); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
