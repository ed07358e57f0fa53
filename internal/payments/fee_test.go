package payments

import "testing"

func TestCalculatePlatformFeeAmount(t *testing.T) {
	cases := []struct {
		price int64
		want  int64
	}{
		{10000, 700},
		{20000, 1200},
		{0, 200},
		{1010, 251},
		{1030, 252},
		{99, 205},
	}
	for _, tc := range cases {
		if got := CalculatePlatformFeeAmount(tc.price); got != tc.want {
			t.Fatalf("fee(%d) = %d, want %d", tc.price, got, tc.want)
		}
	}
}
