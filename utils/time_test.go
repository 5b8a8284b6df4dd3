package utils

import "testing"

func TestFormatSRTTimestamp(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00,000"},
		{1.5, "00:00:01,500"},
		{61.25, "00:01:01,250"},
		{3661.999, "01:01:01,999"},
		{1.9996, "00:00:02,000"}, // millisecond rounding carries into seconds
		{59.9999, "00:01:00,000"},
	}
	for _, tt := range tests {
		if got := FormatSRTTimestamp(tt.seconds); got != tt.want {
			t.Errorf("FormatSRTTimestamp(%v) = %s, expected %s", tt.seconds, got, tt.want)
		}
	}
}
