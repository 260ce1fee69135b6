package model

import (
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"18:00", 1080, false},
		{"23:59", 1439, false},
		{"07:30", 450, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"1200", 0, true},
		{"ab:cd", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseClock(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestClockOn(t *testing.T) {
	day := time.Date(2025, 3, 10, 15, 42, 7, 0, time.UTC)
	got := ClockOn(day, 1080)
	want := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ClockOn = %v, want %v", got, want)
	}
}
