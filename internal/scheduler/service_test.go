package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instapulse/instapulse/internal/config"
)

func testService(startHour, hour, minute int) *Service {
	return &Service{
		config:   &config.Config{StartHour: startHour, TimeZone: "UTC"},
		location: time.UTC,
		now: func() time.Time {
			return time.Date(2026, 8, 29, hour, minute, 0, 0, time.UTC)
		},
		state: StateIdle,
	}
}

func TestSkipForHours(t *testing.T) {
	tests := []struct {
		name      string
		startHour int
		hour      int
		minute    int
		want      bool
	}{
		{"one minute before start hour", 8, 7, 59, true},
		{"exactly at start hour", 8, 8, 0, false},
		{"well after start hour", 8, 15, 30, false},
		{"midnight with gate", 8, 0, 0, true},
		{"gate disabled", -1, 3, 0, false},
		{"zero start hour never skips", 0, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testService(tt.startHour, tt.hour, tt.minute)
			assert.Equal(t, tt.want, s.skipForHours())
		})
	}
}

func TestRunCycleSkippedBeforeStartHour(t *testing.T) {
	// No monitor is wired: the gate must return before any fetch work.
	s := testService(8, 6, 0)

	s.runCycle()

	assert.Equal(t, StateSkippedForHours, s.State())
}

func TestSkipForHoursRespectsTimezone(t *testing.T) {
	location, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	s := &Service{
		config:   &config.Config{StartHour: 8, TimeZone: "Europe/Berlin"},
		location: location,
		// 06:30 UTC is 08:30 in Berlin during DST
		now: func() time.Time {
			return time.Date(2026, 8, 29, 6, 30, 0, 0, time.UTC)
		},
	}

	assert.False(t, s.skipForHours())
}

func TestStartRejectsInvalidTimezone(t *testing.T) {
	s := NewService(&config.Config{TimeZone: "Not/AZone", MonitorInterval: time.Hour}, nil, nil, nil)

	err := s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timezone")
}

func TestStopWithoutStart(t *testing.T) {
	s := NewService(&config.Config{TimeZone: "UTC", MonitorInterval: time.Hour}, nil, nil, nil)

	s.Stop()

	assert.Equal(t, StateStopped, s.State())
}
