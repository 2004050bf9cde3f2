package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCheckTimeFrom(t *testing.T) {
	// Wednesday
	now := time.Date(2024, 2, 7, 9, 15, 0, 0, time.UTC)

	tests := []struct {
		name    string
		day     string
		clock   string
		want    time.Time
		wantErr bool
	}{
		{name: "defaults to now", want: time.Date(2024, 2, 7, 9, 15, 0, 0, time.UTC)},
		{name: "time only", clock: "18:30", want: time.Date(2024, 2, 7, 18, 30, 0, 0, time.UTC)},
		{name: "later this week", day: "saturday", want: time.Date(2024, 2, 10, 9, 15, 0, 0, time.UTC)},
		{name: "wraps to next week", day: "mon", clock: "07:00", want: time.Date(2024, 2, 12, 7, 0, 0, 0, time.UTC)},
		{name: "same day", day: "Wednesday", want: time.Date(2024, 2, 7, 9, 15, 0, 0, time.UTC)},
		{name: "bad day", day: "someday", wantErr: true},
		{name: "bad format", clock: "1830", wantErr: true},
		{name: "out of range", clock: "24:00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCheckTimeFrom(now, tt.day, tt.clock)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "45m", formatMinutes(45))
	assert.Equal(t, "2h 05m", formatMinutes(125))

	assert.Equal(t, "-", optionalMinutes(nil))
	v := 90
	assert.Equal(t, "90", optionalMinutes(&v))

	assert.Equal(t, "", redactPassword(""))
	assert.Equal(t, "***REDACTED***", redactPassword("hunter2"))
}

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  type: bolt
  path: /tmp/braintrap.db
engine:
  debounse: 2s
challenge:
  problems_required: 5
colour: blue
`), 0o600))

	unknown, err := findUnknownKeys(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"colour", "engine.debounse"}, unknown)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseDuration("2s", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("soon", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
}

func TestDrainBridge(t *testing.T) {
	done := make(chan error, 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		done <- nil
	}()
	assert.NoError(t, drainBridge(done, time.Second))

	assert.ErrorIs(t, drainBridge(make(chan error), 10*time.Millisecond), errBridgeDrain)
}
