package state

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ServiceStatus
		want     bool
	}{
		{"", StatusStarting, true},
		{StatusStopped, StatusStopped, true},
		{StatusStopped, StatusRunning, false},
		{StatusStarting, StatusRunning, true},
		{StatusStarting, StatusFailed, true},
		{StatusRunning, StatusUnhealthy, true},
		{StatusRunning, StatusStarting, false},
		{StatusUnhealthy, StatusRunning, true},
		{StatusStopping, StatusStopped, true},
		{StatusStopping, StatusRunning, false},
		{StatusFailed, StatusStarting, true},
		{StatusFailed, StatusRunning, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransition(t *testing.T) {
	t0 := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	r := RuntimeState{}
	r, err := r.Transition(StatusStarting, "", t0)
	require.NoError(t, err)
	r.PID = 42
	assert.Equal(t, t0, r.LastTransition)

	r, err = r.Transition(StatusFailed, "timeout", t1)
	require.NoError(t, err)
	assert.Equal(t, "failed(timeout)", r.Label())
	assert.Equal(t, 42, r.PID)

	r, err = r.Transition(StatusStopped, "ignored", t1)
	require.NoError(t, err)
	assert.Empty(t, r.Reason)
	assert.Zero(t, r.PID)

	_, err = r.Transition(StatusRunning, "", t1)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestSameStatusKeepsTimestamp(t *testing.T) {
	t0 := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	r := RuntimeState{Status: StatusRunning, LastTransition: t0}

	next, err := r.Transition(StatusRunning, "", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, t0, next.LastTransition)
}

func TestStale(t *testing.T) {
	t0 := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	starting := RuntimeState{Status: StatusStarting, LastTransition: t0}
	running := RuntimeState{Status: StatusRunning, LastTransition: t0}

	assert.False(t, starting.Stale(t0.Add(time.Second), time.Minute))
	assert.True(t, starting.Stale(t0.Add(2*time.Minute), time.Minute))
	assert.False(t, running.Stale(t0.Add(time.Hour), time.Minute))
}
