package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThread_CanTransition(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusIdle, StatusActive, true},
		{StatusIdle, StatusCompleted, false},
		{StatusIdle, StatusError, false},
		{StatusIdle, StatusArchived, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusError, true},
		{StatusActive, StatusArchived, true},
		{StatusActive, StatusIdle, false},
		{StatusCompleted, StatusActive, false},
		{StatusCompleted, StatusArchived, true},
		{StatusError, StatusArchived, true},
		{StatusError, StatusActive, false},
		{StatusArchived, StatusActive, false},
		{StatusArchived, StatusCompleted, false},
		{StatusArchived, StatusArchived, true},
		{StatusActive, StatusActive, true},
	}

	for _, tc := range cases {
		th := &Thread{Status: tc.from}
		assert.Equal(t, tc.allowed, th.CanTransition(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestThread_Mutable(t *testing.T) {
	for _, status := range []Status{StatusIdle, StatusActive, StatusCompleted, StatusError} {
		th := &Thread{Status: status}
		assert.True(t, th.Mutable(), "status %s", status)
	}
	archived := &Thread{Status: StatusArchived}
	assert.False(t, archived.Mutable())
}

func TestThread_Clone(t *testing.T) {
	original := &Thread{ID: "thread-1", Status: StatusActive, CheckpointCount: 3}
	clone := original.Clone()
	assert.Equal(t, original, clone)

	clone.CheckpointCount = 99
	assert.Equal(t, 3, original.CheckpointCount)

	var nilThread *Thread
	assert.Nil(t, nilThread.Clone())
}
