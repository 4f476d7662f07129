package taskmanager

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

func TestStatusFormat(t *testing.T) {
	tests := []struct {
		state types.TaskState
		want  string
	}{
		{types.TaskStateStarted, `{"state":"STARTED"}`},
		{types.TaskStateCancelled, `{"state":"CANCELLED"}`},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			s := Status{State: tt.state}
			assert.Equal(t, tt.want, s.String())

			data, err := json.Marshal(s)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestRegisterAndUnregister(t *testing.T) {
	m := NewManager()
	parent := types.PersistentTaskID{ID: 7, AllocationID: 3}

	task := m.Register("test", parent)
	assert.Equal(t, int64(1), task.ID())
	assert.Equal(t, parent, task.Parent())
	assert.Equal(t, "test", task.Action())
	assert.Equal(t, `{"state":"STARTED"}`, task.Status().String())
	assert.Equal(t, 1, m.Len())

	second := m.Register("test", types.PersistentTaskID{ID: 8, AllocationID: 4})
	assert.Equal(t, int64(2), second.ID())

	m.Unregister(task)
	_, ok := m.Get(task.ID())
	assert.False(t, ok)
	assert.Error(t, task.Context().Err(), "unregister releases the task context")
	assert.Equal(t, 1, m.Len())
}

func TestMarkCancelled(t *testing.T) {
	m := NewManager()
	task := m.Register("test", types.PersistentTaskID{ID: 1, AllocationID: 1})

	require.NoError(t, m.MarkCancelled(task.ID()))
	status, err := m.Status(task.ID())
	require.NoError(t, err)
	assert.Equal(t, `{"state":"CANCELLED"}`, status.String())
	assert.NoError(t, task.Context().Err(), "marking does not interrupt the action")
	assert.False(t, task.MarkCancelled(), "second mark is a no-op")
}

func TestCancelSignalsContext(t *testing.T) {
	m := NewManager()
	task := m.Register("test", types.PersistentTaskID{ID: 1, AllocationID: 1})

	require.NoError(t, m.Cancel(task.ID(), "reassigned"))

	<-task.Context().Done()
	assert.True(t, errors.Is(context.Cause(task.Context()), ErrTaskCancelled))
	assert.True(t, task.IsCancelled())

	_, ok := m.Get(task.ID())
	assert.True(t, ok, "cancelled tasks stay registered until unregistered")
}

func TestUnknownTask(t *testing.T) {
	m := NewManager()

	_, err := m.Status(99)
	assert.True(t, errors.Is(err, ErrTaskNotFound))
	assert.True(t, errors.Is(m.MarkCancelled(99), ErrTaskNotFound))
	assert.True(t, errors.Is(m.Cancel(99, "x"), ErrTaskNotFound))
}

func TestInfos(t *testing.T) {
	m := NewManager()
	m.Register("a", types.PersistentTaskID{ID: 1, AllocationID: 1})
	b := m.Register("b", types.PersistentTaskID{ID: 2, AllocationID: 5})
	b.MarkCancelled()

	infos := m.Infos()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Action)
	assert.Equal(t, types.TaskStateStarted, infos[0].State)
	assert.Equal(t, int64(2), infos[1].PersistentID)
	assert.Equal(t, int64(5), infos[1].AllocationID)
	assert.Equal(t, types.TaskStateCancelled, infos[1].State)
}
