package syncengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventBus_DispatchesOnlyToMatchingKind(t *testing.T) {
	b := newEventBus()
	var startCalls, completeCalls int
	b.On(EventStart, func(ev Event) { startCalls++ })
	b.On(EventComplete, func(ev Event) { completeCalls++ })

	require.NoError(t, b.Emit(StartEvent{SessionID: "s1"}))
	require.Equal(t, 1, startCalls)
	require.Equal(t, 0, completeCalls)
}

func TestEventBus_UnsubscribeRemovesListener(t *testing.T) {
	b := newEventBus()
	calls := 0
	unsub := b.On(EventCancel, func(ev Event) { calls++ })

	require.NoError(t, b.Emit(CancelEvent{SessionID: "s1"}))
	unsub()
	require.NoError(t, b.Emit(CancelEvent{SessionID: "s1"}))

	require.Equal(t, 1, calls)
}

func TestEventBus_PanicInOneListenerDoesNotStopOthers(t *testing.T) {
	b := newEventBus()
	secondRan := false
	b.On(EventError, func(ev Event) { panic("boom") })
	b.On(EventError, func(ev Event) { secondRan = true })

	err := b.Emit(ErrorEvent{SessionID: "s1"})
	require.Error(t, err)
	require.True(t, secondRan)
}
