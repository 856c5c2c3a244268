package events

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/adslot/errs"
)

func TestEmitDeliversInRegistrationOrder(t *testing.T) {
	bus := NewBus(nil)
	var got []string

	_, err := bus.On(Rendered, func(Event) { got = append(got, "first") })
	require.NoError(t, err)
	_, err = bus.On(Any, func(e Event) { got = append(got, "any:"+string(e.Name)) })
	require.NoError(t, err)
	_, err = bus.On(Rendered, func(Event) { got = append(got, "second") })
	require.NoError(t, err)

	bus.Emit(Event{Name: Rendered, SlotID: "s1"})
	bus.Emit(Event{Name: Click, SlotID: "s1"})

	require.Equal(t, []string{"first", "second", "any:rendered", "any:click"}, got)
}

func TestOffRemovesOnlyTargetHandler(t *testing.T) {
	bus := NewBus(nil)
	calls := 0
	id, err := bus.On(Start, func(Event) { calls += 10 })
	require.NoError(t, err)
	_, err = bus.On(Start, func(Event) { calls++ })
	require.NoError(t, err)

	bus.Off(Start, id)
	bus.Off(Start, 9999)
	bus.Emit(Event{Name: Start})

	require.Equal(t, 1, calls)
	require.Equal(t, 1, bus.Len(Start))
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(log.New(&buf, "", 0))
	reached := false

	_, err := bus.On(Error, func(Event) { panic("boom") })
	require.NoError(t, err)
	_, err = bus.On(Error, func(Event) { reached = true })
	require.NoError(t, err)

	require.NotPanics(t, func() { bus.Emit(Event{Name: Error, SlotID: "s9"}) })
	require.True(t, reached)
	require.Contains(t, buf.String(), "code=callback")
	require.Contains(t, buf.String(), "boom")
}

func TestOnValidatesArguments(t *testing.T) {
	bus := NewBus(nil)
	_, err := bus.On("", func(Event) {})
	require.True(t, errs.Is(err, errs.CodeInvalid))
	_, err = bus.On(Start, nil)
	require.True(t, errs.Is(err, errs.CodeInvalid))
}

func TestClearDropsHandlers(t *testing.T) {
	bus := NewBus(nil)
	called := false
	_, err := bus.On(Dismiss, func(Event) { called = true })
	require.NoError(t, err)
	bus.Clear()
	bus.Emit(Event{Name: Dismiss})
	require.False(t, called)
}
