package mediasoup

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEmitterOnAndEmit(t *testing.T) {
	e := NewEventEmitter()

	var got string
	e.On("greet", func(name string) { got = name })

	require.NoError(t, e.Emit("greet", "alice"))
	assert.Equal(t, "alice", got)
}

func TestEventEmitterOnceFiresOnlyOnce(t *testing.T) {
	e := NewEventEmitter()

	calls := 0
	e.Once("tick", func() { calls++ })

	e.SafeEmit("tick")
	e.SafeEmit("tick")

	assert.Equal(t, 1, calls)
}

func TestEventEmitterMultipleListenersInOrder(t *testing.T) {
	e := NewEventEmitter()

	var order []int
	e.On("x", func() { order = append(order, 1) })
	e.On("x", func() { order = append(order, 2) })

	e.SafeEmit("x")
	assert.Equal(t, []int{1, 2}, order)
}

func TestEventEmitterOffRemovesListener(t *testing.T) {
	e := NewEventEmitter()

	calls := 0
	fn := func() { calls++ }
	e.On("x", fn)
	e.Off("x", fn)

	e.SafeEmit("x")
	assert.Equal(t, 0, calls)
}

func TestEventEmitterOffNilRemovesAllListenersForEvent(t *testing.T) {
	e := NewEventEmitter()
	e.On("x", func() {})
	e.On("x", func() {})
	e.Off("x", nil)
	assert.Equal(t, 0, e.ListenerCount("x"))
}

func TestEventEmitterEmitPropagatesListenerError(t *testing.T) {
	e := NewEventEmitter()
	boom := errors.New("boom")
	e.On("x", func() error { return boom })

	err := e.Emit("x")
	assert.ErrorIs(t, err, boom)
}

func TestEventEmitterSafeEmitSwallowsPanic(t *testing.T) {
	e := NewEventEmitter()
	e.On("x", func() { panic("nope") })

	assert.NotPanics(t, func() {
		handled := e.SafeEmit("x")
		assert.True(t, handled)
	})
}

func TestEventEmitterSafeEmitReportsWhetherAnyoneListened(t *testing.T) {
	e := NewEventEmitter()
	assert.False(t, e.SafeEmit("nobody-listens"))

	e.On("x", func() {})
	assert.True(t, e.SafeEmit("x"))
}

func TestEventEmitterAdaptsArgsToListenerArity(t *testing.T) {
	e := NewEventEmitter()

	var gotEvent string
	var gotData []byte
	e.On("notify", func(event string, data []byte) {
		gotEvent = event
		gotData = data
	})

	// Extra arg beyond the listener's declared arity is dropped; missing
	// trailing args are zero-valued.
	require.NoError(t, e.Emit("notify", "ping", []byte("hi"), "ignored"))
	assert.Equal(t, "ping", gotEvent)
	assert.Equal(t, []byte("hi"), gotData)

	gotEvent, gotData = "", nil
	require.NoError(t, e.Emit("notify", "solo"))
	assert.Equal(t, "solo", gotEvent)
	assert.Nil(t, gotData)
}
