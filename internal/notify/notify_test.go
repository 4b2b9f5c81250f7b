package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendReceive(t *testing.T) {
	ch := NewChannel[int](2)
	assert.True(t, ch.Send(1))
	assert.True(t, ch.Send(2))

	assert.Equal(t, 1, <-ch.Receive())
	assert.Equal(t, 2, <-ch.Receive())
}

func TestSend_DropsWhenFull(t *testing.T) {
	ch := NewChannel[int](1)
	require.True(t, ch.Send(1))
	assert.False(t, ch.Send(2), "second send should be dropped, not block")

	assert.Equal(t, 1, <-ch.Receive())
}

func TestClose_StopsFurtherReceive(t *testing.T) {
	ch := NewChannel[string](1)
	ch.Send("hello")
	ch.Close()

	v, ok := <-ch.Receive()
	assert.True(t, ok)
	assert.Equal(t, "hello", v)

	_, ok = <-ch.Receive()
	assert.False(t, ok, "channel should report closed once drained")
}
