package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timeout")
	}
	panic("bug: unreachable")
}

func TestBroker(t *testing.T) {
	b := NewBroker[int]()
	require.ErrorIs(t, b.Publish(1), ErrNoSubscribers)

	a := b.Subscribe("a", 1)
	c := b.Subscribe("c", 1)
	require.NoError(t, b.Publish(2))
	require.Equal(t, 2, receive(t, a))
	require.Equal(t, 2, receive(t, c))

	b.Unsubscribe("c")
	_, ok := <-c
	require.False(t, ok)
	b.Unsubscribe("unknown")

	require.NoError(t, b.Publish(3))
	require.Equal(t, 3, receive(t, a))

	b.Close()
	_, ok = <-a
	require.False(t, ok)
	require.ErrorIs(t, b.Publish(4), ErrNoSubscribers)

	_, ok = <-b.Subscribe("late", 1)
	require.False(t, ok)
}

func TestBrokerSubscribeReplaces(t *testing.T) {
	b := NewBroker[string]()
	old := b.Subscribe("events", 1)
	replacement := b.Subscribe("events", 1)
	_, ok := <-old
	require.False(t, ok)

	require.NoError(t, b.Publish("alarm"))
	require.Equal(t, "alarm", receive(t, replacement))
	b.Close()
}
