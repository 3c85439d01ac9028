package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubscribeReplaysHistory(t *testing.T) {
	bus := New(zap.NewNop(), 3)
	bus.Publish(Event{Type: EventHarvestSubmitted})
	bus.Publish(Event{Type: EventHarvestConfirmed})

	_, ch, replay := bus.Subscribe()
	require.Len(t, replay, 2)
	require.Equal(t, EventHarvestSubmitted, replay[0].Type)
	require.Equal(t, EventHarvestConfirmed, replay[1].Type)

	bus.Publish(Event{Type: EventHarvestFailed})
	evt := <-ch
	require.Equal(t, EventHarvestFailed, evt.Type)
}

func TestRingBufferCapped(t *testing.T) {
	bus := New(zap.NewNop(), 2)
	bus.Publish(Event{Type: EventHarvestSubmitted})
	bus.Publish(Event{Type: EventHarvestConfirmed})
	bus.Publish(Event{Type: EventHarvestFailed})

	_, _, replay := bus.Subscribe()
	require.Len(t, replay, 2)
	require.Equal(t, EventHarvestConfirmed, replay[0].Type)
	require.Equal(t, EventHarvestFailed, replay[1].Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(zap.NewNop(), 10)
	id, ch, _ := bus.Subscribe()
	bus.Unsubscribe(id)
	_, ok := <-ch
	require.False(t, ok)
	require.Equal(t, 0, bus.SubscriberCount())
}
