package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"support-bot/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Bus_Delivers_To_Every_Subscriber(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelA()
	defer cancelB()

	e := events.New(events.TicketCreated, "T-0001", time.Now())
	require.NoError(t, bus.Publish(context.Background(), e))

	assert.Equal(t, e.ID, (<-a).ID)
	assert.Equal(t, e.ID, (<-b).ID)
}

func Test_Bus_Drops_Events_For_Full_Subscriber(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	for range 3 {
		require.NoError(t, bus.Publish(context.Background(), events.New(events.TicketClaimed, "T-1", time.Now())))
	}
	assert.Len(t, ch, 1)
}

func Test_Bus_Cancel_Closes_Channel_Once(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, bus.Subscribers())
}

type failing struct{ err error }

func (f failing) Publish(context.Context, events.Event) error { return f.err }

func Test_Multi_Returns_First_Error_And_Still_Publishes(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	boom := errors.New("boom")
	m := events.Multi{failing{boom}, nil, bus}

	err := m.Publish(context.Background(), events.New(events.TicketClosed, "T-2", time.Now()))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, ch, 1)
}
