package memstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-auth-client/store"
	"github.com/jrsteele09/go-auth-client/store/memstore"
)

func TestEntriesAreSharedBetweenTabs(t *testing.T) {
	origin := memstore.NewOrigin()
	tabA := origin.Tab()
	tabB := origin.Tab()

	tabA.Set(store.KeyAccessToken, "token-1")

	value, ok := tabB.Get(store.KeyAccessToken)
	require.True(t, ok)
	require.Equal(t, "token-1", value)

	tabB.Remove(store.KeyAccessToken)
	_, ok = tabA.Get(store.KeyAccessToken)
	require.False(t, ok)
}

func TestWriterIsNotNotified(t *testing.T) {
	origin := memstore.NewOrigin()
	tabA := origin.Tab()
	tabB := origin.Tab()

	var aEvents, bEvents []store.Event
	cancelA := tabA.Subscribe(func(ev store.Event) { aEvents = append(aEvents, ev) })
	defer cancelA()
	cancelB := tabB.Subscribe(func(ev store.Event) { bEvents = append(bEvents, ev) })
	defer cancelB()

	tabA.Set(store.KeyAccessToken, "token-1")

	require.Empty(t, aEvents)
	require.Len(t, bEvents, 1)
	require.Equal(t, store.Event{Key: store.KeyAccessToken, Value: "token-1", Present: true}, bEvents[0])
}

func TestRemoveGroupEmitsOneEventPerRemovedKey(t *testing.T) {
	origin := memstore.NewOrigin()
	tabA := origin.Tab()
	tabB := origin.Tab()

	tabA.Set(store.KeyAccessToken, "token-1")
	tabA.Set(store.KeyRefreshToken, "refresh-1")
	// KeyUser deliberately absent: no event expected for it.

	var events []store.Event
	cancel := tabB.Subscribe(func(ev store.Event) { events = append(events, ev) })
	defer cancel()

	tabA.RemoveGroup(store.SessionKeys()...)

	require.Len(t, events, 2)
	for _, ev := range events {
		require.False(t, ev.Present)
	}
}

func TestRemoveOfAbsentKeyEmitsNothing(t *testing.T) {
	origin := memstore.NewOrigin()
	tabA := origin.Tab()
	tabB := origin.Tab()

	var events []store.Event
	cancel := tabB.Subscribe(func(ev store.Event) { events = append(events, ev) })
	defer cancel()

	tabA.Remove(store.KeyUser)
	require.Empty(t, events)
}

func TestCancelledSubscriptionStopsDelivery(t *testing.T) {
	origin := memstore.NewOrigin()
	tabA := origin.Tab()
	tabB := origin.Tab()

	var events []store.Event
	cancel := tabB.Subscribe(func(ev store.Event) { events = append(events, ev) })
	cancel()

	tabA.Set(store.KeyAccessToken, "token-1")
	require.Empty(t, events)
}

func TestClosedTabStopsDelivery(t *testing.T) {
	origin := memstore.NewOrigin()
	tabA := origin.Tab()
	tabB := origin.Tab()

	var events []store.Event
	tabB.Subscribe(func(ev store.Event) { events = append(events, ev) })
	require.NoError(t, tabB.Close())

	tabA.Set(store.KeyAccessToken, "token-1")
	require.Empty(t, events)
}
