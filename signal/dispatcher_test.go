package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	d := NewDispatcher()
	var got []string

	d.On(EventParticipantJoined, func(ev *Event) {
		got = append(got, "first")
	})
	d.On(EventParticipantJoined, func(ev *Event) {
		got = append(got, "second")
	})
	d.On(EventAll, func(ev *Event) {
		got = append(got, "wildcard")
	})

	d.Dispatch(&Event{Type: EventParticipantJoined})
	assert.Equal(t, []string{"first", "second", "wildcard"}, got)
}

func TestDispatcherWildcardSeesEveryType(t *testing.T) {
	d := NewDispatcher()
	count := 0
	d.On(EventAll, func(ev *Event) { count++ })

	d.Dispatch(&Event{Type: EventTrackPublished})
	d.Dispatch(&Event{Type: EventGoAway})
	assert.Equal(t, 2, count)
}

func TestDispatcherOff(t *testing.T) {
	d := NewDispatcher()
	count := 0
	off := d.On(EventParticipantLeft, func(ev *Event) { count++ })

	d.Dispatch(&Event{Type: EventParticipantLeft})
	off()
	d.Dispatch(&Event{Type: EventParticipantLeft})
	assert.Equal(t, 1, count)
}

func TestDispatcherPanicDoesNotStopDelivery(t *testing.T) {
	d := NewDispatcher()
	delivered := false

	d.On(EventError, func(ev *Event) { panic("boom") })
	d.On(EventError, func(ev *Event) { delivered = true })

	assert.NotPanics(t, func() {
		d.Dispatch(&Event{Type: EventError})
	})
	assert.True(t, delivered)
}

func TestDecodeEventSingleVariant(t *testing.T) {
	raw := []byte(`{
		"type": "participantJoined",
		"payload": {"participant": {"userId": "alice", "sessionId": "s1", "trackLookupPrefix": "p1"}}
	}`)

	ev, err := DecodeEvent(raw)
	require.NoError(t, err)
	require.NotNil(t, ev.ParticipantJoined)
	assert.Equal(t, EventParticipantJoined, ev.Type)
	assert.Equal(t, "alice", ev.ParticipantJoined.Participant.UserID)

	assert.Nil(t, ev.JoinResponse)
	assert.Nil(t, ev.ParticipantLeft)
	assert.Nil(t, ev.Error)
}

func TestDecodeEventUnknownType(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type": "somethingNew", "payload": {}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownEvent)
}
