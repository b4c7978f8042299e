package rtc

import (
	"fmt"
	"sync"
	"testing"

	"callkit/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	s.RegisterAll([]signal.Participant{
		{UserID: "me", SessionID: "local", TrackLookupPrefix: "lp"},
		{UserID: "alice", SessionID: "s1", TrackLookupPrefix: "p1"},
		{UserID: "bob", SessionID: "s2", TrackLookupPrefix: "p2"},
	}, "local")
	return s
}

func TestStoreRegisterAllMarksSingleLocal(t *testing.T) {
	s := seedStore(t)

	locals := 0
	for _, p := range s.All() {
		if p.IsLocalUser {
			locals++
			assert.Equal(t, "local", p.SessionID)
		}
	}
	assert.Equal(t, 1, locals)
}

func TestStoreRemoveAfterParticipantLeft(t *testing.T) {
	s := seedStore(t)
	s.Remove("s1")

	for _, p := range s.All() {
		assert.NotEqual(t, "s1", p.SessionID)
	}
	_, ok := s.Get("s1")
	assert.False(t, ok)
}

func TestStoreSnapshotIsolation(t *testing.T) {
	s := seedStore(t)
	before := s.All()

	s.Patch("s1", func(p Participant) Participant {
		p.AudioLevel = 0.9
		return p
	})

	// The previously obtained snapshot must not change under the
	// reader's feet.
	for _, p := range before {
		assert.Zero(t, p.AudioLevel)
	}
	after, ok := s.Get("s1")
	require.True(t, ok)
	assert.InDelta(t, 0.9, after.AudioLevel, 1e-6)
}

func TestStorePatchUnknownSession(t *testing.T) {
	s := seedStore(t)
	ok := s.Patch("ghost", func(p Participant) Participant { return p })
	assert.False(t, ok)
	assert.Len(t, s.All(), 3)
}

func TestStoreFindByLookupPrefix(t *testing.T) {
	s := seedStore(t)

	p, ok := s.FindByLookupPrefix("p2")
	require.True(t, ok)
	assert.Equal(t, "bob", p.UserID)

	_, ok = s.FindByLookupPrefix("nope")
	assert.False(t, ok)
}

func TestStoreSubscribeNotifiesWithSnapshot(t *testing.T) {
	s := seedStore(t)

	var seen [][]Participant
	off := s.Subscribe(func(participants []Participant) {
		seen = append(seen, participants)
	})

	s.Register(Participant{UserID: "carol", SessionID: "s3"})
	require.Len(t, seen, 1)
	assert.Len(t, seen[0], 4)

	off()
	s.Remove("s3")
	assert.Len(t, seen, 1)
}

func TestStoreResetDropsEveryone(t *testing.T) {
	s := seedStore(t)

	notified := false
	s.Subscribe(func(participants []Participant) {
		notified = true
		assert.Empty(t, participants)
	})

	s.Reset()
	assert.True(t, notified)
	assert.Empty(t, s.All())
	_, ok := s.Local()
	assert.False(t, ok)

	notified = false
	s.Reset()
	assert.False(t, notified)
}

func TestStoreNotifyOrderMatchesMutationOrder(t *testing.T) {
	s := NewStore()

	var sizes []int
	s.Subscribe(func(participants []Participant) {
		sizes = append(sizes, len(participants))
	})

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Register(Participant{SessionID: fmt.Sprintf("s%d", i)})
		}(i)
	}
	wg.Wait()

	require.Len(t, sizes, n)
	for i := 1; i < len(sizes); i++ {
		assert.Less(t, sizes[i-1], sizes[i])
	}
	assert.Equal(t, n, sizes[n-1])
}

func TestParticipantPublishedTrackSet(t *testing.T) {
	p := Participant{SessionID: "s1"}
	p = p.withTrackPublished(signal.TrackTypeVideo)
	p = p.withTrackPublished(signal.TrackTypeVideo)
	assert.Len(t, p.PublishedTracks, 1)

	p = p.withTrackUnpublished(signal.TrackTypeVideo)
	assert.False(t, p.HasPublished(signal.TrackTypeVideo))
	assert.Nil(t, p.VideoTrack)
}
