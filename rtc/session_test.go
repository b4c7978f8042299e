package rtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"callkit/signal"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSignaling is an in-memory stand-in for the websocket transport.
// A join request is answered synchronously with the canned response.
type fakeSignaling struct {
	sessionID  string
	dispatcher *signal.Dispatcher
	ready      chan struct{}

	joinResp *signal.JoinResponse

	mu               sync.Mutex
	sent             []signal.Request
	closed           bool
	keepAliveStarted bool
}

func newFakeSignaling(joinResp *signal.JoinResponse) *fakeSignaling {
	f := &fakeSignaling{
		sessionID:  "local",
		dispatcher: signal.NewDispatcher(),
		ready:      make(chan struct{}),
		joinResp:   joinResp,
	}
	close(f.ready)
	return f
}

func (f *fakeSignaling) SessionID() string { return f.sessionID }

func (f *fakeSignaling) Token() string { return "test-token" }

func (f *fakeSignaling) Dispatcher() *signal.Dispatcher { return f.dispatcher }

func (f *fakeSignaling) Ready() <-chan struct{} { return f.ready }

func (f *fakeSignaling) OnReconnect(func()) {}

func (f *fakeSignaling) Send(req signal.Request) error {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	respond := req.Type == signal.RequestJoin && f.joinResp != nil
	f.mu.Unlock()

	if respond {
		f.dispatcher.Dispatch(&signal.Event{Type: signal.EventJoinResponse, JoinResponse: f.joinResp})
	}
	return nil
}

func (f *fakeSignaling) StartKeepAlive(time.Duration) {
	f.mu.Lock()
	f.keepAliveStarted = true
	f.mu.Unlock()
}

func (f *fakeSignaling) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func testConfig() Config {
	return Config{
		CallID:               "demo",
		CallType:             "default",
		JoinTimeout:          2 * time.Second,
		SubscriptionDebounce: 10 * time.Millisecond,
	}
}

func demoJoinResponse() *signal.JoinResponse {
	return &signal.JoinResponse{
		OwnSessionID: "local",
		Participants: []signal.Participant{
			{UserID: "me", SessionID: "local", TrackLookupPrefix: "lp"},
			{UserID: "alice", SessionID: "s1", TrackLookupPrefix: "p1"},
		},
	}
}

func joinedSession(t *testing.T) (*Session, *fakeSignaling) {
	t.Helper()
	f := newFakeSignaling(demoJoinResponse())
	s, err := NewSession(testConfig(), f)
	require.NoError(t, err)
	require.NoError(t, s.Join(context.Background()))
	t.Cleanup(s.Leave)
	return s, f
}

func videoMedia(t *testing.T, stop func(signal.TrackType)) LocalMedia {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "local-media",
	)
	require.NoError(t, err)
	return LocalMedia{
		Video:     track,
		Dimension: &signal.Dimension{Width: 1280, Height: 720},
		Stop:      stop,
	}
}

func TestSessionJoinLifecycle(t *testing.T) {
	f := newFakeSignaling(demoJoinResponse())
	s, err := NewSession(testConfig(), f)
	require.NoError(t, err)
	defer s.Leave()

	assert.Equal(t, StateIdle, s.State())
	require.NoError(t, s.Join(context.Background()))
	assert.Equal(t, StateJoined, s.State())

	local, ok := s.Store().Local()
	require.True(t, ok)
	assert.Equal(t, "local", local.SessionID)
	assert.True(t, local.IsLocalUser)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.True(t, f.keepAliveStarted)
	require.NotEmpty(t, f.sent)
	assert.Equal(t, signal.RequestJoin, f.sent[0].Type)
}

func TestSessionJoinTwice(t *testing.T) {
	s, _ := joinedSession(t)
	assert.ErrorIs(t, s.Join(context.Background()), ErrAlreadyJoined)
	assert.Equal(t, StateJoined, s.State())
}

func TestSessionJoinTimeout(t *testing.T) {
	f := newFakeSignaling(nil) // never answers
	cfg := testConfig()
	cfg.JoinTimeout = 50 * time.Millisecond
	s, err := NewSession(cfg, f)
	require.NoError(t, err)
	defer s.Leave()

	assert.ErrorIs(t, s.Join(context.Background()), ErrJoinTimeout)
	assert.Equal(t, StateFailed, s.State())
}

func TestSessionPublishBeforeJoin(t *testing.T) {
	f := newFakeSignaling(demoJoinResponse())
	s, err := NewSession(testConfig(), f)
	require.NoError(t, err)
	defer s.Leave()

	err = s.Publish(signal.TrackTypeVideo, videoMedia(t, nil), PublishOptions{})
	assert.ErrorIs(t, err, ErrNotJoined)

	err = s.SetVideoDimensions(map[string]*signal.Dimension{"s1": {Width: 100, Height: 100}})
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestSessionPublishMissingTrack(t *testing.T) {
	s, _ := joinedSession(t)
	err := s.Publish(signal.TrackTypeAudio, LocalMedia{}, PublishOptions{})
	assert.ErrorIs(t, err, ErrMissingTrack)
	assert.Equal(t, StateJoined, s.State())
}

func TestSessionPublishStopPublish(t *testing.T) {
	s, _ := joinedSession(t)

	var stopped []signal.TrackType
	var ended []signal.TrackType
	s.OnMediaEnded(func(tt signal.TrackType) { ended = append(ended, tt) })

	media := videoMedia(t, func(tt signal.TrackType) { stopped = append(stopped, tt) })
	require.NoError(t, s.Publish(signal.TrackTypeVideo, media, PublishOptions{}))

	local, ok := s.Store().Local()
	require.True(t, ok)
	assert.True(t, local.HasPublished(signal.TrackTypeVideo))

	require.NoError(t, s.StopPublish(signal.TrackTypeVideo))
	local, _ = s.Store().Local()
	assert.False(t, local.HasPublished(signal.TrackTypeVideo))
	assert.Nil(t, local.VideoTrack)
	assert.Equal(t, []signal.TrackType{signal.TrackTypeVideo}, stopped)
	assert.Equal(t, []signal.TrackType{signal.TrackTypeVideo}, ended)
}

func TestSessionRepublishReplacesInPlace(t *testing.T) {
	s, _ := joinedSession(t)

	require.NoError(t, s.Publish(signal.TrackTypeVideo, videoMedia(t, nil), PublishOptions{}))
	require.NoError(t, s.Publish(signal.TrackTypeVideo, videoMedia(t, nil), PublishOptions{}))

	assert.True(t, s.publisher.IsPublishing(signal.TrackTypeVideo))
	s.publisher.mu.Lock()
	assert.Len(t, s.publisher.bindings, 1)
	s.publisher.mu.Unlock()
}

func TestSessionLeaveIdempotent(t *testing.T) {
	s, f := joinedSession(t)

	s.Leave()
	assert.Equal(t, StateLeft, s.State())
	assert.NotPanics(t, s.Leave)
	assert.Equal(t, StateLeft, s.State())

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.True(t, f.closed)
}

func TestSessionLeaveClearsParticipants(t *testing.T) {
	s, _ := joinedSession(t)
	require.Len(t, s.Store().All(), 2)

	s.Leave()

	assert.Empty(t, s.Store().All())
	_, ok := s.Store().Local()
	assert.False(t, ok)
}

func TestSessionPublishWithServerAssignedID(t *testing.T) {
	resp := demoJoinResponse()
	resp.OwnSessionID = "sfu-assigned"
	resp.Participants[0].SessionID = "sfu-assigned"

	f := newFakeSignaling(resp)
	s, err := NewSession(testConfig(), f)
	require.NoError(t, err)
	require.NoError(t, s.Join(context.Background()))
	defer s.Leave()

	require.NoError(t, s.Publish(signal.TrackTypeVideo, videoMedia(t, nil), PublishOptions{}))

	local, ok := s.Store().Local()
	require.True(t, ok)
	assert.Equal(t, "sfu-assigned", local.SessionID)
	assert.True(t, local.HasPublished(signal.TrackTypeVideo))

	require.NoError(t, s.StopPublish(signal.TrackTypeVideo))
	local, _ = s.Store().Local()
	assert.False(t, local.HasPublished(signal.TrackTypeVideo))
}

func TestSessionParticipantEvents(t *testing.T) {
	s, f := joinedSession(t)

	f.dispatcher.Dispatch(&signal.Event{
		Type: signal.EventParticipantJoined,
		ParticipantJoined: &signal.ParticipantJoined{
			Participant: signal.Participant{UserID: "bob", SessionID: "s2", TrackLookupPrefix: "p2"},
		},
	})
	_, ok := s.Store().Get("s2")
	assert.True(t, ok)

	f.dispatcher.Dispatch(&signal.Event{
		Type:           signal.EventTrackPublished,
		TrackPublished: &signal.TrackPublished{SessionID: "s2", UserID: "bob", Type: signal.TrackTypeAudio},
	})
	p, _ := s.Store().Get("s2")
	assert.True(t, p.HasPublished(signal.TrackTypeAudio))

	f.dispatcher.Dispatch(&signal.Event{
		Type:            signal.EventParticipantLeft,
		ParticipantLeft: &signal.ParticipantLeft{Participant: signal.Participant{SessionID: "s2"}},
	})
	for _, p := range s.Store().All() {
		assert.NotEqual(t, "s2", p.SessionID)
	}
}

func TestSessionDominantSpeaker(t *testing.T) {
	s, f := joinedSession(t)

	f.dispatcher.Dispatch(&signal.Event{
		Type:                   signal.EventDominantSpeakerChanged,
		DominantSpeakerChanged: &signal.DominantSpeakerChanged{SessionID: "s1", UserID: "alice"},
	})
	p, _ := s.Store().Get("s1")
	assert.True(t, p.IsDominantSpeaker)

	f.dispatcher.Dispatch(&signal.Event{
		Type:                   signal.EventDominantSpeakerChanged,
		DominantSpeakerChanged: &signal.DominantSpeakerChanged{SessionID: "local", UserID: "me"},
	})
	p, _ = s.Store().Get("s1")
	assert.False(t, p.IsDominantSpeaker)
}

func TestSessionGoAwayTerminates(t *testing.T) {
	s, f := joinedSession(t)

	f.dispatcher.Dispatch(&signal.Event{Type: signal.EventGoAway, GoAway: &signal.GoAway{Reason: "shutting down"}})
	require.Eventually(t, func() bool { return s.State() == StateLeft }, time.Second, 10*time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.True(t, f.closed)
}

func TestSessionSubscriptionUpdateSent(t *testing.T) {
	s, f := joinedSession(t)

	require.NoError(t, s.SetVideoDimensions(map[string]*signal.Dimension{"s1": {Width: 640, Height: 480}}))

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, req := range f.sent {
			if req.Type == signal.RequestUpdateSubscriptions {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}
