package rtc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"callkit/internal/log"
	"callkit/signal"

	"github.com/pion/webrtc/v3"
)

// SessionState is the lifecycle of a call session.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateJoining
	StateJoined
	StateLeft
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeft:
		return "left"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Signaling is what the session needs from the signaling transport.
// *signal.Transport implements it; tests swap in an in-memory fake.
type Signaling interface {
	SessionID() string
	Token() string
	Dispatcher() *signal.Dispatcher
	Ready() <-chan struct{}
	Send(signal.Request) error
	StartKeepAlive(time.Duration)
	OnReconnect(func())
	Close() error
}

var _ Signaling = (*signal.Transport)(nil)

// Session drives one call: the join/leave protocol, the two peer
// connections and the participant table. A session is single use; a
// failed or left session is terminal and joining again needs a new one.
type Session struct {
	CallID   string
	CallType string

	cfg       Config
	signaling Signaling

	store         *Store
	publisher     *Publisher
	subscriber    *Subscriber
	subscriptions *SubscriptionManager
	stats         *StatsReporter

	// mu serializes the mutating operations (join, leave, publish);
	// event handlers never take it and only touch the store.
	mu    sync.Mutex
	state int32

	// ownSessionID is the id the SFU knows this participant by. Set
	// once by completeJoin, may differ from the transport-minted id.
	ownSessionID string

	leaveOnce sync.Once

	onMediaEnded atomic.Value // func(signal.TrackType)
	unwatch      []func()
}

// NewSession wires a session around a signaling transport. Nothing
// touches the network until Join.
func NewSession(cfg Config, signaling Signaling) (*Session, error) {
	cfg = cfg.withDefaults()

	store := NewStore()
	publisher, err := NewPublisher(cfg.rtcConfiguration())
	if err != nil {
		return nil, err
	}
	subscriber, err := NewSubscriber(cfg.rtcConfiguration(), store, cfg.TrackDiagnostics)
	if err != nil {
		publisher.Close()
		return nil, err
	}

	s := &Session{
		CallID:     cfg.CallID,
		CallType:   cfg.CallType,
		cfg:        cfg,
		signaling:  signaling,
		store:      store,
		publisher:  publisher,
		subscriber: subscriber,
	}
	s.subscriptions = NewSubscriptionManager(store, cfg.SubscriptionDebounce, cfg.ScreenShareDimension, s.sendSubscriptions)
	s.stats = NewStatsReporter(publisher, subscriber, cfg.StatsInterval)

	s.watchEvents()
	signaling.OnReconnect(func() {
		// A replaced transport keeps the session but loses the
		// server-side subscription set; resend it, never re-join.
		if s.State() == StateJoined {
			s.subscriptions.Flush()
		}
	})
	return s, nil
}

// Store exposes the reactive read surface for UI collaborators.
func (s *Session) Store() *Store { return s.store }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(atomic.LoadInt32(&s.state))
}

func (s *Session) casState(from, to SessionState) bool {
	return atomic.CompareAndSwapInt32(&s.state, int32(from), int32(to))
}

func (s *Session) setState(to SessionState) {
	atomic.StoreInt32(&s.state, int32(to))
}

// On registers a raw event handler; the returned func removes it.
func (s *Session) On(eventType signal.EventType, fn signal.EventHandler) func() {
	return s.signaling.Dispatcher().On(eventType, fn)
}

// OnMediaEnded registers the hook fired whenever a local media source
// is stopped by the session (stopPublish or leave).
func (s *Session) OnMediaEnded(f func(t signal.TrackType)) {
	s.onMediaEnded.Store(f)
}

func (s *Session) notifyMediaEnded(t signal.TrackType) {
	if f, ok := s.onMediaEnded.Load().(func(signal.TrackType)); ok && f != nil {
		f(t)
	}
}

// Join performs the join handshake. Legal only once, from idle: any
// later call fails with ErrAlreadyJoined without restarting the
// handshake. The joinResponse handler is registered before the request
// goes out, so the confirmation cannot be missed.
func (s *Session) Join(ctx context.Context) error {
	if !s.casState(StateIdle, StateJoining) {
		return ErrAlreadyJoined
	}
	log.Infof("joining call %s:%s as session %s", s.CallType, s.CallID, s.signaling.SessionID())

	timeout := time.NewTimer(s.cfg.JoinTimeout)
	defer timeout.Stop()

	select {
	case <-s.signaling.Ready():
	case <-ctx.Done():
		return s.failJoin(ctx.Err())
	case <-timeout.C:
		return s.failJoin(ErrJoinTimeout)
	}

	joined := make(chan *signal.JoinResponse, 1)
	off := s.On(signal.EventJoinResponse, func(ev *signal.Event) {
		if ev.JoinResponse == nil {
			return
		}
		select {
		case joined <- ev.JoinResponse:
		default:
		}
	})
	defer off()

	subscriberSDP, err := genericRecvOnlySDP(s.cfg.rtcConfiguration())
	if err != nil {
		return s.failJoin(err)
	}
	codecs, err := receiverCodecsFromSDP(subscriberSDP, "audio")
	if err == nil {
		if videoCodecs, verr := receiverCodecsFromSDP(subscriberSDP, "video"); verr == nil {
			codecs = append(codecs, videoCodecs...)
		}
	}

	req, err := signal.NewRequest(signal.RequestJoin, signal.JoinRequest{
		SessionID:      s.signaling.SessionID(),
		Token:          s.signaling.Token(),
		SubscriberSDP:  subscriberSDP,
		ReceiverCodecs: codecs,
	})
	if err != nil {
		return s.failJoin(err)
	}
	if err := s.signaling.Send(req); err != nil {
		return s.failJoin(err)
	}

	select {
	case resp := <-joined:
		return s.completeJoin(resp)
	case <-ctx.Done():
		return s.failJoin(ctx.Err())
	case <-timeout.C:
		return s.failJoin(ErrJoinTimeout)
	}
}

func (s *Session) completeJoin(resp *signal.JoinResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Leave may have raced the response; a torn-down session must not
	// come back to life.
	if !s.casState(StateJoining, StateJoined) {
		return ErrSessionClosed
	}

	ownSessionID := resp.OwnSessionID
	if ownSessionID == "" {
		ownSessionID = s.signaling.SessionID()
	}
	s.ownSessionID = ownSessionID
	s.store.RegisterAll(resp.Participants, ownSessionID)
	s.signaling.StartKeepAlive(s.cfg.KeepAliveInterval)
	s.stats.Start()

	log.Infof("joined call %s:%s with %d participants", s.CallType, s.CallID, len(resp.Participants))
	return nil
}

func (s *Session) failJoin(cause error) error {
	// Only a still-pending join moves to failed; leave wins otherwise.
	s.casState(StateJoining, StateFailed)
	log.Errorf("join call %s:%s: %v", s.CallType, s.CallID, cause)
	return cause
}

// Leave tears the session down. Safe to call at any time, repeatedly,
// and while a join is still pending; cleanup is best effort and runs
// every step even when one fails.
func (s *Session) Leave() {
	s.leaveOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		log.Infof("leaving call %s:%s", s.CallType, s.CallID)
		s.setState(StateLeft)

		s.stats.Stop()
		s.subscriber.Close()
		s.publisher.StopAll(func(t signal.TrackType) {
			s.notifyMediaEnded(t)
			s.clearLocalTrack(t)
		})
		s.publisher.Close()
		s.store.Reset()
		for _, off := range s.unwatch {
			off()
		}
		s.unwatch = nil
		if err := s.signaling.Close(); err != nil {
			log.Errorf("close signaling: %v", err)
		}
	})
}

// Publish binds a local media source for the given kind and announces
// it on the local participant entry.
func (s *Session) Publish(t signal.TrackType, media LocalMedia, opts PublishOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateJoined {
		return ErrNotJoined
	}
	if err := s.publisher.Publish(t, media, opts); err != nil {
		return err
	}

	s.store.Patch(s.ownSessionID, func(p Participant) Participant {
		if t == signal.TrackTypeVideo && media.Dimension != nil {
			p.VideoDimension = media.Dimension
		}
		return p.withTrackPublished(t)
	})
	return nil
}

// StopPublish stops the media source for the given kind and clears it
// from the local participant entry.
func (s *Session) StopPublish(t signal.TrackType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateJoined {
		return ErrNotJoined
	}
	if s.publisher.StopPublish(t) {
		s.notifyMediaEnded(t)
		s.clearLocalTrack(t)
	}
	return nil
}

func (s *Session) clearLocalTrack(t signal.TrackType) {
	s.store.Patch(s.ownSessionID, func(p Participant) Participant {
		return p.withTrackUnpublished(t)
	})
}

// SetVideoDimensions feeds a layout patch to the subscription manager.
func (s *Session) SetVideoDimensions(patches map[string]*signal.Dimension) error {
	if s.State() != StateJoined {
		return ErrNotJoined
	}
	s.subscriptions.SetVideoDimensions(patches)
	return nil
}

// OnActiveLayersChanged forwards the publisher's encoder control hook.
func (s *Session) OnActiveLayersChanged(f func(activeRIDs []string)) {
	s.publisher.OnActiveLayersChanged(f)
}

// StartReportingStatsFor enables enhanced stats for one participant.
func (s *Session) StartReportingStatsFor(sessionID string) {
	s.stats.StartReportingStatsFor(sessionID)
}

// StopReportingStatsFor disables enhanced stats for one participant.
func (s *Session) StopReportingStatsFor(sessionID string) {
	s.stats.StopReportingStatsFor(sessionID)
}

// GetRawStats returns the latest reading of one peer connection,
// kind is "publisher" or "subscriber".
func (s *Session) GetRawStats(kind string) webrtc.StatsReport {
	return s.stats.GetRawStats(kind)
}

// RecentStats returns the buffered periodic samples.
func (s *Session) RecentStats() []StatsSample {
	return s.stats.Recent()
}

func (s *Session) sendSubscriptions(subscriptions []signal.TrackSubscriptionDetails) {
	if s.State() != StateJoined {
		return
	}
	req, err := signal.NewRequest(signal.RequestUpdateSubscriptions, signal.UpdateSubscriptionsRequest{
		SessionID:     s.signaling.SessionID(),
		Subscriptions: subscriptions,
	})
	if err != nil {
		log.Errorf("encode subscription update: %v", err)
		return
	}
	if err := s.signaling.Send(req); err != nil {
		log.Errorf("send subscription update: %v", err)
	}
}

// watchEvents wires the server-pushed event stream into store
// mutations. Handlers stay non-blocking: anything that needs outbound
// signaling or the session lock moves to its own goroutine.
func (s *Session) watchEvents() {
	d := s.signaling.Dispatcher()

	s.unwatch = append(s.unwatch,
		d.On(signal.EventParticipantJoined, func(ev *signal.Event) {
			if ev.ParticipantJoined == nil {
				return
			}
			s.store.Register(participantFromSnapshot(ev.ParticipantJoined.Participant))
			if s.State() == StateJoined {
				s.subscriptions.Schedule()
			}
		}),

		d.On(signal.EventParticipantLeft, func(ev *signal.Event) {
			if ev.ParticipantLeft == nil {
				return
			}
			s.store.Remove(ev.ParticipantLeft.Participant.SessionID)
			if s.State() == StateJoined {
				s.subscriptions.Schedule()
			}
		}),

		d.On(signal.EventTrackPublished, func(ev *signal.Event) {
			if ev.TrackPublished == nil {
				return
			}
			s.store.Patch(ev.TrackPublished.SessionID, func(p Participant) Participant {
				return p.withTrackPublished(ev.TrackPublished.Type)
			})
		}),

		d.On(signal.EventTrackUnpublished, func(ev *signal.Event) {
			if ev.TrackUnpublished == nil {
				return
			}
			s.store.Patch(ev.TrackUnpublished.SessionID, func(p Participant) Participant {
				return p.withTrackUnpublished(ev.TrackUnpublished.Type)
			})
		}),

		d.On(signal.EventAudioLevelChanged, func(ev *signal.Event) {
			if ev.AudioLevelChanged == nil {
				return
			}
			for _, level := range ev.AudioLevelChanged.Levels {
				level := level
				s.store.Patch(level.SessionID, func(p Participant) Participant {
					p.AudioLevel = level.Level
					p.IsSpeaking = level.IsSpeaking
					return p
				})
			}
		}),

		d.On(signal.EventDominantSpeakerChanged, func(ev *signal.Event) {
			if ev.DominantSpeakerChanged == nil {
				return
			}
			dominant := ev.DominantSpeakerChanged.SessionID
			s.store.PatchAll(func(p Participant) Participant {
				p.IsDominantSpeaker = p.SessionID == dominant
				return p
			})
		}),

		d.On(signal.EventConnectionQualityChanged, func(ev *signal.Event) {
			if ev.ConnectionQualityChanged == nil {
				return
			}
			quality := ev.ConnectionQualityChanged.Quality
			s.store.Patch(ev.ConnectionQualityChanged.SessionID, func(p Participant) Participant {
				p.ConnectionQuality = quality
				return p
			})
		}),

		d.On(signal.EventChangePublishQuality, func(ev *signal.Event) {
			if ev.ChangePublishQuality == nil || s.State() != StateJoined {
				return
			}
			s.publisher.UpdateEncodingQuality(ev.ChangePublishQuality.EnabledLayers)
		}),

		d.On(signal.EventError, func(ev *signal.Event) {
			if ev.Error == nil {
				return
			}
			// Recoverable server errors surface as events only.
			log.Errorf("sfu error %d: %s (retry=%t)", ev.Error.Code, ev.Error.Message, ev.Error.ShouldRetry)
		}),

		d.On(signal.EventGoAway, func(ev *signal.Event) {
			reason := ""
			if ev.GoAway != nil {
				reason = ev.GoAway.Reason
			}
			log.Warnf("sfu go-away (%s), leaving call", reason)
			// Leave takes the session lock; never from the dispatcher
			// goroutine.
			go s.Leave()
		}),
	)
}
