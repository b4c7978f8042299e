package rtc

import (
	"sync"
	"time"

	"callkit/internal/log"
	"callkit/signal"

	"github.com/bep/debounce"
)

// SubscriptionManager turns "who is visible, at what size" into the
// signaling-level subscription set. Layout patches may arrive on every
// resize or scroll, so sends are debounced; each send carries the full
// replacement set and omission of a participant or kind is itself the
// unsubscribe signal.
type SubscriptionManager struct {
	mu        sync.Mutex
	store     *Store
	send      func(subscriptions []signal.TrackSubscriptionDetails)
	debounced func(func())

	screenShareDim signal.Dimension
}

func NewSubscriptionManager(
	store *Store,
	window time.Duration,
	screenShareDim signal.Dimension,
	send func(subscriptions []signal.TrackSubscriptionDetails),
) *SubscriptionManager {
	return &SubscriptionManager{
		store:          store,
		send:           send,
		debounced:      debounce.New(window),
		screenShareDim: screenShareDim,
	}
}

// SetVideoDimensions applies a layout patch: per participant session
// id, the size it is currently rendered at. Unknown session ids are
// logged and skipped. Schedules a debounced subscription update.
func (m *SubscriptionManager) SetVideoDimensions(patches map[string]*signal.Dimension) {
	for sessionID, dim := range patches {
		dim := dim
		ok := m.store.Patch(sessionID, func(p Participant) Participant {
			p.VideoDimension = dim
			return p
		})
		if !ok {
			log.Warnf("subscription patch for unknown session %s ignored", sessionID)
		}
	}
	m.Schedule()
}

// Schedule queues a subscription update for the end of the quiet
// window. Consecutive calls collapse into one send of the final set.
func (m *SubscriptionManager) Schedule() {
	m.mu.Lock()
	debounced := m.debounced
	m.mu.Unlock()
	debounced(m.Flush)
}

// Flush computes and sends the current subscription set immediately.
// Used after a transport reconnect, where the server-side set is gone.
func (m *SubscriptionManager) Flush() {
	m.send(m.compute())
}

func (m *SubscriptionManager) compute() []signal.TrackSubscriptionDetails {
	participants := m.store.All()
	subscriptions := make([]signal.TrackSubscriptionDetails, 0, 3*len(participants))
	for _, p := range participants {
		if p.IsLocalUser {
			continue
		}
		subscriptions = append(subscriptions,
			signal.TrackSubscriptionDetails{
				UserID:    p.UserID,
				SessionID: p.SessionID,
				TrackType: signal.TrackTypeAudio,
			},
			signal.TrackSubscriptionDetails{
				UserID:    p.UserID,
				SessionID: p.SessionID,
				TrackType: signal.TrackTypeVideo,
				Dimension: p.VideoDimension,
			},
			// Screen-share always goes out at the fixed reference
			// size, it is not simulcast-adapted per viewer.
			signal.TrackSubscriptionDetails{
				UserID:    p.UserID,
				SessionID: p.SessionID,
				TrackType: signal.TrackTypeScreenShare,
				Dimension: &signal.Dimension{Width: m.screenShareDim.Width, Height: m.screenShareDim.Height},
			},
		)
	}
	return subscriptions
}
