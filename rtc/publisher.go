package rtc

import (
	"sync"

	"callkit/internal/log"
	"callkit/signal"

	"github.com/pion/webrtc/v3"
)

// PublishOptions tune one publish call.
type PublishOptions struct {
	// PreferredCodec is moved to the front of the capability list for
	// video and screen-share publishes. Defaults to vp8.
	PreferredCodec string
}

// LocalMedia bundles the capture handles the device layer supplies to
// a publish call. Screen-share publishes use the Video handle.
type LocalMedia struct {
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal

	// Dimension is the native capture size, used to plan the simulcast
	// ladder.
	Dimension *signal.Dimension

	// Stop releases the underlying capture source for the given kind.
	Stop func(kind signal.TrackType)
}

func (m LocalMedia) trackFor(t signal.TrackType) (webrtc.TrackLocal, error) {
	var track webrtc.TrackLocal
	switch t {
	case signal.TrackTypeAudio:
		track = m.Audio
	case signal.TrackTypeVideo, signal.TrackTypeScreenShare:
		track = m.Video
	}
	if track == nil {
		return nil, ErrMissingTrack
	}
	return track, nil
}

func (m LocalMedia) stopFor(t signal.TrackType) func() {
	stop := m.Stop
	if stop == nil {
		return func() {}
	}
	return func() { stop(t) }
}

// transceiverBinding ties one track kind to its send-only transceiver.
// At most one binding per kind is ever live.
type transceiverBinding struct {
	transceiver *webrtc.RTPTransceiver
	stopSource  func()
	layers      []videoLayer
	stopped     bool
}

// Publisher owns the outbound peer connection. Each track kind gets
// exactly one send-only transceiver; republishing a kind replaces the
// media source on the existing transceiver instead of renegotiating.
type Publisher struct {
	mu sync.Mutex
	pc *webrtc.PeerConnection

	bindings map[signal.TrackType]*transceiverBinding

	// onActiveLayersChanged tells the local encoder which simulcast
	// rids the server wants produced.
	onActiveLayersChanged func(activeRIDs []string)

	closeOnce sync.Once
}

func NewPublisher(cfg webrtc.Configuration) (*Publisher, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		log.Errorf("publisher pc init: %v", err)
		return nil, err
	}

	p := &Publisher{
		pc:       pc,
		bindings: make(map[signal.TrackType]*transceiverBinding),
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Debugf("publisher ice connection state: %s", state)
	})
	return p, nil
}

// OnActiveLayersChanged registers the encoder control hook invoked
// when the SFU requests a different set of active simulcast layers.
func (p *Publisher) OnActiveLayersChanged(f func(activeRIDs []string)) {
	p.mu.Lock()
	p.onActiveLayersChanged = f
	p.mu.Unlock()
}

// Publish binds a local media source to the transceiver for the given
// kind, creating it on first use. A missing kind in the source is a
// no-op failure for the caller, never fatal to the session.
func (p *Publisher) Publish(t signal.TrackType, media LocalMedia, opts PublishOptions) error {
	track, err := media.trackFor(t)
	if err != nil {
		log.Errorf("publish %s: no such track in source", t)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.bindings[t]; ok {
		// Kind already has its transceiver: swap the source in place,
		// no renegotiation. A logically stopped binding comes back to
		// life the same way.
		if !b.stopped {
			b.stopSource()
		}
		if err := b.transceiver.Sender().ReplaceTrack(track); err != nil {
			log.Errorf("publish %s: replace track: %v", t, err)
			return err
		}
		b.stopSource = media.stopFor(t)
		b.stopped = false
		return nil
	}

	init := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly}
	var layers []videoLayer
	if t == signal.TrackTypeVideo || t == signal.TrackTypeScreenShare {
		layers = findOptimalVideoLayers(media.Dimension)
		init.SendEncodings = sendEncodings(layers)
	}

	transceiver, err := p.pc.AddTransceiverFromTrack(track, init)
	if err != nil {
		log.Errorf("publish %s: add transceiver: %v", t, err)
		return err
	}

	preferred := opts.PreferredCodec
	if preferred == "" {
		preferred = "vp8"
	}
	kind := webrtc.RTPCodecTypeVideo
	if t == signal.TrackTypeAudio {
		kind = webrtc.RTPCodecTypeAudio
	}
	if err := transceiver.SetCodecPreferences(preferredCodecs(kind, preferred)); err != nil {
		log.Warnf("publish %s: set codec preferences: %v", t, err)
	}

	p.bindings[t] = &transceiverBinding{
		transceiver: transceiver,
		stopSource:  media.stopFor(t),
		layers:      layers,
	}
	return nil
}

// StopPublish stops the media source for the given kind and marks its
// binding logically stopped. The transceiver itself survives so a
// later republish does not renegotiate. Reports whether anything was
// live to stop.
func (p *Publisher) StopPublish(t signal.TrackType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.bindings[t]
	if !ok || b.stopped {
		return false
	}
	b.stopSource()
	b.stopped = true
	return true
}

// IsPublishing reports whether a live binding exists for the kind.
func (p *Publisher) IsPublishing(t signal.TrackType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.bindings[t]
	return ok && !b.stopped
}

// ActiveLayers lists the simulcast rids currently enabled for video.
func (p *Publisher) ActiveLayers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.bindings[signal.TrackTypeVideo]
	if !ok {
		return nil
	}
	return activeRIDs(b.layers)
}

// UpdateEncodingQuality flips each video layer's active flag to match
// the server-requested rid set. The encoder hook fires only when at
// least one flag actually changed.
func (p *Publisher) UpdateEncodingQuality(enabledRIDs []string) {
	log.Debugf("publish quality change requested, enabled rids: %v", enabledRIDs)

	p.mu.Lock()
	b, ok := p.bindings[signal.TrackTypeVideo]
	if !ok || b.stopped {
		p.mu.Unlock()
		return
	}

	enabled := make(map[string]bool, len(enabledRIDs))
	for _, rid := range enabledRIDs {
		enabled[rid] = true
	}

	changed := false
	for i := range b.layers {
		if should := enabled[b.layers[i].RID]; should != b.layers[i].Active {
			b.layers[i].Active = should
			changed = true
		}
	}
	active := activeRIDs(b.layers)
	hook := p.onActiveLayersChanged
	p.mu.Unlock()

	if !changed {
		return
	}
	if len(active) == 0 {
		log.Warnf("no video encoding layer left active")
	}
	if hook != nil {
		hook(active)
	}
}

// StopAll stops every bound media source, invoking notify per stopped
// kind, and detaches the tracks. Used by the leave sequence; each step
// is best effort.
func (p *Publisher) StopAll(notify func(t signal.TrackType)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for t, b := range p.bindings {
		if !b.stopped {
			b.stopSource()
			b.stopped = true
			if notify != nil {
				notify(t)
			}
		}
		if sender := b.transceiver.Sender(); sender != nil {
			if err := p.pc.RemoveTrack(sender); err != nil {
				log.Debugf("detach %s sender: %v", t, err)
			}
		}
	}
}

// GetStats samples the outbound peer connection.
func (p *Publisher) GetStats() webrtc.StatsReport {
	return p.pc.GetStats()
}

// Close releases the outbound peer connection.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if err := p.pc.Close(); err != nil {
			log.Errorf("publisher pc close: %v", err)
		}
	})
}

func activeRIDs(layers []videoLayer) []string {
	rids := make([]string, 0, len(layers))
	for _, l := range layers {
		if l.Active {
			rids = append(rids, l.RID)
		}
	}
	return rids
}
