package rtc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"callkit/internal/log"
	"callkit/signal"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// trackSilenceTimeout is how long an inbound track may stay quiet
// before the liveness watcher reports it muted.
const trackSilenceTimeout = 2 * time.Second

// Subscriber owns the inbound peer connection and routes every remote
// track to the participant it belongs to. The SFU embeds a
// "<lookupPrefix>:<trackType>" composite in the stream id; that prefix
// resolves the owning store entry.
type Subscriber struct {
	pc    *webrtc.PeerConnection
	store *Store

	// diagnostics turns on the RTP liveness watcher. It consumes the
	// track's packet stream, so it stays off unless the embedding
	// application wants the engine to be the only reader.
	diagnostics bool

	closed    atomicBool
	closeOnce sync.Once
}

func NewSubscriber(cfg webrtc.Configuration, store *Store, diagnostics bool) (*Subscriber, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		log.Errorf("subscriber pc init: %v", err)
		return nil, err
	}

	s := &Subscriber{pc: pc, store: store, diagnostics: diagnostics}

	pc.OnTrack(s.handleTrack)
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Debugf("subscriber ice connection state: %s", state)
	})
	return s, nil
}

func (s *Subscriber) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	prefix, trackType := splitStreamID(track.StreamID(), track.Kind())
	log.Debugf("got remote %s track, stream id %s, ssrc %d", trackType, track.StreamID(), track.SSRC())

	participant, ok := s.store.FindByLookupPrefix(prefix)
	if !ok {
		// Track arrival can race the participantJoined event; the SFU
		// re-announces via the subscription set, so dropping is safe.
		log.Warnf("received %s track for unknown participant prefix %q, dropping", trackType, prefix)
		return
	}

	if trackType == signal.TrackTypeVideo || trackType == signal.TrackTypeScreenShare {
		// Ask for a keyframe so the new viewer does not wait out a
		// full keyframe interval.
		if err := s.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		}); err != nil {
			log.Debugf("pli for ssrc %d: %v", track.SSRC(), err)
		}
	}

	s.store.Patch(participant.SessionID, func(p Participant) Participant {
		switch trackType {
		case signal.TrackTypeAudio:
			p.AudioTrack = track
		case signal.TrackTypeScreenShare:
			p.ScreenShareTrack = track
		default:
			p.VideoTrack = track
		}
		return p
	})

	if s.diagnostics {
		go s.watchTrack(participant.UserID, trackType, track)
	}
}

// watchTrack reads the track's RTP stream to derive muted/unmuted/ended
// diagnostics. Purely observational: an ended track does not clear the
// participant field, the explicit unpublish or participant-left event
// owns that.
func (s *Subscriber) watchTrack(userID string, trackType signal.TrackType, track *webrtc.TrackRemote) {
	muted := false
	first := true
	for {
		if s.closed.get() {
			return
		}
		if err := track.SetReadDeadline(time.Now().Add(trackSilenceTimeout)); err != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		switch {
		case err == nil:
			if first {
				first = false
				log.Debugf("track live: %s %s, %s", userID, trackType, rtpSummary(pkt))
			}
			if muted {
				muted = false
				log.Debugf("track unmuted: %s %s, %s", userID, trackType, rtpSummary(pkt))
			}
		case isTimeout(err):
			if !muted {
				muted = true
				log.Debugf("track muted: %s %s", userID, trackType)
			}
		case errors.Is(err, io.EOF):
			log.Debugf("track ended: %s %s", userID, trackType)
			return
		default:
			log.Debugf("track read %s %s: %v", userID, trackType, err)
			return
		}
	}
}

// GetStats samples the inbound peer connection.
func (s *Subscriber) GetStats() webrtc.StatsReport {
	return s.pc.GetStats()
}

// Close releases the inbound peer connection. Participant fields are
// left alone; the session's leave sequence clears them.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.closed.set(true)
		if err := s.pc.Close(); err != nil {
			log.Errorf("subscriber pc close: %v", err)
		}
	})
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func rtpSummary(p *rtp.Packet) string {
	return fmt.Sprintf("sn=%d ts=%d marker=%t", p.SequenceNumber, p.Timestamp, p.Marker)
}

// splitStreamID decodes the lookup composite. Stream ids without a
// type token fall back to the track's media kind.
func splitStreamID(streamID string, kind webrtc.RTPCodecType) (string, signal.TrackType) {
	parts := strings.SplitN(streamID, ":", 2)
	if len(parts) == 2 {
		if t := signal.ParseTrackType(parts[1]); t != signal.TrackTypeUnspecified {
			return parts[0], t
		}
	}
	if kind == webrtc.RTPCodecTypeAudio {
		return parts[0], signal.TrackTypeAudio
	}
	return parts[0], signal.TrackTypeVideo
}
