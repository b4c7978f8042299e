package rtc

import (
	"callkit/signal"

	"github.com/pion/webrtc/v3"
)

// Participant is one member of the call as the store tracks it. Values
// handed out by the store are copies; the live media handles they carry
// are read-only for consumers.
type Participant struct {
	UserID            string
	SessionID         string
	PublishedTracks   []signal.TrackType
	TrackLookupPrefix string

	IsLocalUser bool

	AudioTrack       *webrtc.TrackRemote
	VideoTrack       *webrtc.TrackRemote
	ScreenShareTrack *webrtc.TrackRemote

	// VideoDimension is the size the UI currently renders this
	// participant at; it drives the subscription request.
	VideoDimension *signal.Dimension

	AudioLevel        float32
	IsSpeaking        bool
	IsDominantSpeaker bool
	ConnectionQuality signal.ConnectionQuality
}

func participantFromSnapshot(p signal.Participant) Participant {
	return Participant{
		UserID:            p.UserID,
		SessionID:         p.SessionID,
		PublishedTracks:   append([]signal.TrackType(nil), p.PublishedTracks...),
		TrackLookupPrefix: p.TrackLookupPrefix,
	}
}

// HasPublished reports whether the participant currently announces the
// given track kind.
func (p Participant) HasPublished(t signal.TrackType) bool {
	for _, pt := range p.PublishedTracks {
		if pt == t {
			return true
		}
	}
	return false
}

func (p Participant) withTrackPublished(t signal.TrackType) Participant {
	if p.HasPublished(t) {
		return p
	}
	p.PublishedTracks = append(append([]signal.TrackType(nil), p.PublishedTracks...), t)
	return p
}

func (p Participant) withTrackUnpublished(t signal.TrackType) Participant {
	tracks := make([]signal.TrackType, 0, len(p.PublishedTracks))
	for _, pt := range p.PublishedTracks {
		if pt != t {
			tracks = append(tracks, pt)
		}
	}
	p.PublishedTracks = tracks
	switch t {
	case signal.TrackTypeAudio:
		p.AudioTrack = nil
	case signal.TrackTypeVideo:
		p.VideoTrack = nil
	case signal.TrackTypeScreenShare:
		p.ScreenShareTrack = nil
	}
	return p
}
