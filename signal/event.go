package signal

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TrackType identifies one of the media kinds a participant can publish.
type TrackType int

const (
	TrackTypeUnspecified TrackType = iota
	TrackTypeAudio
	TrackTypeVideo
	TrackTypeScreenShare
)

func (t TrackType) String() string {
	switch t {
	case TrackTypeAudio:
		return "TRACK_TYPE_AUDIO"
	case TrackTypeVideo:
		return "TRACK_TYPE_VIDEO"
	case TrackTypeScreenShare:
		return "TRACK_TYPE_SCREEN_SHARE"
	}
	return "TRACK_TYPE_UNSPECIFIED"
}

// ParseTrackType maps the token the SFU embeds in inbound stream ids
// back to a TrackType.
func ParseTrackType(s string) TrackType {
	switch s {
	case "TRACK_TYPE_AUDIO":
		return TrackTypeAudio
	case "TRACK_TYPE_VIDEO":
		return TrackTypeVideo
	case "TRACK_TYPE_SCREEN_SHARE":
		return TrackTypeScreenShare
	}
	return TrackTypeUnspecified
}

// ConnectionQuality is the SFU's judgement of a participant's link.
type ConnectionQuality int

const (
	ConnectionQualityUnspecified ConnectionQuality = iota
	ConnectionQualityPoor
	ConnectionQualityGood
	ConnectionQualityExcellent
)

// Dimension is a rendered or captured size in pixels.
type Dimension struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// Codec describes one receive capability parsed from the generic
// subscriber offer.
type Codec struct {
	PayloadType uint8  `json:"payloadType"`
	Name        string `json:"name"`
	FmtpLine    string `json:"fmtpLine"`
	ClockRate   uint32 `json:"clockRate"`
}

// Participant is the wire snapshot of a call member.
type Participant struct {
	UserID            string      `json:"userId"`
	SessionID         string      `json:"sessionId"`
	PublishedTracks   []TrackType `json:"publishedTracks"`
	TrackLookupPrefix string      `json:"trackLookupPrefix"`
}

// TrackSubscriptionDetails names one track of one participant that the
// client wants the SFU to forward.
type TrackSubscriptionDetails struct {
	UserID    string     `json:"userId"`
	SessionID string     `json:"sessionId"`
	TrackType TrackType  `json:"trackType"`
	Dimension *Dimension `json:"dimension,omitempty"`
}

// Outbound request payloads.
type (
	JoinRequest struct {
		SessionID      string  `json:"sessionId"`
		Token          string  `json:"token"`
		SubscriberSDP  string  `json:"subscriberSdp"`
		ReceiverCodecs []Codec `json:"receiverCodecs,omitempty"`
	}

	UpdateSubscriptionsRequest struct {
		SessionID     string                     `json:"sessionId"`
		Subscriptions []TrackSubscriptionDetails `json:"subscriptions"`
	}

	HealthcheckRequest struct {
		SessionID string `json:"sessionId"`
	}
)

const (
	RequestJoin                = "joinRequest"
	RequestUpdateSubscriptions = "updateSubscriptions"
	RequestHealthcheck         = "healthcheckRequest"
)

// Request is the envelope every client-to-SFU message travels in.
type Request struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewRequest wraps a payload in a typed envelope.
func NewRequest(reqType string, payload interface{}) (Request, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Request{}, err
	}
	return Request{Type: reqType, Payload: raw}, nil
}

// EventType tags a server-pushed event.
type EventType string

const (
	EventJoinResponse             EventType = "joinResponse"
	EventParticipantJoined        EventType = "participantJoined"
	EventParticipantLeft          EventType = "participantLeft"
	EventTrackPublished           EventType = "trackPublished"
	EventTrackUnpublished         EventType = "trackUnpublished"
	EventAudioLevelChanged        EventType = "audioLevelChanged"
	EventDominantSpeakerChanged   EventType = "dominantSpeakerChanged"
	EventConnectionQualityChanged EventType = "connectionQualityChanged"
	EventChangePublishQuality     EventType = "changePublishQuality"
	EventError                    EventType = "error"
	EventGoAway                   EventType = "goAway"

	// EventAll is the wildcard bucket of the dispatcher.
	EventAll EventType = "all"
)

// Server-pushed event payloads.
type (
	JoinResponse struct {
		OwnSessionID string        `json:"ownSessionId"`
		Participants []Participant `json:"participants"`
	}

	ParticipantJoined struct {
		Participant Participant `json:"participant"`
	}

	ParticipantLeft struct {
		Participant Participant `json:"participant"`
	}

	TrackPublished struct {
		SessionID string    `json:"sessionId"`
		UserID    string    `json:"userId"`
		Type      TrackType `json:"type"`
	}

	TrackUnpublished struct {
		SessionID string    `json:"sessionId"`
		UserID    string    `json:"userId"`
		Type      TrackType `json:"type"`
	}

	AudioLevel struct {
		SessionID  string  `json:"sessionId"`
		Level      float32 `json:"level"`
		IsSpeaking bool    `json:"isSpeaking"`
	}

	AudioLevelChanged struct {
		Levels []AudioLevel `json:"audioLevels"`
	}

	DominantSpeakerChanged struct {
		SessionID string `json:"sessionId"`
		UserID    string `json:"userId"`
	}

	ConnectionQualityChanged struct {
		SessionID string            `json:"sessionId"`
		Quality   ConnectionQuality `json:"connectionQuality"`
	}

	ChangePublishQuality struct {
		EnabledLayers []string `json:"enabledLayers"`
	}

	SfuError struct {
		Code        int    `json:"code"`
		Message     string `json:"message"`
		ShouldRetry bool   `json:"shouldRetry"`
	}

	GoAway struct {
		Reason string `json:"reason"`
	}
)

// Event is the tagged union over everything the SFU pushes. Exactly one
// payload pointer is non-nil for a decoded event.
type Event struct {
	Type EventType

	JoinResponse             *JoinResponse
	ParticipantJoined        *ParticipantJoined
	ParticipantLeft          *ParticipantLeft
	TrackPublished           *TrackPublished
	TrackUnpublished         *TrackUnpublished
	AudioLevelChanged        *AudioLevelChanged
	DominantSpeakerChanged   *DominantSpeakerChanged
	ConnectionQualityChanged *ConnectionQualityChanged
	ChangePublishQuality     *ChangePublishQuality
	Error                    *SfuError
	GoAway                   *GoAway
}

// ErrUnknownEvent marks inbound frames with a type this client does not
// handle. Callers log and drop these, they are never fatal.
var ErrUnknownEvent = errors.New("unknown event type")

type eventEnvelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEvent unmarshals one inbound frame into its single variant.
func DecodeEvent(data []byte) (*Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	ev := &Event{Type: env.Type}
	var payload interface{}
	switch env.Type {
	case EventJoinResponse:
		ev.JoinResponse = &JoinResponse{}
		payload = ev.JoinResponse
	case EventParticipantJoined:
		ev.ParticipantJoined = &ParticipantJoined{}
		payload = ev.ParticipantJoined
	case EventParticipantLeft:
		ev.ParticipantLeft = &ParticipantLeft{}
		payload = ev.ParticipantLeft
	case EventTrackPublished:
		ev.TrackPublished = &TrackPublished{}
		payload = ev.TrackPublished
	case EventTrackUnpublished:
		ev.TrackUnpublished = &TrackUnpublished{}
		payload = ev.TrackUnpublished
	case EventAudioLevelChanged:
		ev.AudioLevelChanged = &AudioLevelChanged{}
		payload = ev.AudioLevelChanged
	case EventDominantSpeakerChanged:
		ev.DominantSpeakerChanged = &DominantSpeakerChanged{}
		payload = ev.DominantSpeakerChanged
	case EventConnectionQualityChanged:
		ev.ConnectionQualityChanged = &ConnectionQualityChanged{}
		payload = ev.ConnectionQualityChanged
	case EventChangePublishQuality:
		ev.ChangePublishQuality = &ChangePublishQuality{}
		payload = ev.ChangePublishQuality
	case EventError:
		ev.Error = &SfuError{}
		payload = ev.Error
	case EventGoAway:
		ev.GoAway = &GoAway{}
		payload = ev.GoAway
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	return ev, nil
}
