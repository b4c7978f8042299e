package rtc

import (
	"time"

	"callkit/signal"

	"github.com/pion/webrtc/v3"
)

// Config defines parameters for one call session.
type Config struct {
	CallID   string `json:"callId"`
	CallType string `json:"callType"`

	// ICEServers are handed to both peer connections.
	ICEServers []webrtc.ICEServer `json:"iceServers"`

	JoinTimeout       time.Duration `json:"joinTimeout"`
	KeepAliveInterval time.Duration `json:"keepAliveInterval"`
	StatsInterval     time.Duration `json:"statsInterval"`

	// SubscriptionDebounce bounds how often rapid layout changes may
	// hit the signaling channel.
	SubscriptionDebounce time.Duration `json:"subscriptionDebounce"`

	// ScreenShareDimension is the fixed dimension requested for
	// screen-share subscriptions; screen-share is not simulcast-adapted
	// per viewer.
	ScreenShareDimension signal.Dimension `json:"screenShareDimension"`

	// TrackDiagnostics makes the subscriber read inbound RTP to log
	// muted/unmuted/ended transitions. Leave off when another reader
	// consumes the remote tracks.
	TrackDiagnostics bool `json:"trackDiagnostics"`
}

func (c Config) withDefaults() Config {
	if c.JoinTimeout == 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 25 * time.Second
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = 2 * time.Second
	}
	if c.SubscriptionDebounce == 0 {
		c.SubscriptionDebounce = 1200 * time.Millisecond
	}
	if c.ScreenShareDimension == (signal.Dimension{}) {
		c.ScreenShareDimension = signal.Dimension{Width: 1280, Height: 720}
	}
	return c
}

func (c Config) rtcConfiguration() webrtc.Configuration {
	return webrtc.Configuration{ICEServers: c.ICEServers}
}
