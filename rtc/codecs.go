package rtc

import (
	"strconv"
	"strings"

	"callkit/signal"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
)

// h264BaselineProfile marks the only h264 variant treated as fully
// preferred; other profiles of the same codec interop poorly across
// browsers and are demoted, not excluded.
const h264BaselineProfile = "profile-level-id=42e01f"

var videoRTCPFeedback = []webrtc.RTCPFeedback{
	{Type: "goog-remb", Parameter: ""},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack", Parameter: ""},
	{Type: "nack", Parameter: "pli"},
}

// senderCapabilities lists the codecs the outbound peer connection can
// offer, mirroring the engine's default registration order.
func senderCapabilities(kind webrtc.RTPCodecType) []webrtc.RTPCodecParameters {
	if kind == webrtc.RTPCodecTypeAudio {
		return []webrtc.RTPCodecParameters{
			{
				RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
				PayloadType:        111,
			},
			{
				RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
				PayloadType:        0,
			},
			{
				RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000},
				PayloadType:        8,
			},
		}
	}
	return []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000, RTCPFeedback: videoRTCPFeedback},
			PayloadType:        96,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000, SDPFmtpLine: "profile-id=0", RTCPFeedback: videoRTCPFeedback},
			PayloadType:        98,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", RTCPFeedback: videoRTCPFeedback},
			PayloadType:        102,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f", RTCPFeedback: videoRTCPFeedback},
			PayloadType:        127,
		},
	}
}

// preferredCodecs orders the capability list for a publish: exact
// matches of the preferred codec first, partially matching variants of
// the same codec second, everything else appended unchanged. Opus is
// always fully preferred for audio.
func preferredCodecs(kind webrtc.RTPCodecType, videoCodec string) []webrtc.RTPCodecParameters {
	capabilities := senderCapabilities(kind)
	matched := make([]webrtc.RTPCodecParameters, 0, len(capabilities))
	partialMatched := make([]webrtc.RTPCodecParameters, 0)
	unmatched := make([]webrtc.RTPCodecParameters, 0)

	for _, c := range capabilities {
		mime := strings.ToLower(c.MimeType)
		if mime == "audio/opus" {
			matched = append(matched, c)
			continue
		}
		if mime != "video/"+strings.ToLower(videoCodec) {
			unmatched = append(unmatched, c)
			continue
		}
		if strings.EqualFold(videoCodec, "h264") && !strings.Contains(c.SDPFmtpLine, h264BaselineProfile) {
			partialMatched = append(partialMatched, c)
			continue
		}
		matched = append(matched, c)
	}

	out := make([]webrtc.RTPCodecParameters, 0, len(capabilities))
	out = append(out, matched...)
	out = append(out, partialMatched...)
	out = append(out, unmatched...)
	return out
}

// genericRecvOnlySDP builds the receive-only capability descriptor that
// rides in the join request. A throwaway peer connection produces it.
func genericRecvOnlySDP(cfg webrtc.Configuration) (string, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		return "", err
	}
	defer func() { _ = pc.Close() }()

	recvonly := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, recvonly); err != nil {
		return "", err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, recvonly); err != nil {
		return "", err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	return offer.SDP, nil
}

// receiverCodecsFromSDP lists the codecs a generic offer declares for
// the given media kind ("audio" or "video").
func receiverCodecsFromSDP(raw, kind string) ([]signal.Codec, error) {
	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(raw)); err != nil {
		return nil, err
	}

	var codecs []signal.Codec
	for _, md := range parsed.MediaDescriptions {
		if md.MediaName.Media != kind {
			continue
		}
		fmtp := make(map[uint8]string)
		for _, attr := range md.Attributes {
			if attr.Key != "fmtp" {
				continue
			}
			if pt, config, ok := splitPayloadAttr(attr.Value); ok {
				fmtp[pt] = config
			}
		}
		for _, attr := range md.Attributes {
			if attr.Key != "rtpmap" {
				continue
			}
			pt, rtpmap, ok := splitPayloadAttr(attr.Value)
			if !ok {
				continue
			}
			name, clockRate := parseRtpmap(rtpmap)
			codecs = append(codecs, signal.Codec{
				PayloadType: pt,
				Name:        name,
				FmtpLine:    fmtp[pt],
				ClockRate:   clockRate,
			})
		}
	}
	return codecs, nil
}

// splitPayloadAttr splits "<payload> <rest>" attribute values.
func splitPayloadAttr(value string) (uint8, string, bool) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	pt, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return 0, "", false
	}
	return uint8(pt), parts[1], true
}

// parseRtpmap decodes "opus/48000/2" into name and clock rate.
func parseRtpmap(value string) (string, uint32) {
	parts := strings.Split(value, "/")
	name := parts[0]
	var clockRate uint32
	if len(parts) > 1 {
		if rate, err := strconv.ParseUint(parts[1], 10, 32); err == nil {
			clockRate = uint32(rate)
		}
	}
	return name, clockRate
}
