package rtc

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferredCodecsH264BaselineFirst(t *testing.T) {
	ordered := preferredCodecs(webrtc.RTPCodecTypeVideo, "h264")
	require.NotEmpty(t, ordered)

	baselineIdx, otherH264Idx, firstNonH264Idx := -1, -1, -1
	for i, c := range ordered {
		switch {
		case mimeTypeEqual(c.MimeType, webrtc.MimeTypeH264):
			if strings.Contains(c.SDPFmtpLine, "profile-level-id=42e01f") {
				baselineIdx = i
			} else if otherH264Idx == -1 {
				otherH264Idx = i
			}
		default:
			if firstNonH264Idx == -1 {
				firstNonH264Idx = i
			}
		}
	}

	require.NotEqual(t, -1, baselineIdx)
	require.NotEqual(t, -1, otherH264Idx)
	require.NotEqual(t, -1, firstNonH264Idx)
	assert.Less(t, baselineIdx, otherH264Idx, "interoperable h264 profile must lead")
	assert.Less(t, otherH264Idx, firstNonH264Idx, "demoted h264 variants precede foreign codecs")
}

func TestPreferredCodecsKeepsFullCapabilitySet(t *testing.T) {
	ordered := preferredCodecs(webrtc.RTPCodecTypeVideo, "vp8")
	assert.Len(t, ordered, len(senderCapabilities(webrtc.RTPCodecTypeVideo)))
	assert.True(t, mimeTypeEqual(ordered[0].MimeType, webrtc.MimeTypeVP8))
}

func TestPreferredCodecsOpusLeadsAudio(t *testing.T) {
	ordered := preferredCodecs(webrtc.RTPCodecTypeAudio, "")
	require.NotEmpty(t, ordered)
	assert.True(t, mimeTypeEqual(ordered[0].MimeType, webrtc.MimeTypeOpus))
}

const sampleSDP = `v=0
o=- 0 0 IN IP4 127.0.0.1
s=-
t=0 0
m=audio 9 UDP/TLS/RTP/SAVPF 111
a=rtpmap:111 opus/48000/2
a=fmtp:111 minptime=10;useinbandfec=1
m=video 9 UDP/TLS/RTP/SAVPF 96 102
a=rtpmap:96 VP8/90000
a=rtpmap:102 H264/90000
a=fmtp:102 profile-level-id=42e01f
`

func TestReceiverCodecsFromSDP(t *testing.T) {
	audio, err := receiverCodecsFromSDP(sampleSDP, "audio")
	require.NoError(t, err)
	require.Len(t, audio, 1)
	assert.Equal(t, "opus", audio[0].Name)
	assert.Equal(t, uint8(111), audio[0].PayloadType)
	assert.Equal(t, uint32(48000), audio[0].ClockRate)
	assert.Equal(t, "minptime=10;useinbandfec=1", audio[0].FmtpLine)

	video, err := receiverCodecsFromSDP(sampleSDP, "video")
	require.NoError(t, err)
	require.Len(t, video, 2)
	assert.Equal(t, "VP8", video[0].Name)
	assert.Equal(t, "profile-level-id=42e01f", video[1].FmtpLine)
}
