package rtc

import (
	"callkit/signal"

	"github.com/pion/webrtc/v3"
)

const (
	quarterResolution = "q"
	halfResolution    = "h"
	fullResolution    = "f"
)

// videoLayer is one rung of the simulcast ladder for an outbound video
// source.
type videoLayer struct {
	RID        string
	Width      uint32
	Height     uint32
	MaxBitrate uint32
	Active     bool
}

const defaultSourceBitrate = 1_250_000

// findOptimalVideoLayers computes the simulcast plan for a source of
// the given dimension: quarter, half and full rungs capped by the
// source resolution, each with a quartered bitrate cap relative to the
// rung above. The ladder is ordered small to large, and the full rung
// always remains even for tiny sources.
func findOptimalVideoLayers(dim *signal.Dimension) []videoLayer {
	width, height := uint32(1280), uint32(720)
	if dim != nil && dim.Width > 0 && dim.Height > 0 {
		width, height = dim.Width, dim.Height
	}

	ladder := []videoLayer{
		{RID: quarterResolution, Width: width / 4, Height: height / 4, MaxBitrate: defaultSourceBitrate / 16, Active: true},
		{RID: halfResolution, Width: width / 2, Height: height / 2, MaxBitrate: defaultSourceBitrate / 4, Active: true},
		{RID: fullResolution, Width: width, Height: height, MaxBitrate: defaultSourceBitrate, Active: true},
	}

	// Downscaled rungs that fall below a usable size are dropped.
	layers := make([]videoLayer, 0, len(ladder))
	for _, l := range ladder {
		if l.RID == fullResolution || (l.Width >= 160 && l.Height >= 120) {
			layers = append(layers, l)
		}
	}
	return layers
}

func sendEncodings(layers []videoLayer) []webrtc.RTPEncodingParameters {
	encodings := make([]webrtc.RTPEncodingParameters, 0, len(layers))
	for _, l := range layers {
		encodings = append(encodings, webrtc.RTPEncodingParameters{
			RTPCodingParameters: webrtc.RTPCodingParameters{RID: l.RID},
		})
	}
	return encodings
}
