package rtc

import (
	"testing"

	"callkit/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVideoLayersLadderIsMonotonic(t *testing.T) {
	layers := findOptimalVideoLayers(&signal.Dimension{Width: 1280, Height: 720})
	require.Len(t, layers, 3)

	for i := 1; i < len(layers); i++ {
		assert.GreaterOrEqual(t, layers[i].Width, layers[i-1].Width)
		assert.GreaterOrEqual(t, layers[i].Height, layers[i-1].Height)
		assert.GreaterOrEqual(t, layers[i].MaxBitrate, layers[i-1].MaxBitrate)
	}
	assert.Equal(t, fullResolution, layers[len(layers)-1].RID)
	assert.Equal(t, uint32(1280), layers[len(layers)-1].Width)
}

func TestVideoLayersTinySourceKeepsOneLayer(t *testing.T) {
	layers := findOptimalVideoLayers(&signal.Dimension{Width: 320, Height: 180})
	require.NotEmpty(t, layers)
	assert.Equal(t, fullResolution, layers[len(layers)-1].RID)
	for _, l := range layers {
		if l.RID != fullResolution {
			assert.GreaterOrEqual(t, l.Width, uint32(160))
			assert.GreaterOrEqual(t, l.Height, uint32(120))
		}
	}
}

func TestVideoLayersDefaultDimension(t *testing.T) {
	layers := findOptimalVideoLayers(nil)
	require.NotEmpty(t, layers)
	assert.Equal(t, uint32(1280), layers[len(layers)-1].Width)

	encodings := sendEncodings(layers)
	require.Len(t, encodings, len(layers))
	assert.Equal(t, layers[0].RID, encodings[0].RID)
}
