package rtc

import (
	"strings"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
)

type atomicBool int32

func (a *atomicBool) set(value bool) {
	var i int32
	if value {
		i = 1
	}
	atomic.StoreInt32((*int32)(a), i)
}

func (a *atomicBool) get() bool {
	return atomic.LoadInt32((*int32)(a)) != 0
}

// mimeTypeEqual compares codec mime types the way SDP does, case
// insensitively.
func mimeTypeEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}

func newPeerConnection(cfg webrtc.Configuration) (*webrtc.PeerConnection, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, errPeerConnectionInitFailed
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(me))
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, errPeerConnectionInitFailed
	}
	return pc, nil
}
