package rtc

import "errors"

var (
	ErrAlreadyJoined            = errors.New("call already joined")
	ErrNotJoined                = errors.New("call not joined")
	ErrJoinTimeout              = errors.New("join handshake timed out")
	ErrMissingTrack             = errors.New("requested track kind missing in media source")
	ErrSessionClosed            = errors.New("call session closed")
	errPeerConnectionInitFailed = errors.New("pc init failed")
)
