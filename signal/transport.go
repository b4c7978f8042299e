package signal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"callkit/internal/log"

	"github.com/gorilla/websocket"
	"github.com/lucsky/cuid"
)

var ErrTransportClosed = errors.New("signaling transport closed")

const (
	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 8 * time.Second
)

// Transport is the websocket signaling channel to the SFU. It owns
// reconnection: a broken read loop redials with capped backoff and then
// fires the OnReconnect hook. Joining again is not the transport's
// business, re-subscribing is the session's.
type Transport struct {
	url       string
	token     string
	sessionID string

	dispatcher *Dispatcher

	mu   sync.Mutex // guards conn and writes to it
	conn *websocket.Conn

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once

	keepAliveOnce sync.Once

	onReconnect  atomic.Value // func()
	onDisconnect atomic.Value // func(error)
}

// NewTransport creates an undialed transport and mints the session id
// the SFU will know this connection by.
func NewTransport(url, token string) *Transport {
	return &Transport{
		url:        url,
		token:      token,
		sessionID:  cuid.New(),
		dispatcher: NewDispatcher(),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (t *Transport) SessionID() string { return t.sessionID }

func (t *Transport) Token() string { return t.token }

func (t *Transport) Dispatcher() *Dispatcher { return t.dispatcher }

// Ready is closed once the first dial has succeeded.
func (t *Transport) Ready() <-chan struct{} { return t.ready }

// OnReconnect registers the hook fired after a successful redial.
func (t *Transport) OnReconnect(f func()) {
	t.onReconnect.Store(f)
}

// OnDisconnect registers the hook fired when the read loop breaks.
// Disconnection is an availability signal, not a session failure.
func (t *Transport) OnDisconnect(f func(error)) {
	t.onDisconnect.Store(f)
}

// Dial connects to the SFU and starts the read loop.
func (t *Transport) Dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		log.Errorf("signal dial %s: %v", t.url, err)
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.readyOnce.Do(func() { close(t.ready) })
	go t.readLoop(conn)
	return nil
}

// Send writes one request frame. There is no delivery guarantee beyond
// the websocket write itself.
func (t *Transport) Send(req Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.isClosed() {
		return ErrTransportClosed
	}
	return t.conn.WriteJSON(req)
}

// StartKeepAlive begins the periodic healthcheck. Safe to call more
// than once, only the first call starts the ticker.
func (t *Transport) StartKeepAlive(interval time.Duration) {
	t.keepAliveOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-t.done:
					return
				case <-ticker.C:
					req, err := NewRequest(RequestHealthcheck, HealthcheckRequest{SessionID: t.sessionID})
					if err != nil {
						continue
					}
					if err := t.Send(req); err != nil {
						log.Debugf("keepalive send: %v", err)
					}
				}
			}
		}()
	})
}

// Close tears the transport down. Idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		if t.conn != nil {
			_ = t.conn.Close()
		}
		t.mu.Unlock()
	})
	return nil
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if t.isClosed() {
				return
			}
			log.Warnf("signal read: %v", err)
			if f, ok := t.onDisconnect.Load().(func(error)); ok && f != nil {
				f(err)
			}
			t.redial()
			return
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			// Unknown or malformed frames are dropped, the stream
			// itself stays healthy.
			log.Debugf("signal decode: %v", err)
			continue
		}
		t.dispatcher.Dispatch(ev)
	}
}

func (t *Transport) redial() {
	delay := reconnectBaseDelay
	for {
		if t.isClosed() {
			return
		}
		time.Sleep(delay)
		if delay *= 2; delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}

		conn, _, err := websocket.DefaultDialer.Dial(t.url, nil)
		if err != nil {
			log.Debugf("signal redial: %v", err)
			continue
		}

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()

		log.Infof("signal transport reconnected: %s", t.url)
		go t.readLoop(conn)
		if f, ok := t.onReconnect.Load().(func()); ok && f != nil {
			f()
		}
		return
	}
}
