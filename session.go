// Copyright (c) 2021-2026 Rustam Gilyazov and Contributors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package milky

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rusq/milky/event"
	"github.com/rusq/milky/internal/network"
)

// State is the connection state of a session.
type State int32

const (
	// StateDisconnected is the initial state of a session, before Run.
	StateDisconnected State = iota
	// StateConnecting means the session is establishing, or re-establishing,
	// its transport.
	StateConnecting
	// StateConnected means events are flowing.
	StateConnected
	// StateClosed is terminal: the session was shut down or removed.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// reconnectInterval is the base delay before redialling a dropped
// connection.
const reconnectInterval = 3 * time.Second

// Session is the runtime state of one configured endpoint.  A session owns
// its transport: in client mode a websocket connection that it dials and
// redials, in webhook mode a registration with the shared listener.  Its
// state is mutated only by its owning goroutine; reads are safe from
// anywhere.
type Session struct {
	info   ClientInfo
	client *apiClient
	adpt   *Adapter
	lg     *slog.Logger

	state  atomic.Int32
	selfID atomic.Int64

	mu     sync.Mutex // guards conn
	conn   *websocket.Conn
	closed chan struct{}
	once   sync.Once
}

func newSession(a *Adapter, info ClientInfo) *Session {
	return &Session{
		info:   info,
		client: newAPIClient(info, a.opts.httpCl, a.opts.limits),
		adpt:   a,
		lg:     a.opts.lg.With("endpoint", info.Endpoint()),
		closed: make(chan struct{}),
	}
}

// Endpoint returns the endpoint identity the session is bound to.
func (s *Session) Endpoint() string {
	return s.info.Endpoint()
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// SelfID returns the account number of the bot behind the endpoint, or zero
// if it is not yet known.  In client mode it is learned from the first
// received event, in webhook mode from get_login_info at startup.
func (s *Session) SelfID() int64 {
	return s.selfID.Load()
}

func (s *Session) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.lg.Debug("session state", "from", old, "to", st)
	}
}

// Close shuts the session down.  It is idempotent and does not affect any
// other session.
func (s *Session) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.setState(StateClosed)
		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}
	})
	return nil
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// run is the client-mode connection loop: dial, read until failure, back
// off, redial.  It returns when the context is cancelled or the session is
// closed.
func (s *Session) run(ctx context.Context) {
	defer s.Close()
	s.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: s.adpt.opts.handshakeTimeout}
	for attempt := 0; ; attempt++ {
		if s.isClosed() || ctx.Err() != nil {
			return
		}
		conn, resp, err := dialer.DialContext(ctx, s.info.EventURL(), nil)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			s.lg.ErrorContext(ctx, "websocket dial failed, will retry", "error", err, "status", status)
			if !s.sleep(ctx, backoff(attempt)) {
				return
			}
			continue
		}
		s.setConn(conn)
		s.setState(StateConnected)
		s.lg.DebugContext(ctx, "websocket connection established")
		attempt = -1 // successful dial resets the backoff

		s.readLoop(ctx, conn)

		s.setConn(nil)
		_ = conn.Close()
		if s.isClosed() || ctx.Err() != nil {
			return
		}
		s.setState(StateConnecting)
		if !s.sleep(ctx, reconnectInterval) {
			return
		}
	}
}

// readLoop reads events off the connection until it errors.
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if s.isClosed() || ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.lg.ErrorContext(ctx, "websocket closed by peer", "error", err)
			} else {
				s.lg.ErrorContext(ctx, "error reading from websocket, will reconnect", "error", err)
			}
			return
		}
		ev, err := event.Decode(raw)
		if err != nil {
			s.lg.ErrorContext(ctx, "failed to parse event", "error", err)
			continue
		}
		s.sighted(ev)
		s.adpt.emit(s, ev)
	}
}

// sighted records the self_id of the bot when it is first seen on the
// stream.
func (s *Session) sighted(ev event.Event) {
	id := ev.EventMeta().SelfID
	if id == 0 {
		return
	}
	if s.selfID.CompareAndSwap(0, id) {
		s.adpt.registerSelfID(id, s)
		s.lg.Info("bot connected", "self_id", id)
	}
}

// runWebhook is the webhook-mode startup loop: resolve the bot identity over
// the HTTP API so the shared listener can route deliveries to this session,
// then wait for shutdown.
func (s *Session) runWebhook(ctx context.Context) {
	defer s.Close()
	s.setState(StateConnecting)

	for attempt := 0; ; attempt++ {
		if s.isClosed() || ctx.Err() != nil {
			return
		}
		var li LoginInfo
		if err := s.client.Call(ctx, "get_login_info", nil, &li); err != nil {
			s.lg.ErrorContext(ctx, "cannot resolve login info, will retry", "error", err)
			if !s.sleep(ctx, backoff(attempt)) {
				return
			}
			continue
		}
		s.selfID.Store(li.UIN)
		s.adpt.registerSelfID(li.UIN, s)
		s.setState(StateConnected)
		s.lg.Info("bot registered", "self_id", li.UIN)
		break
	}

	select {
	case <-ctx.Done():
	case <-s.closed:
	}
}

// sleep waits for the duration, the context or the session closing,
// whichever comes first, and reports whether the session should carry on.
func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	case <-t.C:
		return true
	}
}

// backoff returns the delay before the n-th consecutive failed attempt.  The
// first retry happens after the base reconnect interval, subsequent ones
// back off exponentially.
func backoff(attempt int) time.Duration {
	if attempt == 0 {
		return reconnectInterval
	}
	return network.ExpWait(attempt - 1)
}
