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

// Package milky is a client library for the Milky instant messaging
// protocol.  It maintains one session per configured endpoint, either
// dialling out over websocket (client mode) or accepting pushed deliveries
// on a shared HTTP listener (webhook mode, experimental), and hands the
// decoded events to a caller-supplied handler.
package milky

import (
	"context"
	"errors"
	"regexp"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rusq/milky/event"
)

// Handler receives inbound events.  It is invoked sequentially from the
// dispatch loop; a handler that needs concurrency should start its own
// goroutines.
type Handler interface {
	HandleEvent(ctx context.Context, s *Session, ev event.Event)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, s *Session, ev event.Event)

func (f HandlerFunc) HandleEvent(ctx context.Context, s *Session, ev event.Event) {
	f(ctx, s, ev)
}

// inbound is one decoded event together with the session it arrived on.
type inbound struct {
	sess *Session
	ev   event.Event
}

// Adapter is the endpoint registry and session manager.  Zero value is not
// usable, must be initialised with New.
type Adapter struct {
	cfg     Config
	opts    options
	handler Handler

	sessions map[string]*Session // keyed by endpoint identity
	order    []string            // endpoint identities in configuration order

	selfmu sync.RWMutex
	byself map[int64]*Session

	nickRe *regexp.Regexp
	events chan inbound
}

// New creates the adapter for the given configuration.  The configuration is
// validated; a *ConfigError is returned on a malformed entry, and no
// sessions are created.  Sessions are created in the disconnected state, one
// per configured endpoint; nothing connects until Run.
func New(cfg *Config, h Handler, opt ...Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Clients) == 0 {
		return nil, ErrNoClients
	}

	opts := defOptions()
	for _, o := range opt {
		o(&opts)
	}

	a := &Adapter{
		cfg:      *cfg,
		opts:     opts,
		handler:  h,
		sessions: make(map[string]*Session, len(cfg.Clients)),
		order:    make([]string, 0, len(cfg.Clients)),
		byself:   make(map[int64]*Session),
		nickRe:   nicknameRe(opts.nicknames),
		events:   make(chan inbound, opts.evtBufSz),
	}
	for _, ci := range cfg.Clients {
		s := newSession(a, ci)
		a.sessions[ci.Endpoint()] = s
		a.order = append(a.order, ci.Endpoint())
	}
	return a, nil
}

// Run starts all sessions and the dispatch loop, and blocks until the
// context is cancelled.  Sessions are independent: a failing endpoint keeps
// retrying with backoff without affecting the others.  In webhook mode Run
// also starts the shared listener; a listener that cannot bind is fatal.
func (a *Adapter) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.dispatch(ctx)
		return nil
	})

	for _, id := range a.order {
		s := a.sessions[id]
		g.Go(func() error {
			if a.cfg.Webhook != nil {
				s.runWebhook(ctx)
			} else {
				s.run(ctx)
			}
			return nil
		})
	}

	if a.cfg.Webhook != nil {
		wh := newWebhookServer(a, *a.cfg.Webhook)
		g.Go(func() error {
			return wh.ListenAndServe(ctx)
		})
	}

	err := g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close closes all sessions.
func (a *Adapter) Close() error {
	for _, id := range a.order {
		_ = a.sessions[id].Close()
	}
	return nil
}

// Session returns the session for the given endpoint identity ("host:port").
// It returns ErrSessionNotFound if the endpoint is not configured.
func (a *Adapter) Session(endpoint string) (*Session, error) {
	s, ok := a.sessions[endpoint]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Sessions returns all sessions in configuration order.
func (a *Adapter) Sessions() []*Session {
	ss := make([]*Session, 0, len(a.order))
	for _, id := range a.order {
		ss = append(ss, a.sessions[id])
	}
	return ss
}

// registerSelfID binds the bot account number to a session, so that webhook
// deliveries can be routed by the identity in the payload envelope.
func (a *Adapter) registerSelfID(id int64, s *Session) {
	a.selfmu.Lock()
	defer a.selfmu.Unlock()
	a.byself[id] = s
}

// sessionBySelfID returns the session serving the given bot account, or nil.
func (a *Adapter) sessionBySelfID(id int64) *Session {
	a.selfmu.RLock()
	defer a.selfmu.RUnlock()
	return a.byself[id]
}

// emit queues the event for dispatch.  If the buffer is full the event is
// dropped with an error log entry rather than blocking the session's read
// loop.
func (a *Adapter) emit(s *Session, ev event.Event) {
	select {
	case a.events <- inbound{sess: s, ev: ev}:
	default:
		a.opts.lg.Error("event buffer full, dropping event",
			"endpoint", s.Endpoint(), "event_type", ev.EventType())
	}
}

// dispatch is the inbound pump: it enriches message events and invokes the
// handler.
func (a *Adapter) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-a.events:
			if me, ok := in.ev.(*event.Message); ok && a.opts.preprocess {
				in.sess.preprocess(ctx, me)
			}
			if a.handler != nil {
				a.handler.HandleEvent(ctx, in.sess, in.ev)
			}
		}
	}
}
