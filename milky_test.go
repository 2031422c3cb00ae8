package milky

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rusq/milky/event"
)

func testConfig(clients ...ClientInfo) *Config {
	return &Config{Clients: clients}
}

func TestNew(t *testing.T) {
	t.Run("one session per endpoint, input order", func(t *testing.T) {
		cfg := testConfig(
			ClientInfo{Host: "c", Port: 3},
			ClientInfo{Host: "a", Port: 1},
			ClientInfo{Host: "b", Port: 2},
		)
		a, err := New(cfg, nil)
		require.NoError(t, err)
		ss := a.Sessions()
		require.Len(t, ss, 3)
		assert.Equal(t, "c:3", ss[0].Endpoint())
		assert.Equal(t, "a:1", ss[1].Endpoint())
		assert.Equal(t, "b:2", ss[2].Endpoint())
		for _, s := range ss {
			assert.Equal(t, StateDisconnected, s.State())
		}
	})
	t.Run("missing port produces zero sessions", func(t *testing.T) {
		a, err := New(testConfig(ClientInfo{Host: "localhost"}), nil)
		var ce *ConfigError
		assert.ErrorAs(t, err, &ce)
		assert.Nil(t, a)
	})
	t.Run("empty configuration is refused", func(t *testing.T) {
		_, err := New(testConfig(), nil)
		assert.ErrorIs(t, err, ErrNoClients)
	})
	t.Run("duplicate identity is refused", func(t *testing.T) {
		_, err := New(testConfig(
			ClientInfo{Host: "localhost", Port: 8080},
			ClientInfo{Host: "localhost", Port: 8080},
		), nil)
		var ce *ConfigError
		assert.ErrorAs(t, err, &ce)
	})
}

func TestAdapter_Session(t *testing.T) {
	a, err := New(testConfig(ClientInfo{Host: "localhost", Port: 8080}), nil)
	require.NoError(t, err)

	t.Run("known endpoint", func(t *testing.T) {
		s, err := a.Session("localhost:8080")
		require.NoError(t, err)
		assert.Equal(t, "localhost:8080", s.Endpoint())
	})
	t.Run("unknown endpoint", func(t *testing.T) {
		_, err := a.Session("localhost:9999")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestSession_CloseIndependence(t *testing.T) {
	// closing one session must not change the state of any other.
	a, err := New(testConfig(
		ClientInfo{Host: "one", Port: 1},
		ClientInfo{Host: "two", Port: 2},
	), nil)
	require.NoError(t, err)

	one, err := a.Session("one:1")
	require.NoError(t, err)
	two, err := a.Session("two:2")
	require.NoError(t, err)

	require.NoError(t, one.Close())
	assert.Equal(t, StateClosed, one.State())
	assert.Equal(t, StateDisconnected, two.State())

	// closing is idempotent
	require.NoError(t, one.Close())
	assert.Equal(t, StateClosed, one.State())
}

func TestAdapter_Run_connecting(t *testing.T) {
	// nothing listens on the endpoint, so right after start the session must
	// sit in the connecting state, retrying.
	cfg := testConfig(ClientInfo{Host: "localhost", Port: 8080, Token: "xxx"})
	a, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()

	s, err := a.Session("localhost:8080")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.State() == StateConnecting
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("adapter did not stop")
	}
	assert.Equal(t, StateClosed, s.State())
}

func TestSession_outboundUnconnected(t *testing.T) {
	a, err := New(testConfig(
		ClientInfo{Host: "one", Port: 1},
		ClientInfo{Host: "two", Port: 2},
	), nil)
	require.NoError(t, err)

	s, err := a.Session("one:1")
	require.NoError(t, err)

	_, err = s.SendPrivateMessage(context.Background(), 123, nil)
	assert.ErrorIs(t, err, ErrSessionClosed)

	// the failure affects no other session
	two, err := a.Session("two:2")
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, two.State())
}

func TestAdapter_emit(t *testing.T) {
	t.Run("buffer overflow drops, not blocks", func(t *testing.T) {
		a, err := New(testConfig(ClientInfo{Host: "h", Port: 1}), nil, WithEventBuffer(1))
		require.NoError(t, err)
		s := a.Sessions()[0]

		evt := &event.Recall{}
		a.emit(s, evt) // fills the buffer
		finished := make(chan struct{})
		go func() {
			a.emit(s, evt) // must not block
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(time.Second):
			t.Fatal("emit blocked on a full buffer")
		}
	})
}

func TestAdapter_dispatch(t *testing.T) {
	got := make(chan event.Event, 1)
	h := HandlerFunc(func(_ context.Context, _ *Session, ev event.Event) {
		got <- ev
	})
	a, err := New(testConfig(ClientInfo{Host: "h", Port: 1}), h, WithoutPreprocessing())
	require.NoError(t, err)
	s := a.Sessions()[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		a.dispatch(ctx)
		close(stopped)
	}()

	want := &event.FriendRequest{Meta: event.Meta{SelfID: 42}}
	a.emit(s, want)
	select {
	case ev := <-got:
		assert.Same(t, want, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	cancel()
	<-stopped
}
