package milky

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rusq/milky/event"
)

var upgrader = websocket.Upgrader{}

// wsEventServer is a fake Milky endpoint that serves the event stream: it
// upgrades /event and pushes every payload from the send channel.
func wsEventServer(t *testing.T, wantToken string, send <-chan string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/event" {
			http.NotFound(w, r)
			return
		}
		if wantToken != "" && r.URL.Query().Get("access_token") != wantToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for payload := range send {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				return
			}
		}
	}))
}

func TestSession_run(t *testing.T) {
	send := make(chan string)
	defer close(send)
	srv := wsEventServer(t, "sekret", send)
	defer srv.Close()

	a, err := New(testConfig(testClientInfo(t, srv, "sekret")), nil)
	require.NoError(t, err)
	s := a.Sessions()[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	finished := make(chan struct{})
	go func() {
		s.run(ctx)
		close(finished)
	}()

	require.Eventually(t, func() bool {
		return s.State() == StateConnected
	}, 5*time.Second, 10*time.Millisecond)

	// an event on the stream lands in the adapter's inbound queue and binds
	// the bot identity to the session.
	send <- `{"event_type":"message_receive","time":1700000000,"self_id":99,
		"data":{"message_scene":"friend","peer_id":1,"message_seq":2,"sender_id":1,"time":1700000000,
		"segments":[{"type":"text","data":{"text":"hello"}}]}}`

	select {
	case in := <-a.events:
		me, ok := in.ev.(*event.Message)
		require.True(t, ok, "expected a message event, got %T", in.ev)
		assert.Equal(t, int64(99), me.SelfID)
		assert.Equal(t, "hello", me.Data.Segments.JoinedText())
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
	assert.Equal(t, int64(99), s.SelfID())
	assert.Same(t, s, a.sessionBySelfID(99))

	// garbage on the stream is dropped, the connection stays up
	send <- `{not json`
	assert.Equal(t, StateConnected, s.State())

	cancel()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
	assert.Equal(t, StateClosed, s.State())
}

func TestSession_runReconnects(t *testing.T) {
	// the endpoint drops the connection after the upgrade; the session must
	// go back to connecting and redial.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	a, err := New(testConfig(testClientInfo(t, srv, "")), nil)
	require.NoError(t, err)
	s := a.Sessions()[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.run(ctx)

	require.Eventually(t, func() bool {
		return s.State() == StateConnecting
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSession_closeStopsRun(t *testing.T) {
	send := make(chan string)
	defer close(send)
	srv := wsEventServer(t, "", send)
	defer srv.Close()

	a, err := New(testConfig(testClientInfo(t, srv, "")), nil)
	require.NoError(t, err)
	s := a.Sessions()[0]

	finished := make(chan struct{})
	go func() {
		s.run(context.Background())
		close(finished)
	}()
	require.Eventually(t, func() bool {
		return s.State() == StateConnected
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Close())
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after Close")
	}
	assert.Equal(t, StateClosed, s.State())
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateClosed, "closed"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
