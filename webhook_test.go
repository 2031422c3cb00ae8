package milky

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rusq/milky/event"
)

const testEvent = `{"event_type":"message_receive","time":1700000000,"self_id":99,
	"data":{"message_scene":"group","peer_id":10,"message_seq":2,"sender_id":3,"time":1700000000,
	"segments":[{"type":"text","data":{"text":"hi"}}]}}`

// newTestWebhook returns a webhook server over an adapter with a single
// session bound to self_id 99.
func newTestWebhook(t *testing.T, token string) (*Adapter, *webhookServer) {
	t.Helper()
	cfg := &Config{
		Clients: []ClientInfo{{Host: "backend", Port: 8080}},
		Webhook: &WebhookInfo{Host: "127.0.0.1", Port: 9999, Token: token},
	}
	a, err := New(cfg, nil)
	require.NoError(t, err)
	a.registerSelfID(99, a.Sessions()[0])
	return a, newWebhookServer(a, *cfg.Webhook)
}

func deliverReq(token, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/milky", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestWebhook_deliver(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		a, wh := newTestWebhook(t, "sekret")
		rec := httptest.NewRecorder()
		wh.deliver(rec, deliverReq("sekret", testEvent))
		assert.Equal(t, http.StatusNoContent, rec.Code)

		select {
		case in := <-a.events:
			assert.Equal(t, event.TMessageReceive, in.ev.EventType())
			assert.Equal(t, "backend:8080", in.sess.Endpoint())
		default:
			t.Fatal("event was not queued")
		}
	})

	t.Run("token mismatch is dropped", func(t *testing.T) {
		a, wh := newTestWebhook(t, "sekret")
		rec := httptest.NewRecorder()
		wh.deliver(rec, deliverReq("wrong", testEvent))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, a.events)
	})

	t.Run("missing bearer token is dropped", func(t *testing.T) {
		a, wh := newTestWebhook(t, "sekret")
		rec := httptest.NewRecorder()
		wh.deliver(rec, deliverReq("", testEvent))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, a.events)
	})

	t.Run("no token configured accepts all", func(t *testing.T) {
		a, wh := newTestWebhook(t, "")
		rec := httptest.NewRecorder()
		wh.deliver(rec, deliverReq("", testEvent))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Len(t, a.events, 1)
	})

	t.Run("malformed payload", func(t *testing.T) {
		a, wh := newTestWebhook(t, "")
		rec := httptest.NewRecorder()
		wh.deliver(rec, deliverReq("", `{not json`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, a.events)
	})

	t.Run("unknown recipient", func(t *testing.T) {
		a, wh := newTestWebhook(t, "")
		body := strings.Replace(testEvent, `"self_id":99`, `"self_id":1`, 1)
		rec := httptest.NewRecorder()
		wh.deliver(rec, deliverReq("", body))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Empty(t, a.events)
	})
}

func TestWebhook_healthcheck(t *testing.T) {
	_, wh := newTestWebhook(t, "")
	rec := httptest.NewRecorder()
	wh.healthcheck(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
