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
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rusq/milky/event"
)

// maxDeliverySize caps a single webhook delivery body.
const maxDeliverySize = 1 << 20

// webhookServer is the shared inbound listener for webhook mode.  A single
// listener serves all sessions, routing each delivery by the self_id in the
// event envelope.
type webhookServer struct {
	a    *Adapter
	info WebhookInfo
	lg   *slog.Logger
}

func newWebhookServer(a *Adapter, info WebhookInfo) *webhookServer {
	return &webhookServer{
		a:    a,
		info: info,
		lg:   a.opts.lg.With("listener", info.Addr()),
	}
}

// ListenAndServe runs the listener until the context is cancelled.  A bind
// failure is returned to the caller and stops the adapter: a webhook
// configuration that cannot listen serves no session.
func (w *webhookServer) ListenAndServe(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthcheck", w.healthcheck)
	r.Post(w.a.opts.webhookPath, w.deliver)

	srv := &http.Server{
		Addr:    w.info.Addr(),
		Handler: r,
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},
	}

	errC := make(chan error, 1)
	go func() {
		errC <- srv.ListenAndServe()
	}()

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		w.lg.Debug("webhook listener closed")
		return nil
	}
}

func (w *webhookServer) healthcheck(rw http.ResponseWriter, _ *http.Request) {
	rw.WriteHeader(http.StatusOK)
}

// deliver handles one pushed event.  The access token is verified first;
// mismatches are dropped without touching the payload.
func (w *webhookServer) deliver(rw http.ResponseWriter, req *http.Request) {
	if err := w.authorize(req); err != nil {
		// fail closed: drop and log, but never echo the expected token.
		w.lg.Warn("delivery rejected", "remote", req.RemoteAddr, "error", err)
		http.Error(rw, "unauthorized", http.StatusUnauthorized)
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(rw, req.Body, maxDeliverySize))
	if err != nil {
		w.lg.Warn("failed to read delivery", "remote", req.RemoteAddr, "error", err)
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}
	ev, err := event.Decode(raw)
	if err != nil {
		w.lg.Error("failed to parse event", "remote", req.RemoteAddr, "error", err)
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}

	sess := w.a.sessionBySelfID(ev.EventMeta().SelfID)
	if sess == nil {
		w.lg.Warn("delivery for unknown bot, dropping", "self_id", ev.EventMeta().SelfID)
		http.Error(rw, "unknown recipient", http.StatusNotFound)
		return
	}
	w.a.emit(sess, ev)
	rw.WriteHeader(http.StatusNoContent)
}

// authorize verifies the bearer token of the delivery against the
// configured webhook token.
func (w *webhookServer) authorize(req *http.Request) error {
	if w.info.Token == "" {
		return nil
	}
	hdr := req.Header.Get("Authorization")
	got, ok := strings.CutPrefix(hdr, "Bearer ")
	if !ok {
		return &AuthError{Err: errors.New("missing bearer token")}
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(w.info.Token)) != 1 {
		return &AuthError{Err: errors.New("token mismatch")}
	}
	return nil
}
