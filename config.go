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

// In this file: endpoint configuration.

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Environment variables recognised by FromEnv.
const (
	EnvClients = "MILKY_CLIENTS"
	EnvWebhook = "MILKY_WEBHOOK"
)

// ClientInfo describes a single Milky endpoint.  The identity of an endpoint
// is the (host, port) pair; the list of configured endpoints must not contain
// duplicates.  ClientInfo is immutable after load.
type ClientInfo struct {
	Host string `json:"host" toml:"host" validate:"required"`
	Port int    `json:"port" toml:"port" validate:"required,min=1,max=65535"`
	// Token is the shared-secret access token.  If set, it is attached to
	// every API request and to the websocket handshake.  It must never
	// appear in the logs.
	Token string `json:"access_token,omitempty" toml:"access_token"`
}

// Endpoint returns the endpoint identity, "host:port".
func (c ClientInfo) Endpoint() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BaseURL returns the HTTP base URL of the endpoint.
func (c ClientInfo) BaseURL() string {
	return "http://" + c.Endpoint()
}

// APIURL returns the URL of the given API action.
func (c ClientInfo) APIURL(action string) string {
	return c.BaseURL() + "/api/" + action
}

// EventURL returns the websocket URL of the event stream.  The access token,
// if set, rides in the query string, as the protocol requires for websocket
// handshakes.
func (c ClientInfo) EventURL() string {
	u := url.URL{Scheme: "ws", Host: c.Endpoint(), Path: "/event"}
	if c.Token != "" {
		u.RawQuery = url.Values{"access_token": {c.Token}}.Encode()
	}
	return u.String()
}

// String returns the endpoint identity.  The token is deliberately not part
// of the representation, so the value is safe to log.
func (c ClientInfo) String() string {
	return c.Endpoint()
}

// WebhookInfo describes the shared inbound listener for webhook mode.  At
// most one listener exists per process.
type WebhookInfo struct {
	Host string `json:"host" toml:"host" validate:"required"`
	Port int    `json:"port" toml:"port" validate:"required,min=1,max=65535"`
	// Token, if set, must match the Authorization bearer token of every
	// inbound delivery.  Mismatching deliveries are dropped.
	Token string `json:"access_token,omitempty" toml:"access_token"`
}

// Addr returns the listen address of the webhook server.
func (w WebhookInfo) Addr() string {
	return net.JoinHostPort(w.Host, strconv.Itoa(w.Port))
}

// Config is the adapter configuration: the list of client endpoints, plus
// the optional webhook listener.  When Webhook is set, sessions receive
// events over the shared listener instead of dialling out; webhook mode is
// experimental.
type Config struct {
	Clients []ClientInfo `json:"clients" toml:"clients"`
	Webhook *WebhookInfo `json:"webhook,omitempty" toml:"webhook"`
}

var validate = validator.New()

// Validate checks the configuration: every entry must carry a host and a
// valid port, and the (host, port) identities must be unique.  All failures
// are reported as *ConfigError.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Clients))
	for i, ci := range c.Clients {
		if err := validate.Struct(ci); err != nil {
			return configErr(i, err)
		}
		id := ci.Endpoint()
		if _, ok := seen[id]; ok {
			return &ConfigError{Entry: i, Err: fmt.Errorf("duplicate endpoint %s", id)}
		}
		seen[id] = struct{}{}
	}
	if c.Webhook != nil {
		if err := validate.Struct(*c.Webhook); err != nil {
			return configErr(-1, err)
		}
	}
	return nil
}

// configErr converts a validator error into a *ConfigError for the given
// entry.  Entry -1 denotes the webhook block.
func configErr(entry int, err error) error {
	var vErr validator.ValidationErrors
	if errors.As(err, &vErr) && len(vErr) > 0 {
		return &ConfigError{
			Entry: entry,
			Field: vErr[0].Field(),
			Err:   fmt.Errorf("failed on %q validation", vErr[0].Tag()),
		}
	}
	return &ConfigError{Entry: entry, Err: err}
}

// ParseClients parses the JSON array of client endpoint descriptors, i.e.
// [{"host":"localhost","port":8080,"access_token":"..."}].
func ParseClients(data []byte) ([]ClientInfo, error) {
	var cc []ClientInfo
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, &ConfigError{Entry: -1, Err: err}
	}
	return cc, nil
}

// ParseWebhook parses a single JSON webhook descriptor.
func ParseWebhook(data []byte) (*WebhookInfo, error) {
	var wh WebhookInfo
	if err := json.Unmarshal(data, &wh); err != nil {
		return nil, &ConfigError{Entry: -1, Err: err}
	}
	return &wh, nil
}

// FromEnv constructs the configuration from the MILKY_CLIENTS and
// MILKY_WEBHOOK environment variables.  The returned configuration is
// validated.
func FromEnv() (*Config, error) {
	var cfg Config
	if v := os.Getenv(EnvClients); v != "" {
		cc, err := ParseClients([]byte(v))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvClients, err)
		}
		cfg.Clients = cc
	}
	if v := os.Getenv(EnvWebhook); v != "" {
		wh, err := ParseWebhook([]byte(v))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvWebhook, err)
		}
		cfg.Webhook = wh
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
