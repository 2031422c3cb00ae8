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
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned by outbound routing when no session
	// matches the requested endpoint identity.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned by outbound calls when the target session
	// is not in the connected state.
	ErrSessionClosed = errors.New("session is not connected")
	// ErrEmptyResponse is returned when the endpoint responds with an empty
	// body to an API call.
	ErrEmptyResponse = errors.New("empty response")
	// ErrNoClients is returned by New when the configuration contains no
	// endpoints.
	ErrNoClients = errors.New("no endpoints configured")
)

// ConfigError reports an invalid endpoint configuration entry.  It is fatal
// at startup: New refuses a configuration that carries one.
type ConfigError struct {
	Entry int    // position of the entry in the client list
	Field string // offending field, if known
	Err   error
}

func (ce *ConfigError) Error() string {
	if ce.Field != "" {
		return fmt.Sprintf("config entry %d: field %q: %s", ce.Entry, ce.Field, ce.Err)
	}
	return fmt.Sprintf("config entry %d: %s", ce.Entry, ce.Err)
}

func (ce *ConfigError) Unwrap() error {
	return ce.Err
}

// AuthError is the error returned when an inbound delivery fails the access
// token check.  The delivery is dropped; the error is never fatal.
type AuthError struct {
	Err error
}

func (ae *AuthError) Error() string {
	return fmt.Sprintf("failed to authenticate: %s", ae.Err)
}

func (ae *AuthError) Unwrap() error {
	return ae.Err
}

func (ae *AuthError) Is(target error) bool {
	return target == ae.Err
}

// APIError is a failure envelope returned by the endpoint: the HTTP exchange
// succeeded, but the action did not.
type APIError struct {
	Retcode int64
	Message string
}

func (ae *APIError) Error() string {
	return fmt.Sprintf("api error: retcode %d: %s", ae.Retcode, ae.Message)
}
