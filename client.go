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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/rusq/milky/internal/network"
)

// apiClient makes authenticated HTTP API calls to a single endpoint.  Calls
// are rate limited and transient failures are retried.
type apiClient struct {
	info    ClientInfo
	cl      *http.Client
	lim     *rate.Limiter
	retries int
}

func newAPIClient(info ClientInfo, cl *http.Client, limits Limits) *apiClient {
	return &apiClient{
		info:    info,
		cl:      cl,
		lim:     network.NewLimiter(limits.RequestsPerMinute, limits.Burst, 0),
		retries: limits.Retries,
	}
}

// envelope is the response envelope of an API call.
type envelope struct {
	Status  string          `json:"status"` // "ok" or "failed"
	Retcode int64           `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Call invokes the named action with the given parameters, decoding the data
// portion of the response envelope into result, unless result is nil.  A
// failed envelope is returned as *APIError; transport failures as
// *network.StatusError after the retries are exhausted.
func (c *apiClient) Call(ctx context.Context, action string, params any, result any) error {
	var body []byte
	if params != nil {
		var err error
		if body, err = json.Marshal(params); err != nil {
			return fmt.Errorf("call %s: %w", action, err)
		}
	} else {
		body = []byte("{}")
	}

	return network.WithRetry(ctx, c.lim, c.retries, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.info.APIURL(action), bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.info.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.info.Token)
		}

		resp, err := c.cl.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return &AuthError{Err: &network.StatusError{Code: resp.StatusCode, Status: resp.Status}}
		case resp.StatusCode != http.StatusOK:
			return &network.StatusError{Code: resp.StatusCode, Status: resp.Status}
		}

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if len(payload) == 0 {
			return ErrEmptyResponse
		}
		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return fmt.Errorf("call %s: %w", action, err)
		}
		if env.Status != "ok" {
			return &APIError{Retcode: env.Retcode, Message: env.Message}
		}
		if result != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, result); err != nil {
				return fmt.Errorf("call %s: decoding data: %w", action, err)
			}
		}
		return nil
	})
}
