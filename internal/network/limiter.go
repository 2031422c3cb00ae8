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

package network

import (
	"time"

	"golang.org/x/time/rate"
)

// Milky endpoints do not publish rate limit tiers, so the limiter is
// expressed in requests per minute with an optional boost, the boost being a
// flat addition to the per-minute rate.

// DefRequestsPerMinute is the default API request rate.
const DefRequestsPerMinute = 120

// NewLimiter returns a throttler with rateLimit requests per minute.
// Optionally the caller may specify the boost.
func NewLimiter(perMinute int, burst uint, boost int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = DefRequestsPerMinute
	}
	if burst == 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(every(perMinute, boost)), int(burst))
}

func every(perMinute, boost int) time.Duration {
	n := perMinute + boost
	if n <= 0 {
		n = perMinute
	}
	return time.Minute / time.Duration(n)
}
