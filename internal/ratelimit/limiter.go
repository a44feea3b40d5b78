// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

// Package ratelimit implements a Redis-backed sliding-window limiter.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// slidingWindow trims entries older than the window, then admits the
// request when fewer than limit remain. The reply is {allowed, remaining,
// reset_at_ms}; reset_at_ms is 0 when the request was admitted.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local window_ms = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local current = redis.call('ZCARD', key)

if current < limit then
	local counter = redis.call('INCR', key .. ':seq')
	redis.call('ZADD', key, now, now .. ':' .. counter)
	local ttl = math.ceil(window_ms / 1000)
	redis.call('EXPIRE', key, ttl)
	redis.call('EXPIRE', key .. ':seq', ttl)
	return {1, limit - current - 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local reset_at = 0
if oldest and #oldest >= 2 then
	reset_at = tonumber(oldest[2]) + window_ms
end
return {0, 0, reset_at}
`)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// RetryAfter is how long a rejected caller should wait, rounded up to a
// whole second and never less than one.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	secs := (r.ResetAt.Sub(now) + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

// Limiter admits at most limit requests per key within a sliding window.
type Limiter struct {
	client redis.Scripter
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// New creates a Limiter. Keys are stored under prefix.
func New(client redis.Scripter, prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records a request for key and reports whether it is admitted.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	now := l.now()
	windowStart := now.Add(-l.window)

	reply, err := slidingWindow.Run(ctx, l.client, []string{l.prefix + key},
		now.UnixMilli(), windowStart.UnixMilli(), l.limit, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, oops.Code("RATELIMIT_SCRIPT_FAILED").With("key", key).Wrap(err)
	}
	if len(reply) != 3 {
		return nil, oops.Code("RATELIMIT_SCRIPT_FAILED").
			With("key", key).
			Errorf("unexpected script reply length %d", len(reply))
	}

	resetAt := now.Add(l.window)
	if reply[2] > 0 {
		resetAt = time.UnixMilli(reply[2])
	}
	return &Result{
		Allowed:   reply[0] == 1,
		Remaining: int(reply[1]),
		Limit:     l.limit,
		ResetAt:   resetAt,
	}, nil
}

// Open parses a redis:// URL and pings the server.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_URL_INVALID").Wrap(err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", opts.Addr).Wrap(err)
	}
	return client, nil
}
