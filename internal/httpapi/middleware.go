// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nexora/agenda/pkg/authapi"
)

// instrument logs every request once and feeds the HTTP metrics.
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := a.now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		elapsed := a.now().Sub(start)

		a.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds())
		if a.metrics != nil {
			a.metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
			a.metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		}
	})
}

// recoverer turns a handler panic into a JSON 500.
func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
				panic(rec)
			}
			a.logger.ErrorContext(r.Context(), "panic serving request",
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()))
			writeJSON(w, http.StatusInternalServerError, authapi.ErrorResponse{
				Error: msgInternal,
				Code:  authapi.CodeInternal,
			})
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimit applies the limiter to a route, keyed by route and client IP.
// Limiter failures let the request through.
func (a *API) rateLimit(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if a.limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := a.limiter.Allow(r.Context(), route+":"+clientIP(r))
			if err != nil {
				a.logger.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
					"route", route,
					"error", err.Error())
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if !res.Allowed {
				if a.metrics != nil {
					a.metrics.RateLimited.WithLabelValues(route).Inc()
				}
				retryAfter := res.RetryAfter(a.now())
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
				writeJSON(w, http.StatusTooManyRequests, authapi.ErrorResponse{
					Error: msgTooManyRequests,
					Code:  authapi.CodeRateLimited,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
