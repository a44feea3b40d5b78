// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package authapi

import (
	"net/http"
	"strings"
)

// Codes produced outside the account service.
const (
	// CodeRateLimited is returned with 429 when a client exceeds its budget.
	CodeRateLimited = "RATE_LIMITED"
	// CodeInternal is returned with 500 for panics and unmapped failures.
	CodeInternal = "INTERNAL_ERROR"
	// CodeMalformedResponse marks a response the client could not decode.
	CodeMalformedResponse = "RESPONSE_MALFORMED"
)

// Session client codes. They never travel over the wire.
const (
	CodeUnauthenticated        = "SESSION_UNAUTHENTICATED"
	CodePasswordChangeRequired = "SESSION_PASSWORD_CHANGE_REQUIRED"
	CodeRefreshInProgress      = "SESSION_REFRESH_IN_PROGRESS"
	CodeNetwork                = "SESSION_NETWORK"
	CodePasswordMismatch       = "SESSION_PASSWORD_MISMATCH"
)

const bearerPrefix = "Bearer "

// BearerToken extracts the token from the Authorization header of r. A
// header without the Bearer prefix is taken as the token itself.
func BearerToken(r *http.Request) string {
	return strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), bearerPrefix))
}

// SetBearer sets the Authorization header to carry token.
func SetBearer(h http.Header, token string) {
	h.Set("Authorization", bearerPrefix+token)
}
