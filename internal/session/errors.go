// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package session

import (
	"strings"

	"github.com/samber/oops"

	"github.com/nexora/agenda/internal/auth"
	"github.com/nexora/agenda/pkg/authapi"
	"github.com/nexora/agenda/pkg/errutil"
)

func errUnauthenticated() error {
	return oops.Code(authapi.CodeUnauthenticated).Errorf("Non authentifie")
}

func errRefreshInProgress() error {
	return oops.Code(authapi.CodeRefreshInProgress).Errorf("refresh already in progress")
}

func errPasswordChangeRequired() error {
	return oops.Code(authapi.CodePasswordChangeRequired).Errorf("Changement de mot de passe requis")
}

func errSuperseded() error {
	return oops.Code(authapi.CodeUnauthenticated).Errorf("session ended while the request was in flight")
}

// isTokenRejection reports whether err means the server did not accept the
// access token, so a refresh may help.
func isTokenRejection(err error) bool {
	switch errutil.Code(err) {
	case auth.CodeTokenExpired, auth.CodeTokenInvalid, auth.CodeTokenMissing:
		return true
	default:
		return false
	}
}

// Message returns the text to show a user for err. Errors without a
// machine code, and network failures, get fallback.
func Message(err error, fallback string) string {
	if err == nil {
		return ""
	}
	switch errutil.Code(err) {
	case "", authapi.CodeNetwork, authapi.CodeInternal, authapi.CodeMalformedResponse:
		return fallback
	case auth.CodePasswordPolicy:
		if violations := auth.Violations(err); len(violations) > 0 {
			return "Mot de passe non conforme: " + strings.Join(violations, ", ")
		}
		return err.Error()
	default:
		return err.Error()
	}
}
