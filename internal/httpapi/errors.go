// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package httpapi

import (
	"net/http"
	"strings"

	"github.com/nexora/agenda/internal/auth"
	"github.com/nexora/agenda/pkg/authapi"
	"github.com/nexora/agenda/pkg/errutil"
)

// User-facing messages shared by several endpoints.
const (
	msgInvalidCredentials = "Email ou mot de passe incorrect"
	msgIncorrectPassword  = "Mot de passe actuel incorrect"
	msgPolicyPrefix       = "Mot de passe non conforme: "
	msgSamePassword       = "Le nouveau mot de passe doit etre different de l'ancien"
	msgEmailTaken         = "Cet email est deja utilise"
	msgInvalidEmail       = "Format d'email invalide"
	msgWeakPassword       = "Le mot de passe doit contenir au moins 6 caracteres"
	msgTokenMissing       = "Token requis"
	msgTokenInvalid       = "Token invalide"
	msgTokenInvalidOrGone = "Token invalide ou expire"
	msgRefreshInvalid     = "Refresh token invalide ou expire"
	msgUserNotFound       = "Utilisateur non trouve"
	msgTooManyRequests    = "Trop de tentatives, reessayez plus tard"
	msgInternal           = "Erreur interne du serveur"
)

// endpoint names an operation and the messages that differ between
// operations: validation is shown when required fields are missing,
// failure for storage and unexpected errors, and tokenRejected for unknown
// or expired access tokens. tokenMissingStatus overrides 401 for a missing
// bearer token.
type endpoint struct {
	name               string
	validation         string
	failure            string
	tokenRejected      string
	tokenMissingStatus int
}

var (
	epRegister = endpoint{
		name:       "register",
		validation: "Tous les champs sont requis",
		failure:    "Erreur lors de l'inscription",
	}

	epLogin = endpoint{
		name:       "login",
		validation: "Email et mot de passe requis",
		failure:    "Erreur lors de la connexion",
	}

	epMe = endpoint{
		name:          "me",
		failure:       "Erreur lors de la verification",
		tokenRejected: msgTokenInvalidOrGone,
	}

	epRefresh = endpoint{
		name:       "refresh",
		validation: "Refresh token requis",
		failure:    "Erreur lors du rafraichissement du token",
	}

	epLogout = endpoint{
		name:               "logout",
		failure:            "Erreur lors de la deconnexion",
		tokenMissingStatus: http.StatusBadRequest,
	}

	epChangePassword = endpoint{
		name:          "change_password",
		validation:    "Mot de passe actuel et nouveau mot de passe requis",
		failure:       "Erreur lors du changement de mot de passe",
		tokenRejected: msgTokenInvalid,
	}
)

// errorResponse maps an auth error to its status and body. The boolean is
// false for errors that are not part of the auth contract; those are
// server faults.
func (e endpoint) errorResponse(err error) (int, authapi.ErrorResponse, bool) {
	code := errutil.Code(err)
	body := authapi.ErrorResponse{Code: code}

	switch code {
	case auth.CodeValidation:
		body.Error = e.validation
		return http.StatusBadRequest, body, true
	case auth.CodeInvalidCredentials:
		body.Error = msgInvalidCredentials
		return http.StatusUnauthorized, body, true
	case auth.CodeIncorrectPassword:
		body.Error = msgIncorrectPassword
		return http.StatusUnauthorized, body, true
	case auth.CodePasswordPolicy:
		body.Violations = auth.Violations(err)
		body.Error = msgPolicyPrefix + strings.Join(body.Violations, ", ")
		return http.StatusBadRequest, body, true
	case auth.CodeSamePassword:
		body.Error = msgSamePassword
		return http.StatusBadRequest, body, true
	case auth.CodeEmailTaken:
		body.Error = msgEmailTaken
		return http.StatusBadRequest, body, true
	case auth.CodeInvalidEmail:
		body.Error = msgInvalidEmail
		return http.StatusBadRequest, body, true
	case auth.CodeWeakPassword:
		body.Error = msgWeakPassword
		return http.StatusBadRequest, body, true
	case auth.CodeTokenMissing:
		body.Error = msgTokenMissing
		if e.tokenMissingStatus != 0 {
			return e.tokenMissingStatus, body, true
		}
		return http.StatusUnauthorized, body, true
	case auth.CodeTokenInvalid:
		body.Error = e.tokenRejected
		return http.StatusUnauthorized, body, true
	case auth.CodeTokenExpired:
		body.Error = e.tokenRejected
		body.Expired = true
		return http.StatusUnauthorized, body, true
	case auth.CodeRefreshInvalid:
		body.Error = msgRefreshInvalid
		return http.StatusUnauthorized, body, true
	case auth.CodeUserNotFound:
		body.Error = msgUserNotFound
		return http.StatusNotFound, body, true
	default:
		if code != auth.CodeStorage {
			body.Code = authapi.CodeInternal
		}
		body.Error = e.failure
		return http.StatusInternalServerError, body, false
	}
}
