// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"

	"github.com/nexora/agenda/pkg/errutil"
)

// Sentinel errors returned by repositories. Callers test them with errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned when an email is already registered.
	ErrDuplicateEmail = errors.New("duplicate email")

	// ErrExpired is returned when a consumed refresh token was past its horizon.
	ErrExpired = errors.New("expired")
)

// Error codes. They are the machine-readable kind of a failure and travel
// to clients in the "code" field of error responses.
const (
	CodeValidation         = "AUTH_VALIDATION_FAILED"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeIncorrectPassword  = "AUTH_CURRENT_PASSWORD_INCORRECT"
	CodePasswordPolicy     = "AUTH_PASSWORD_POLICY"
	CodeSamePassword       = "AUTH_SAME_PASSWORD"
	CodeEmailTaken         = "AUTH_EMAIL_TAKEN"
	CodeInvalidEmail       = "AUTH_INVALID_EMAIL"
	CodeWeakPassword       = "AUTH_WEAK_PASSWORD"
	CodeStorage            = "AUTH_STORAGE_FAILED"
	CodeTokenMissing       = "TOKEN_MISSING"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeRefreshInvalid     = "TOKEN_REFRESH_INVALID"
	CodeUserNotFound       = "USER_NOT_FOUND"
)

// violationsKey is the oops context key holding unmet password rules.
const violationsKey = "violations"

// storageError wraps a repository failure. The operation lands in the
// error context so logs show which call failed.
func storageError(operation string, err error) error {
	return oops.Code(CodeStorage).
		With("operation", operation).
		Wrap(err)
}

// PasswordPolicyError builds the policy violation error for the given unmet
// rules. The rules are kept in order under the "violations" context key.
func PasswordPolicyError(violations []string) error {
	return oops.Code(CodePasswordPolicy).
		With(violationsKey, violations).
		Errorf("password does not meet policy")
}

// Violations returns the unmet password rules carried by err, or nil.
func Violations(err error) []string {
	v, ok := errutil.ContextValue(err, violationsKey)
	if !ok {
		return nil
	}
	rules, _ := v.([]string)
	return rules
}
