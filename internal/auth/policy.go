// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package auth

import (
	"strings"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Password rules.
const (
	MinPasswordLength             = 8
	MinRegistrationPasswordLength = 6

	// PasswordSymbols is the set a password must draw at least one symbol from.
	PasswordSymbols = `!@#$%^&*(),.?":{}|<>`
)

// Messages for unmet change-password rules, in evaluation order.
const (
	RuleMinLength = "Au moins 8 caracteres"
	RuleUppercase = "Au moins une majuscule"
	RuleLowercase = "Au moins une minuscule"
	RuleDigit     = "Au moins un chiffre"
	RuleSymbol    = "Au moins un caractere special"
)

// CheckPasswordPolicy evaluates every change-password rule and returns the
// messages of all unmet ones, in rule order. A nil result means the password
// is acceptable.
func CheckPasswordPolicy(password string) []string {
	var violations []string
	if utf8.RuneCountInString(password) < MinPasswordLength {
		violations = append(violations, RuleMinLength)
	}
	if !containsRange(password, 'A', 'Z') {
		violations = append(violations, RuleUppercase)
	}
	if !containsRange(password, 'a', 'z') {
		violations = append(violations, RuleLowercase)
	}
	if !containsRange(password, '0', '9') {
		violations = append(violations, RuleDigit)
	}
	if !strings.ContainsAny(password, PasswordSymbols) {
		violations = append(violations, RuleSymbol)
	}
	return violations
}

// ValidateNewPassword returns a policy error listing every unmet rule, or nil.
func ValidateNewPassword(password string) error {
	if violations := CheckPasswordPolicy(password); len(violations) > 0 {
		return PasswordPolicyError(violations)
	}
	return nil
}

// CheckRegistrationPassword applies the registration rule, which only
// requires MinRegistrationPasswordLength characters.
func CheckRegistrationPassword(password string) error {
	if utf8.RuneCountInString(password) < MinRegistrationPasswordLength {
		return oops.Code(CodeWeakPassword).
			With("min", MinRegistrationPasswordLength).
			Errorf("password must be at least %d characters", MinRegistrationPasswordLength)
	}
	return nil
}

func containsRange(s string, lo, hi rune) bool {
	for _, r := range s {
		if r >= lo && r <= hi {
			return true
		}
	}
	return false
}
