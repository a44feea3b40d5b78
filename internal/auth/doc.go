// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

// Package auth provides the authentication core for Nexora Agenda.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewUser - creates a User with a validated email, role and password hash
//   - NewTokenPair - creates a TokenPair with both expiry horizons computed
//     from the issuance time
//
// Direct struct initialization bypasses validation and may create invalid state.
//
// # Services
//
//   - TokenService - issue, validate, refresh and revoke token pairs
//   - Service - registration, login, password change and provisioning
//
// Both are created with constructors that validate their dependencies.
//
// # Passwords
//
// CheckPasswordPolicy holds the change-password rules and reports every
// unmet rule at once. CheckRegistrationPassword holds the looser rule used
// at registration. Hashes are argon2id PHC strings.
package auth
