// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

// Package authapi defines the JSON wire format of the /auth endpoints. It is
// shared by the HTTP server and the client transport.
package authapi
