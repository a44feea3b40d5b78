// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

// Package store owns the server's PostgreSQL schema and connection pool.
//
// Schema changes are embedded SQL files applied with golang-migrate through
// the pgx/v5 driver. Repositories built on the pool live next to the domain
// they serve, for example internal/auth/postgres.
package store
