// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handler returns the router serving the /auth endpoints.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.instrument)
	r.Use(a.recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.With(a.rateLimit(epRegister.name)).Post("/register", a.handleRegister)
		r.With(a.rateLimit(epLogin.name)).Post("/login", a.handleLogin)
		r.With(a.rateLimit(epRefresh.name)).Post("/refresh", a.handleRefresh)
		r.Get("/me", a.handleMe)
		r.Post("/logout", a.handleLogout)
		r.Post("/change-password", a.handleChangePassword)
	})
	return r
}
