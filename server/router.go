package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))

	r.Get("/healthz", a.handleHealthz)
	r.Post("/token", a.handleToken)

	if a.Config.Server.DevMode {
		r.Post("/clients", a.handleRegisterClient)
	}

	r.Group(func(r chi.Router) {
		r.Use(a.RequireBearer)
		r.Get("/userinfo", a.handleUserInfo)
	})

	return r
}
