package server

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps are what [NewRouter] wires into the endpoints.
type Deps struct {
	Auth     Authorizer
	DB       Pinger
	Gatherer prometheus.Gatherer
	Logger   *log.Logger
}

// NewRouter mounts the callback, health and metrics endpoints. It returns the
// callback handler so callers can wait on [CallbackHandler.Results].
func NewRouter(d Deps) (*BasicRouter, *CallbackHandler) {
	r := NewBasicRouter()
	r.Use(Recover(d.Logger), Logging(d.Logger))

	cb := NewCallbackHandler(d.Auth, d.Logger)
	r.Handler(cb)
	if d.DB != nil {
		r.Handle(http.MethodGet, "/healthz", HealthHandler(d.DB))
	}
	if d.Gatherer != nil {
		r.Handle(http.MethodGet, "/metrics", MetricsHandler(d.Gatherer))
	}
	return r, cb
}
