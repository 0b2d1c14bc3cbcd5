// Package server provides HTTP routing and middleware plus the endpoints that
// run next to the sync engine.
//
// # Router
//
// The [Router] interface defines HTTP routing with middleware support. [Middleware]
// wraps handlers in reverse order (last added executes first). [BasicRouter] uses
// [http.ServeMux] internally; [BasicRouter.Handle] adds method filtering, while a
// [Handler] may use method-qualified mux patterns in its routes.
//
// # Endpoints
//
// [NewRouter] mounts:
//   - GET /callback/{provider}: completes an authorization flow. The user is
//     found from the state value bound to their credential row.
//   - GET /healthz: pings the database.
//   - GET /metrics: Prometheus exposition of the sync metrics.
//
// The same router backs both `auth login`, which runs a short-lived [Server]
// until one callback arrives, and `serve`, which keeps it up beside the scheduler.
package server
