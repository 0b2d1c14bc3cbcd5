package server

import (
	"context"
	"errors"
	"html/template"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/universal/internal/credentials"
	"github.com/desertthunder/universal/internal/models"
	"github.com/desertthunder/universal/internal/shared"
)

// Authorizer completes an authorization flow from the provider's redirect.
type Authorizer interface {
	CompleteByState(ctx context.Context, provider string, params credentials.CallbackParams) (*models.ServiceAccount, error)
}

// CallbackResult is one completed (or failed) callback.
type CallbackResult struct {
	Provider string
	Account  *models.ServiceAccount
	Err      error
}

// CallbackHandler serves /callback/{provider}. The user is resolved from the
// state value, so one handler serves every user and provider.
type CallbackHandler struct {
	auth    Authorizer
	logger  *log.Logger
	results chan CallbackResult
}

// NewCallbackHandler creates a [CallbackHandler].
func NewCallbackHandler(auth Authorizer, logger *log.Logger) *CallbackHandler {
	return &CallbackHandler{auth: auth, logger: logger, results: make(chan CallbackResult, 1)}
}

// Routes implements [Handler].
func (h *CallbackHandler) Routes() []string {
	return []string{"GET /callback/{provider}"}
}

// Results delivers every callback outcome without blocking the handler; when
// nobody reads, outcomes past the first are dropped.
func (h *CallbackHandler) Results() <-chan CallbackResult {
	return h.results
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	q := r.URL.Query()
	params := credentials.CallbackParams{State: q.Get("state"), Code: q.Get("code"), Error: q.Get("error")}

	acct, err := h.auth.CompleteByState(r.Context(), provider, params)
	select {
	case h.results <- CallbackResult{Provider: provider, Account: acct, Err: err}:
	default:
	}

	if err != nil {
		h.logger.Warn("authorization failed", "provider", provider, "kind", shared.Classify(err), "err", err)
		renderPage(w, callbackStatus(err), page{
			Title:   "Authorization failed",
			Message: err.Error(),
			OK:      false,
		})
		return
	}

	msg := "You can close this window and return to the terminal."
	if acct.Username != "" {
		msg = "Signed in as " + acct.Username + ". " + msg
	}
	renderPage(w, http.StatusOK, page{Title: "Authorization successful", Message: msg, OK: true})
}

func callbackStatus(err error) int {
	switch {
	case errors.Is(err, shared.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrAuthExchange), errors.Is(err, shared.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrProviderUnavailable), errors.Is(err, shared.ErrProviderRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type page struct {
	Title   string
	Message string
	OK      bool
}

var pageTmpl = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { margin: 0 0 1rem 0; }
        .ok { color: #1DB954; }
        .err { color: #d9534f; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1 class="{{if .OK}}ok{{else}}err{{end}}">{{if .OK}}✓{{else}}✗{{end}} {{.Title}}</h1>
        <p>{{.Message}}</p>
    </div>
</body>
</html>
`))

func renderPage(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pageTmpl.Execute(w, p)
}
