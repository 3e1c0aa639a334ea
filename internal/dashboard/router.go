package dashboard

import "net/http"

// Routes aggregates handlers for the dashboard HTTP server.
type Routes struct {
	Login     http.HandlerFunc
	Stats     http.HandlerFunc
	Recent    http.HandlerFunc
	Reconcile http.HandlerFunc
	Live      http.HandlerFunc
	Health    http.HandlerFunc
	Auth      func(http.HandlerFunc) http.HandlerFunc
}

// NewRouter wires all dashboard routes. Everything except login and health
// sits behind the auth middleware.
func NewRouter(routes Routes) http.Handler {
	guard := routes.Auth
	if guard == nil {
		guard = func(next http.HandlerFunc) http.HandlerFunc { return next }
	}

	mux := http.NewServeMux()
	if routes.Login != nil {
		mux.Handle("/v1/auth/login", method(http.MethodPost, routes.Login))
	}
	if routes.Stats != nil {
		mux.Handle("/v1/stats", method(http.MethodGet, guard(routes.Stats)))
	}
	if routes.Recent != nil {
		mux.Handle("/v1/sessions/recent", method(http.MethodGet, guard(routes.Recent)))
	}
	if routes.Reconcile != nil {
		mux.Handle("/internal/reconcile", method(http.MethodPost, guard(routes.Reconcile)))
	}
	if routes.Live != nil {
		mux.Handle("/ws/live", method(http.MethodGet, guard(routes.Live)))
	}
	if routes.Health != nil {
		mux.Handle("/healthz", method(http.MethodGet, routes.Health))
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
