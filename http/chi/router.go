// Package chi mounts the frame turn routes on a chi router. This is the router the
// joinframe server runs.
package chi

import (
	"net/http"

	chiv5 "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpframe "github.com/gangwars/joinframe/http"
)

// Options holds the non-turn handlers mounted next to the frame.
type Options struct {
	// Metrics serves /metrics when set.
	Metrics http.Handler

	// Dev is mounted under /dev when set.
	Dev http.Handler
}

// NewRouter returns a chi router serving every frame route for GET and POST, plus
// /healthz and the optional handlers in opts.
func NewRouter(frame *httpframe.Frame, opts Options) chiv5.Router {
	r := chiv5.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpframe.LogRequests)
	r.Use(middleware.Recoverer)

	Mount(r, frame)

	r.Method(http.MethodGet, "/healthz", httpframe.HealthHandler())
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Dev != nil {
		r.Mount("/dev", opts.Dev)
	}
	return r
}

// Mount registers the frame routes on r.
func Mount(r chiv5.Router, frame *httpframe.Frame) {
	for _, route := range frame.Routes() {
		handler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			frame.Serve(w, req, route, httpframe.Params{
				Token: chiv5.URLParam(req, "token"),
				Page:  chiv5.URLParam(req, "page"),
			})
		})
		r.Method(http.MethodGet, route.Pattern, handler)
		r.Method(http.MethodPost, route.Pattern, handler)
	}
}
