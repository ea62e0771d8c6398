// Package gin mounts the frame turn routes on a Gin engine. It is a thin adapter: every
// turn is handled by the shared http.Frame, so responses match the chi surface byte for byte.
package gin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	httpframe "github.com/gangwars/joinframe/http"
)

// Register mounts every frame route on r for GET and POST.
//
// Example usage:
//
//	engine := gin.New()
//	engine.Use(gin.Recovery())
//	ginframe.Register(engine, frame)
//	engine.GET("/healthz", gin.WrapH(httpframe.HealthHandler()))
func Register(r gin.IRoutes, frame *httpframe.Frame) {
	for _, route := range frame.Routes() {
		handler := func(c *gin.Context) {
			frame.Serve(c.Writer, c.Request, route, httpframe.Params{
				Token: c.Param("token"),
				Page:  c.Param("page"),
			})
		}
		pattern := ginPattern(route.Pattern)
		r.GET(pattern, handler)
		r.POST(pattern, handler)
	}
}

// MountDev serves dev under /dev with the prefix stripped.
func MountDev(r gin.IRoutes, dev http.Handler) {
	r.Any("/dev/*path", gin.WrapH(http.StripPrefix("/dev", dev)))
}

// ginPattern rewrites {name} placeholders as :name.
func ginPattern(pattern string) string {
	parts := strings.Split(pattern, "/")
	for i, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			parts[i] = ":" + strings.TrimSuffix(strings.TrimPrefix(part, "{"), "}")
		}
	}
	return strings.Join(parts, "/")
}
