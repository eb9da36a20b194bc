package middleware

import (
	"net/http"
	"net/textproto"
	"strings"

	"github.com/labstack/echo/v4"

	"contents-proxy-go/internal/model"
)

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// from the inbound request, including any header the client nominated in
// Connection. Security headers are added to the response unless the backend
// already set them.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header
			for _, v := range h.Values("Connection") {
				for _, name := range strings.Split(v, ",") {
					if name = textproto.TrimString(name); name != "" {
						h.Del(name)
					}
				}
			}
			for _, name := range model.HopByHopHeaders {
				h.Del(name)
			}

			res := c.Response()
			res.Before(func() {
				setDefault(res.Header(), "X-Content-Type-Options", "nosniff")
				setDefault(res.Header(), "X-Frame-Options", "SAMEORIGIN")
			})

			return next(c)
		}
	}
}

func setDefault(h http.Header, key, value string) {
	if h.Get(key) == "" {
		h.Set(key, value)
	}
}
