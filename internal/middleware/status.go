package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// responseStatus resolves the status a request ends with. When a handler
// returns an *echo.HTTPError the response has not been written yet; Echo's
// central error handler will write he.Code later.
func responseStatus(c echo.Context, err error) int {
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he.Code
		}
		if !c.Response().Committed {
			return http.StatusInternalServerError
		}
	}
	return c.Response().Status
}
