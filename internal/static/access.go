package static

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	dateFormat = "02/Jan/2006:15:04:05 -0700"
	// remote_host - - [date] "method uri protocol" status response_size "referer" "user_agent"
	combinedLogFormat = `%s - - [%s] "%s %s %s" %d %s "%s" "%s"` + "\n"
)

var combinedKeys = []string{
	"host", "timestamp", "method", "uri", "proto",
	"status", "response-size", "referer", "user-agent",
}

// combinedFormatter renders entries in Apache combined log format.
type combinedFormatter struct{}

func (combinedFormatter) Format(e *logrus.Entry) ([]byte, error) {
	values := make([]any, len(combinedKeys))
	for i, key := range combinedKeys {
		values[i] = e.Data[key]
	}
	return []byte(fmt.Sprintf(combinedLogFormat, values...)), nil
}

// newAccessLogger returns a logger writing combined-format lines to out.
func newAccessLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.Out = out
	l.Formatter = combinedFormatter{}
	l.Level = logrus.InfoLevel
	return l
}

// AccessLog returns an Echo middleware that writes one combined-format line
// per request to out.
func AccessLog(out io.Writer) echo.MiddlewareFunc {
	log := newAccessLogger(out)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				// Let the error handler write the response so the line
				// carries the final status and size.
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			size := "-"
			if res.Size > 0 {
				size = fmt.Sprint(res.Size)
			}

			log.WithFields(logrus.Fields{
				"host":          remoteHost(req),
				"timestamp":     start.Format(dateFormat),
				"method":        req.Method,
				"uri":           req.RequestURI,
				"proto":         req.Proto,
				"status":        res.Status,
				"response-size": size,
				"referer":       orDash(req.Referer()),
				"user-agent":    orDash(req.UserAgent()),
			}).Info()

			return nil
		}
	}
}

// remoteHost is the client address without its port. X-Forwarded-For wins
// when present.
func remoteHost(r *http.Request) string {
	addr := r.Header.Get("X-Forwarded-For")
	if addr == "" {
		addr = r.RemoteAddr
	}
	if h, _, err := net.SplitHostPort(addr); err == nil {
		addr = h
	}
	if addr == "" {
		return "-"
	}
	return addr
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
