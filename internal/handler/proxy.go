package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"contents-proxy-go/internal/model"
	"contents-proxy-go/internal/service"
)

// ProxyHandler adapts echo requests to the reverse proxy.
type ProxyHandler struct {
	proxy  *service.ReverseProxy
	logger *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(proxy *service.ReverseProxy, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		proxy:  proxy,
		logger: logger.With("component", "proxy_handler"),
	}
}

// Handle forwards the request to the backend and writes the relayed response.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	// Absolute-form targets (proxy requests) carry scheme and host.
	uri := req.RequestURI
	if !strings.HasPrefix(uri, "/") {
		uri = req.URL.RequestURI()
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		// BodyLimit reports oversized bodies through the read error.
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body").SetInternal(err)
	}

	pr := &model.ProxyRequest{
		Method: req.Method,
		URL:    uri,
		Header: req.Header.Clone(),
	}
	if len(body) > 0 {
		pr.Body = body
	}

	resp, err := h.proxy.Handle(req.Context(), pr)
	if err != nil {
		return mapError(err)
	}

	dst := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			dst.Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)
	if len(resp.Body) == 0 {
		return nil
	}
	if _, err := c.Response().Write(resp.Body); err != nil {
		// Status is already on the wire; all that is left is to record it.
		h.logger.Error("writing response body",
			"err", err,
			"url", uri,
		)
	}
	return nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, service.ErrUnsupportedMethod):
		return echo.NewHTTPError(http.StatusMethodNotAllowed, "only GET and POST are supported").SetInternal(err)
	case errors.Is(err, service.ErrPathMismatch):
		return echo.NewHTTPError(http.StatusNotFound).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
	}
}
