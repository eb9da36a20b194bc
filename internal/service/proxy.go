// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"contents-proxy-go/internal/client"
	"contents-proxy-go/internal/config"
	"contents-proxy-go/internal/metrics"
	"contents-proxy-go/internal/model"
	"contents-proxy-go/internal/rewrite"
)

var (
	// ErrUnsupportedMethod is returned for any method other than GET or POST.
	ErrUnsupportedMethod = errors.New("only GET and POST are supported")
	// ErrPathMismatch is returned when the request is not under the mount path.
	ErrPathMismatch = errors.New("unexpected path")
	// ErrEmptyPath is returned when the proxy is built without a mount path.
	ErrEmptyPath = errors.New("mount path is empty")
)

// Forwarder issues one buffered request to the backend.
type Forwarder interface {
	Do(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.ProxyResponse, error)
}

// ReverseProxy forwards requests under a mount path to the loopback backend.
// Everything it holds is read-only after construction.
type ReverseProxy struct {
	basePath string
	port     int
	rules    *rewrite.RuleSet
	client   Forwarder
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewReverseProxy creates a ReverseProxy for cfg.Mount.Path.
// The metrics parameter is optional; pass nil to disable metrics recording.
func NewReverseProxy(cfg *config.Config, rules *rewrite.RuleSet, fwd Forwarder, logger *slog.Logger, m *metrics.Metrics) (*ReverseProxy, error) {
	path := cfg.Mount.Path
	if path == "" {
		return nil, ErrEmptyPath
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}

	return &ReverseProxy{
		basePath: path,
		port:     cfg.Backend.Port,
		rules:    rules,
		client:   fwd,
		logger:   logger.With("component", "reverse_proxy"),
		metrics:  m,
	}, nil
}

// BasePath returns the normalized mount path, always ending in "/".
func (p *ReverseProxy) BasePath() string {
	return p.basePath
}

// BackendURL returns the base URL requests are forwarded to.
func (p *ReverseProxy) BackendURL() string {
	return fmt.Sprintf("http://localhost:%d", p.port)
}

// Rules returns the rewrite rules in effect.
func (p *ReverseProxy) Rules() *rewrite.RuleSet {
	return p.rules
}

// Handle forwards one request and returns the response to relay.
//
// Requests with an unsupported method or outside the mount path are rejected
// with ErrUnsupportedMethod or ErrPathMismatch before any backend I/O. Backend
// failures are not errors: they produce a 502 (unreachable) or 504 (timeout)
// response with an empty body.
func (p *ReverseProxy) Handle(ctx context.Context, req *model.ProxyRequest) (*model.ProxyResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		p.logger.Error("unsupported method", "method", method, "url", req.URL)
		p.reject("method")
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	if !strings.HasPrefix(req.URL, p.basePath) {
		p.logger.Error("unexpected path", "url", req.URL, "mount", p.basePath)
		p.reject("path")
		return nil, fmt.Errorf("%w: %s", ErrPathMismatch, req.URL)
	}

	// Keep the separator so the local path always starts with "/".
	localPath := req.URL[len(p.basePath)-1:]
	dstPath, rewritten := p.rules.Match(localPath)
	if rewritten {
		p.logger.Info("rewrite", "from", req.URL, "to", dstPath)
		if p.metrics != nil {
			p.metrics.RewritesTotal.Inc()
		}
	}

	body, contentType, err := ConvertBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("convert request body: %w", err)
	}
	header := outboundHeader(req.Header, body != nil)
	if contentType != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", contentType)
	}

	url := p.BackendURL() + dstPath

	// The backend call runs to completion (or timeout) even if the caller goes away.
	resp, err := p.client.Do(context.WithoutCancel(ctx), method, url, header, body)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, client.ErrBackendTimeout) {
			status = http.StatusGatewayTimeout
		}
		p.logger.Error("failed to proxy backend",
			"err", err,
			"method", method,
			"url", url,
			"status", status,
		)
		return &model.ProxyResponse{StatusCode: status, Header: make(http.Header)}, nil
	}

	p.logger.Debug("proxied",
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"bytes", len(resp.Body),
	)

	resp.Header = relayHeader(resp.Header)
	return resp, nil
}

func (p *ReverseProxy) reject(reason string) {
	if p.metrics != nil {
		p.metrics.Rejections.WithLabelValues(reason).Inc()
	}
}

// outboundHeader copies the inbound headers minus Host and hop-by-hop headers.
// When a body is sent, Content-Length and Content-Encoding are dropped as well:
// the body was already decoded upstream and its length is set by the transport.
func outboundHeader(src http.Header, hasBody bool) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	dst.Del("Host")
	for _, h := range model.HopByHopHeaders {
		dst.Del(h)
	}
	if hasBody {
		dst.Del("Content-Length")
		dst.Del("Content-Encoding")
	}
	return dst
}

// relayHeader copies the backend headers minus hop-by-hop headers.
func relayHeader(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, h := range model.HopByHopHeaders {
		dst.Del(h)
	}
	return dst
}
