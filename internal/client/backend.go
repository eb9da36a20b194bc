// Package client provides the loopback HTTP client used to reach the backend.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"contents-proxy-go/internal/config"
	"contents-proxy-go/internal/metrics"
	"contents-proxy-go/internal/model"
)

var (
	// ErrBackendTimeout is returned when the backend did not answer in time.
	ErrBackendTimeout = errors.New("backend timeout")
	// ErrBackendUnreachable is returned for any other failure to get a response.
	ErrBackendUnreachable = errors.New("backend unreachable")
)

// BackendClient sends requests to the local backend.
type BackendClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewBackendClient creates a BackendClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable backend metrics recording.
func NewBackendClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendClient {
	transport := &http.Transport{
		Proxy:               nil,
		MaxIdleConns:        cfg.Backend.IdleConnections,
		MaxIdleConnsPerHost: cfg.Backend.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		// Bodies are relayed byte for byte, so never negotiate gzip on our own.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &BackendClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Backend.Timeout(),
			// Redirects are the caller's business.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "backend_client"),
		metrics: m,
	}
}

// DoStream executes a request and returns the response body as a stream.
// The caller is responsible for closing the returned body.
func (c *BackendClient) DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.BackendStream, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	if header != nil {
		req.Header = header
	}

	c.logger.Debug("backend request",
		"method", req.Method,
		"url", url,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via BackendStream
	duration := time.Since(start).Seconds()

	label := metrics.NormalizeMethod(req.Method)
	if c.metrics != nil {
		c.metrics.BackendDuration.WithLabelValues(label).Observe(duration)
	}

	if err != nil {
		err = classify(err)
		c.recordError(err)
		return nil, fmt.Errorf("backend request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.BackendResponses.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.BackendStream{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Do executes a request and reads the whole response body.
func (c *BackendClient) Do(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.ProxyResponse, error) {
	stream, err := c.DoStream(ctx, method, url, header, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stream.Body.Close() }()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, stream.Body); err != nil {
		err = classify(err)
		c.recordError(err)
		return nil, fmt.Errorf("read backend response: %w", err)
	}

	return &model.ProxyResponse{
		StatusCode: stream.StatusCode,
		Header:     stream.Header,
		Body:       buf.Bytes(),
	}, nil
}

func (c *BackendClient) recordError(err error) {
	if c.metrics == nil {
		return
	}
	kind := metrics.ErrorKindUnreachable
	if errors.Is(err, ErrBackendTimeout) {
		kind = metrics.ErrorKindTimeout
	}
	c.metrics.BackendErrors.WithLabelValues(kind).Inc()
}

// classify tags a transport error as a timeout or a connection failure,
// keeping the original cause in the chain.
func classify(err error) error {
	if IsTimeout(err) {
		return fmt.Errorf("%w: %w", ErrBackendTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrBackendUnreachable, err)
}

// IsTimeout reports whether err stems from a deadline being exceeded.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrBackendTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
