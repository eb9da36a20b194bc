// Package model defines shared types for the proxy.
package model

import (
	"io"
	"net/http"
)

// ProxyRequest is the normalized description of one inbound request.
//
// URL is the request URI as received (path plus optional query). Body may be
// nil, []byte, string, an io.Reader, or any value that encodes to JSON.
type ProxyRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   any
}

// ProxyResponse is the fully buffered response relayed to the caller.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// BackendStream is a backend response whose body has not been read yet.
type BackendStream struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// HopByHopHeaders are meaningful only for a single connection and are never
// forwarded by the proxy in either direction.
var HopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}
