package http

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// Request is a fully rendered HTTP request.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// NewRequest creates a new HTTP request
func NewRequest(method, url string) *Request {
	return &Request{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string),
	}
}

// WithHeader adds a header to the request
func (r *Request) WithHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

// WithBody sets the body of the request
func (r *Request) WithBody(body string) *Request {
	r.Body = body
	return r
}

// Build constructs an http.Request bound to ctx.
func (r *Request) Build(ctx context.Context) (*http.Request, error) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, err
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}
	return req, nil
}
