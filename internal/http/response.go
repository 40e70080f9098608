package http

import (
	"net/http"
	"time"
)

// TimingInfo stores detailed timing information for an HTTP request.
type TimingInfo struct {
	StartTime           time.Time
	DNSLookupTime       time.Duration
	TCPConnectTime      time.Duration
	TLSHandshakeTime    time.Duration
	TimeToFirstByte     time.Duration
	ContentTransferTime time.Duration
	TotalTime           time.Duration
}

// Response is an HTTP response with its body already read.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
	Timing     TimingInfo
}

// IsSuccess returns true if the response status code is in the 2xx range
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsFailure returns true for 4xx and 5xx responses, which count as failed
// requests.
func (r *Response) IsFailure() bool {
	return r.StatusCode >= 400
}
