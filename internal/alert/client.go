package alert

import (
	"net"
	"net/http"
	"time"
)

const (
	ClientTimeout         = 30 * time.Second
	DialTimeout           = 10 * time.Second
	TLSHandshakeTimeout   = 10 * time.Second
	ResponseHeaderTimeout = 15 * time.Second
)

// Header names set on every delivery.
const (
	HeaderSignature  = "X-ThesisFlow-Signature"
	HeaderTimestamp  = "X-ThesisFlow-Timestamp"
	HeaderDeliveryID = "X-ThesisFlow-Delivery-Id"
)

const userAgent = "ThesisFlow-Alerts/1.0"

// NewHTTPClient creates the delivery client. It never follows redirects
// and never connects to private or loopback addresses.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: ClientTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
				Control:   dialGuard,
			}).DialContext,
			TLSHandshakeTimeout:   TLSHandshakeTimeout,
			ResponseHeaderTimeout: ResponseHeaderTimeout,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: noRedirects,
	}
}

// noRedirects hands the 3xx back to the caller as the final response.
func noRedirects(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// Headers are the signing headers for one attempt.
type Headers struct {
	Signature  string
	Timestamp  string
	DeliveryID string
}

// SetHeaders applies the content type, user agent and signing headers.
func SetHeaders(req *http.Request, h Headers) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, h.Signature)
	req.Header.Set(HeaderTimestamp, h.Timestamp)
	req.Header.Set(HeaderDeliveryID, h.DeliveryID)
}
