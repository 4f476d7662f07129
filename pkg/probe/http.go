package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPProber probes an HTTP endpoint
type HTTPProber struct {
	URL     string
	Method  string
	Headers map[string]string

	// Status codes in [StatusMin, StatusMax] are healthy
	StatusMin int
	StatusMax int

	Client *http.Client
}

// NewHTTPProber creates a GET prober accepting 200-399
func NewHTTPProber(url string) *HTTPProber {
	return &HTTPProber{
		URL:       url,
		Method:    http.MethodGet,
		Headers:   make(map[string]string),
		StatusMin: 200,
		StatusMax: 399,
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Probe performs one HTTP request
func (h *HTTPProber) Probe(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return failed(start, "failed to create request: %v", err)
	}
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return failed(start, "request failed: %v", err)
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= h.StatusMin && resp.StatusCode <= h.StatusMax
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		message = fmt.Sprintf("%s (expected %d-%d)", message, h.StatusMin, h.StatusMax)
	}

	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (h *HTTPProber) Kind() Kind {
	return KindHTTP
}

// WithMethod sets the HTTP method
func (h *HTTPProber) WithMethod(method string) *HTTPProber {
	h.Method = method
	return h
}

// WithHeader adds a request header
func (h *HTTPProber) WithHeader(key, value string) *HTTPProber {
	h.Headers[key] = value
	return h
}

// WithStatusRange sets the healthy status code range
func (h *HTTPProber) WithStatusRange(min, max int) *HTTPProber {
	h.StatusMin = min
	h.StatusMax = max
	return h
}
