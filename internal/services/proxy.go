package services

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"moderation-gateway/internal/apierror"
)

// ProxyService relays admitted requests to the moderation backend. Transport
// failures and backend 5xx are retried a bounded number of times; 4xx pass
// through untouched. Non-idempotent requests are replayed at most once, and
// only when the failure happened before the request was written (dial phase).
type ProxyService struct {
	backendURL string
	client     *http.Client
	maxRetries int
	retryBase  time.Duration
}

func NewProxyService(backendURL string, timeout time.Duration, maxRetries int) *ProxyService {
	return &ProxyService{
		backendURL: backendURL,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryBase:  100 * time.Millisecond,
	}
}

// Forward sends the request to the backend and returns its response.
func (p *ProxyService) Forward(r *http.Request) (*http.Response, error) {
	targetURL, err := url.Parse(p.backendURL)
	if err != nil {
		return nil, err
	}

	targetURL.Path = strings.TrimSuffix(targetURL.Path, "/") + r.URL.Path
	targetURL.RawQuery = r.URL.RawQuery

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("couldn't read request body: %w", err)
		}
		r.Body.Close()
	}

	idempotent := r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			p.sleepWithJitter(attempt)
		}

		proxyReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL.String(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		for key, values := range r.Header {
			for _, value := range values {
				proxyReq.Header.Add(key, value)
			}
		}
		proxyReq.Host = targetURL.Host

		resp, err := p.client.Do(proxyReq)
		if err != nil {
			lastErr = err
			if p.canRetryError(err, idempotent, attempt) {
				continue
			}
			return nil, err
		}

		// Backend 5xx: retry only idempotent requests; the backend may
		// already have acted on a non-idempotent one.
		if resp.StatusCode >= 500 && idempotent && attempt < p.maxRetries {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("backend returned %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// canRetryError decides whether a transport failure is worth another attempt.
func (p *ProxyService) canRetryError(err error, idempotent bool, attempt int) bool {
	if isTimeout(err) {
		// The configured deadline is spent either way.
		return false
	}
	if idempotent {
		return attempt < p.maxRetries
	}
	// Non-idempotent: one extra attempt, and only when the connection never
	// came up, so no request bytes reached the backend.
	return attempt < 1 && isDialError(err)
}

func (p *ProxyService) sleepWithJitter(attempt int) {
	backoff := p.retryBase << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(p.retryBase)))
	time.Sleep(backoff + jitter)
}

// ErrorStatus maps a Forward error to the gateway-visible status and error
// kind: 504 for spent deadlines, 503 for an unreachable backend, 502 for
// everything else that broke mid-exchange.
func (p *ProxyService) ErrorStatus(err error) (int, string) {
	if isTimeout(err) {
		return http.StatusGatewayTimeout, apierror.KindGatewayTimeout
	}
	if isDialError(err) {
		return http.StatusServiceUnavailable, apierror.KindServiceUnavailable
	}
	return http.StatusBadGateway, apierror.KindBadGateway
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func (p *ProxyService) CopyResponse(w http.ResponseWriter, resp *http.Response) error {
	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	w.WriteHeader(resp.StatusCode)

	_, err := io.Copy(w, resp.Body)
	return err
}
