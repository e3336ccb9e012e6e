package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"quote-relay/src/helpers"
	"quote-relay/src/interfaces"
	"quote-relay/src/logger"
)

const maxErrorBody = 512

// NetworkManager performs single-attempt HTTP calls against one provider and
// maps failures onto the upstream error taxonomy. Retrying is left to callers.
type NetworkManager struct {
	Provider     string
	ProxyManager interfaces.IProxyManager
	Logger       *logger.Logger

	timeout time.Duration
	mu      sync.RWMutex
	client  *http.Client
}

// -----------------------------------------------------------------------------

func NewNetworkManager(provider string, timeout time.Duration, proxies interfaces.IProxyManager, log *logger.Logger) *NetworkManager {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	nm := &NetworkManager{
		Provider:     provider,
		ProxyManager: proxies,
		Logger:       log,
		timeout:      timeout,
	}
	nm.client = nm.createClient()
	return nm
}

// -----------------------------------------------------------------------------

func (nm *NetworkManager) createClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if nm.ProxyManager != nil && nm.ProxyManager.HasProxies() {
		proxyStr, err := nm.ProxyManager.GetCurrentProxy()
		if err == nil && proxyStr != "" {
			proxyURL, err := url.Parse(proxyStr)
			if err == nil {
				transport.Proxy = http.ProxyURL(proxyURL)
			}
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   nm.timeout,
	}
}

// -----------------------------------------------------------------------------

func (nm *NetworkManager) rotateProxy() {
	if nm.ProxyManager == nil || !nm.ProxyManager.HasProxies() {
		return
	}

	nm.ProxyManager.RotateProxy()
	client := nm.createClient()
	nm.mu.Lock()
	nm.client = client
	nm.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Get performs a GET request with query parameters.
func (nm *NetworkManager) Get(ctx context.Context, urlStr string, params map[string]string, headers map[string]string) ([]byte, error) {
	reqURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, helpers.NewUpstreamError(nm.Provider, 0, "invalid url", err)
	}

	q := reqURL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, helpers.NewUpstreamError(nm.Provider, 0, "build request", err)
	}
	return nm.do(req, headers)
}

// -----------------------------------------------------------------------------

// PostJSON sends a JSON body.
func (nm *NetworkManager) PostJSON(ctx context.Context, urlStr string, body interface{}, headers map[string]string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, helpers.NewUpstreamError(nm.Provider, 0, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(payload))
	if err != nil {
		return nil, helpers.NewUpstreamError(nm.Provider, 0, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return nm.do(req, headers)
}

// -----------------------------------------------------------------------------

func (nm *NetworkManager) do(req *http.Request, headers map[string]string) ([]byte, error) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" && nm.ProxyManager != nil {
		req.Header.Set("User-Agent", nm.ProxyManager.GetUserAgent())
	}

	nm.mu.RLock()
	client := nm.client
	nm.mu.RUnlock()

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		nm.Logger.Debug("%s %s failed: %v", req.Method, req.URL.Path, err)
		return nil, helpers.NewUpstreamError(nm.Provider, 0, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, helpers.NewUpstreamError(nm.Provider, resp.StatusCode, "read body", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		nm.rotateProxy()
		return body, helpers.NewRateLimitError(nm.Provider, fmt.Sprintf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		nm.rotateProxy()
		return body, helpers.NewAuthError("", fmt.Sprintf("%s: rejected (status %d)", nm.Provider, resp.StatusCode), nil)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet := body
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return body, helpers.NewUpstreamError(nm.Provider, resp.StatusCode, fmt.Sprintf("bad status %d: %s", resp.StatusCode, snippet), nil)
	}

	return body, nil
}
