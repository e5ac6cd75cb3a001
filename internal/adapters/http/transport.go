package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// RawRequest is what a Transport sends. Header order follows HeaderOrder when the
// transport supports it.
type RawRequest struct {
	Method      string
	URL         string
	Header      map[string]string
	HeaderOrder []string
	Body        []byte
}

type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs one HTTP exchange. Redirects are not followed and cookies are
// left to the caller.
type Transport interface {
	Do(ctx context.Context, req *RawRequest) (*RawResponse, error)
}

type stdTransport struct {
	client *http.Client
}

// NewStdTransport builds the net/http transport.
func NewStdTransport(proxy string, timeout time.Duration) (Transport, error) {
	transport := &http.Transport{}
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &stdTransport{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

func (t *stdTransport) Do(ctx context.Context, raw *RawRequest) (*RawResponse, error) {
	var body io.Reader
	if raw.Body != nil {
		body = bytes.NewReader(raw.Body)
	}
	req, err := http.NewRequestWithContext(ctx, raw.Method, raw.URL, body)
	if err != nil {
		return nil, &requestError{err: err}
	}
	for key, value := range raw.Header {
		req.Header.Set(key, value)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &RawResponse{StatusCode: res.StatusCode, Header: res.Header, Body: data}, nil
}

type tlsTransport struct {
	client tls_client.HttpClient
}

// NewTLSTransport builds a transport that presents a Chrome TLS fingerprint.
func NewTLSTransport(proxy string, timeout time.Duration) (Transport, error) {
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(int(timeout.Seconds())),
		tls_client.WithClientProfile(profiles.Chrome_131),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithNotFollowRedirects(),
	}
	if proxy != "" {
		options = append(options, tls_client.WithProxyUrl(proxy))
	}

	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tls client: %w", err)
	}
	return &tlsTransport{client: client}, nil
}

func (t *tlsTransport) Do(ctx context.Context, raw *RawRequest) (*RawResponse, error) {
	var body io.Reader
	if raw.Body != nil {
		body = bytes.NewReader(raw.Body)
	}
	req, err := fhttp.NewRequestWithContext(ctx, raw.Method, raw.URL, body)
	if err != nil {
		return nil, &requestError{err: err}
	}
	for key, value := range raw.Header {
		req.Header.Set(key, value)
	}
	if len(raw.HeaderOrder) > 0 {
		req.Header[fhttp.HeaderOrderKey] = raw.HeaderOrder
	}

	res, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	decoded := fhttp.DecompressBody(res)
	defer decoded.Close()
	data, err := io.ReadAll(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &RawResponse{StatusCode: res.StatusCode, Header: http.Header(res.Header), Body: data}, nil
}

// requestError marks a request that could not be built. It is never retried.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return "failed to create request: " + e.err.Error() }

func (e *requestError) Unwrap() error { return e.err }
