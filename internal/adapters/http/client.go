package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-querystring/query"

	"github.com/ohmynofan/netease-music-bot/internal/adapters/envelope"
	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
	"github.com/ohmynofan/netease-music-bot/internal/platform/logger"
	"github.com/ohmynofan/netease-music-bot/pkg/utils"
)

const (
	DefaultBaseURL     = "https://music.163.com"
	DefaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 2 * time.Second
	DefaultTimeout     = 10 * time.Second

	logBodyLimit = 200
)

type Options struct {
	BaseURL     string
	UserAgent   string
	Cookie      string
	MaxAttempts int
	RetryDelay  time.Duration
	Timeout     time.Duration
	Transport   Transport
	Codec       *envelope.Codec
}

// Client talks to the platform on behalf of one session. It owns its cookie set and
// never reads or writes the session store.
type Client struct {
	baseURL     string
	userAgent   string
	maxAttempts int
	retryDelay  time.Duration
	timeout     time.Duration
	transport   Transport
	codec       *envelope.Codec
	cookies     *cookieSet
	Log         *logger.ClassLogger

	csrfOnce     sync.Once
	csrfFallback string
}

func NewClient(opts Options, session *model.Session) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Codec == nil {
		codec, err := envelope.New(envelope.DefaultKeys())
		if err != nil {
			return nil, err
		}
		opts.Codec = codec
	}
	if opts.Transport == nil {
		transport, err := NewStdTransport("", opts.Timeout)
		if err != nil {
			return nil, err
		}
		opts.Transport = transport
	}

	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		userAgent:   opts.UserAgent,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		timeout:     opts.Timeout,
		transport:   opts.Transport,
		codec:       opts.Codec,
		cookies:     newCookieSet(opts.Cookie),
	}
	c.Log = logger.NewLogger(c, session)
	return c, nil
}

// WithCookie returns a client sharing this client's configuration with a fresh cookie set.
func (c *Client) WithCookie(cookie string, session *model.Session) *Client {
	clone := &Client{
		baseURL:     c.baseURL,
		userAgent:   c.userAgent,
		maxAttempts: c.maxAttempts,
		retryDelay:  c.retryDelay,
		timeout:     c.timeout,
		transport:   c.transport,
		codec:       c.codec,
		cookies:     newCookieSet(cookie),
	}
	clone.Log = logger.NewLogger(clone, session)
	return clone
}

func (c *Client) CookieString() string { return c.cookies.String() }

func (c *Client) Cookie(name string) string { return c.cookies.get(name) }

func (c *Client) HasCookie(name string) bool { return c.cookies.has(name) }

func (c *Client) HasCookies() bool { return c.cookies.len() > 0 }

// CSRFToken returns the __csrf cookie, or a random token fixed for the lifetime of the client.
func (c *Client) CSRFToken() string {
	if v := c.cookies.get("__csrf"); v != "" {
		return v
	}
	c.csrfOnce.Do(func() {
		token, err := utils.GenerateRandomHex(16)
		if err != nil {
			token = strings.Repeat("0", 32)
		}
		c.csrfFallback = token
	})
	return c.csrfFallback
}

func (c *Client) generateHeaders(hasBody bool) (map[string]string, []string) {
	headers := map[string]string{
		"Accept":          "*/*",
		"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
		"User-Agent":      c.userAgent,
		"Referer":         c.baseURL + "/",
		"Origin":          c.baseURL,
	}
	order := []string{"accept", "accept-language", "content-type", "cookie", "origin", "referer", "user-agent"}
	if hasBody {
		headers["Content-Type"] = "application/x-www-form-urlencoded"
	}
	if cookie := c.cookies.String(); cookie != "" {
		headers["Cookie"] = cookie
	}
	return headers, order
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// encodeBody builds the form body. Encrypted bodies carry only params and encSecKey.
func (c *Client) encodeBody(payload any, encrypt bool) ([]byte, error) {
	if encrypt {
		wrapped, err := c.codec.WrapJSON(payload)
		if err != nil {
			return nil, err
		}
		values, err := query.Values(wrapped)
		if err != nil {
			return nil, fmt.Errorf("failed to encode envelope form: %w", err)
		}
		return []byte(values.Encode()), nil
	}

	switch m := payload.(type) {
	case map[string]any:
		form := make(url.Values, len(m))
		for key, value := range m {
			form.Set(key, fmt.Sprint(value))
		}
		return []byte(form.Encode()), nil
	case map[string]string:
		form := make(url.Values, len(m))
		for key, value := range m {
			form.Set(key, value)
		}
		return []byte(form.Encode()), nil
	}

	encoded, err := utils.EncodeURLParams(payload)
	if err != nil {
		return nil, err
	}
	return []byte(encoded), nil
}

// Call performs one logical request. A non-nil error means the request could not be
// attempted at all or ctx ended; platform and transport failures come back as codes.
func (c *Client) Call(ctx context.Context, method, path string, payload any, encrypt bool) (*Response, error) {
	method = strings.ToUpper(method)
	if method == "" {
		method = http.MethodGet
	}
	endpoint := c.resolve(path)

	var body []byte
	if method != http.MethodGet && payload != nil {
		encoded, err := c.encodeBody(payload, encrypt)
		if err != nil {
			return nil, err
		}
		body = encoded
	}

	var lastStatus int
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		headers, order := c.generateHeaders(body != nil)
		c.Log.JustLog(fmt.Sprintf("%s %s (attempt %d/%d, encrypted=%t)", method, path, attempt, c.maxAttempts, encrypt && body != nil))

		raw, err := c.doOnce(ctx, &RawRequest{Method: method, URL: endpoint, Header: headers, HeaderOrder: order, Body: body})
		switch {
		case err != nil:
			var reqErr *requestError
			if errors.As(err, &reqErr) {
				return nil, reqErr
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr, lastStatus = err, 0
			c.Log.JustLog(fmt.Sprintf("Request error [%s]: %v", path, err))

		case raw.StatusCode < 200 || raw.StatusCode > 299:
			c.cookies.merge(raw.Header)
			lastErr, lastStatus = fmt.Errorf("unexpected status %d", raw.StatusCode), raw.StatusCode
			c.Log.JustLog(fmt.Sprintf("HTTP %d [%s]: %s", raw.StatusCode, path, utils.Truncate(string(raw.Body), logBodyLimit)))

		default:
			c.cookies.merge(raw.Header)
			if res, ok := parseBody(raw.StatusCode, raw.Body); ok {
				c.Log.JustLog(fmt.Sprintf("Response [%s] code=%d: %s", path, res.Code, utils.Truncate(string(raw.Body), logBodyLimit)))
				return res, nil
			}
			lastErr, lastStatus = errNonJSON, raw.StatusCode
			c.Log.JustLog(fmt.Sprintf("Non-JSON response [%s] status=%d: %s", path, raw.StatusCode, utils.Truncate(string(raw.Body), logBodyLimit)))
		}

		if attempt < c.maxAttempts {
			if err := sleepCtx(ctx, c.retryDelay); err != nil {
				return nil, err
			}
		}
	}

	if errors.Is(lastErr, errNonJSON) {
		c.Log.JustLog(fmt.Sprintf("Giving up on %s after %d attempts: non-JSON body", path, c.maxAttempts))
		return synthetic(CodeNonJSON, lastStatus, "non-JSON response"), nil
	}
	c.Log.JustLog(fmt.Sprintf("Giving up on %s after %d attempts: %v", path, c.maxAttempts, lastErr))
	return synthetic(CodeTransport, lastStatus, lastErr.Error()), nil
}

// Download fetches a binary asset with the session's identity headers.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		headers, order := c.generateHeaders(false)
		headers["Accept"] = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"

		raw, err := c.doOnce(ctx, &RawRequest{Method: http.MethodGet, URL: c.resolve(rawURL), Header: headers, HeaderOrder: order})
		switch {
		case err != nil:
			var reqErr *requestError
			if errors.As(err, &reqErr) {
				return nil, reqErr
			}
			lastErr = err
		case raw.StatusCode < 200 || raw.StatusCode > 299:
			lastErr = fmt.Errorf("unexpected status %d", raw.StatusCode)
		default:
			return raw.Body, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if attempt < c.maxAttempts {
			if err := sleepCtx(ctx, c.retryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("download %s: %w", utils.Truncate(rawURL, 80), lastErr)
}

func (c *Client) doOnce(ctx context.Context, req *RawRequest) (*RawResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.transport.Do(attemptCtx, req)
}

var errNonJSON = errors.New("non-JSON response")

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
