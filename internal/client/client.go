// Package client provides the default HTTP agent handed to operations.
// The agent dispatches on a method name so the thread pool can invoke it
// generically. One agent may be shared by many operations (the CLI and the
// SDK each share one), so several pool threads can drive it at once; its
// http.Client and cookie jar are safe for concurrent use.
package client

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/publicsuffix"

	"github.com/oaf-tools/scraperutils/internal/config"
	"github.com/oaf-tools/scraperutils/internal/types"
)

// Page is the result of a successful request.
type Page struct {
	StatusCode  int
	Headers     http.Header
	Body        []byte
	FinalURL    string
	ContentType string
	FetchedAt   time.Time
}

// IsSuccess returns true if the response status is 2xx.
func (p *Page) IsSuccess() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300
}

// Agent implements types.Client over net/http.
type Agent struct {
	client    *http.Client
	userAgent string
	cfg       *config.ClientConfig
	logger    *slog.Logger
}

// New creates an Agent from the run configuration. Proxy and user-agent
// problems are fatal here, before any scraping begins.
func New(cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.Client.DisableSSLCheck,
		},
		DisableCompression: true, // We handle decompression ourselves (including brotli)
	}

	if cfg.Proxy.Enabled {
		proxyURL, err := config.ParseProxyURL(cfg.Proxy.URL)
		if err != nil {
			return nil, &types.ProxyError{URL: cfg.Proxy.URL, Err: err}
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		logger.Info("proxy routing enabled", "proxy", proxyURL.Host)
	}

	ua, err := config.BuildUserAgent(cfg, time.Now())
	if err != nil {
		return nil, err
	}

	maxRedirects := cfg.Client.MaxRedirects
	httpClient := &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   cfg.Client.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("max redirects (%d) reached", maxRedirects)
			}
			return nil
		},
	}

	return &Agent{
		client:    httpClient,
		userAgent: ua,
		cfg:       &cfg.Client,
		logger:    logger.With("component", "client"),
	}, nil
}

// UserAgent returns the identity string sent with every request.
func (a *Agent) UserAgent() string { return a.userAgent }

// Do dispatches a named method. Supported: "get" (url [, headers
// map[string]string]) and "post" (url, body string|[]byte|url.Values
// [, headers]). Both return a *Page.
func (a *Agent) Do(ctx context.Context, method string, args ...any) (any, error) {
	switch strings.ToLower(method) {
	case "get":
		rawURL, headers, err := urlAndHeaders(args)
		if err != nil {
			return nil, err
		}
		return a.fetch(ctx, http.MethodGet, rawURL, nil, "", headers)

	case "post":
		if len(args) < 2 {
			return nil, fmt.Errorf("post needs a url and a body")
		}
		rawURL, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("post url must be a string, got %T", args[0])
		}
		body, contentType, err := encodeBody(args[1])
		if err != nil {
			return nil, err
		}
		headers, err := optionalHeaders(args[2:])
		if err != nil {
			return nil, err
		}
		return a.fetch(ctx, http.MethodPost, rawURL, body, contentType, headers)

	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownMethod, method)
	}
}

// Close releases idle connections.
func (a *Agent) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

// fetch executes one HTTP request and reads the (decompressed) body.
func (a *Agent) fetch(ctx context.Context, method, rawURL string, body []byte, contentType string, headers map[string]string) (*Page, error) {
	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-AU,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if a.cfg.MaxBodySize > 0 {
		reader = io.LimitReader(reader, a.cfg.MaxBodySize)
	}
	reader, err = decompressReader(resp, reader)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, rawURL)
	}

	a.logger.Debug("fetch complete",
		"method", method,
		"url", rawURL,
		"status", resp.StatusCode,
		"size", len(data),
	)

	return &Page{
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header,
		Body:        data,
		FinalURL:    resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		FetchedAt:   time.Now(),
	}, nil
}

// decompressReader wraps a reader with the appropriate decompressor.
// Handles gzip, deflate, and brotli (br) encodings.
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

func urlAndHeaders(args []any) (string, map[string]string, error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("get needs a url")
	}
	rawURL, ok := args[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("get url must be a string, got %T", args[0])
	}
	headers, err := optionalHeaders(args[1:])
	if err != nil {
		return "", nil, err
	}
	return rawURL, headers, nil
}

func optionalHeaders(rest []any) (map[string]string, error) {
	if len(rest) == 0 {
		return nil, nil
	}
	headers, ok := rest[0].(map[string]string)
	if !ok {
		return nil, fmt.Errorf("headers must be map[string]string, got %T", rest[0])
	}
	return headers, nil
}

func encodeBody(v any) ([]byte, string, error) {
	switch b := v.(type) {
	case []byte:
		return b, "application/octet-stream", nil
	case string:
		return []byte(b), "text/plain; charset=utf-8", nil
	case url.Values:
		return []byte(b.Encode()), "application/x-www-form-urlencoded", nil
	default:
		return nil, "", fmt.Errorf("unsupported post body type %T", v)
	}
}
