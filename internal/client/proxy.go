package client

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oaf-tools/scraperutils/internal/types"
)

// DefaultIPEchoURL answers with the caller's public IP in plain text.
const DefaultIPEchoURL = "https://whatismyip.akamai.com/"

// VerifyProxy fetches the public IP through the proxy and fails when the
// endpoint does not answer with a valid IP address. Run at setup time so
// a dead or lying proxy aborts before any scraping begins.
func VerifyProxy(proxyURL *url.URL, echoURL string, logger *slog.Logger) (string, error) {
	if echoURL == "" {
		echoURL = DefaultIPEchoURL
	}

	client := &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
	}

	resp, err := client.Get(echoURL)
	if err != nil {
		return "", &types.ProxyError{URL: proxyURL.Redacted(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", &types.ProxyError{URL: proxyURL.Redacted(), Err: err}
	}

	ip := strings.TrimSpace(string(data))
	if net.ParseIP(ip) == nil {
		return "", &types.ProxyError{
			URL: proxyURL.Redacted(),
			Err: fmt.Errorf("ip echo returned %q, not a valid IP", ip),
		}
	}

	logger.Info("proxy verified", "proxy", proxyURL.Host, "public_ip", ip)
	return ip, nil
}
