package ota

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/autopeer-io/fwagent/pkg/options"
)

type httpSource struct {
	client *http.Client
	url    string
}

var _ Source = (*httpSource)(nil)

// NewHTTPClient builds the client used for http(s) locators. There is no
// overall timeout: only connecting and waiting for headers are bounded, a
// stalled body is bounded by the session context.
func NewHTTPClient(opts *options.OTAOptions) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: opts.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ota ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: opts.DownloadTimeout}).DialContext,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   opts.DownloadTimeout,
		ResponseHeaderTimeout: opts.DownloadTimeout,
		IdleConnTimeout:       90 * time.Second,
	}

	return &http.Client{Transport: transport}, nil
}

func (s *httpSource) Open(ctx context.Context, offset int64) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, 0, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		size := resp.ContentLength
		if offset > 0 {
			// The server ignored the range; drop what is already in the bank.
			if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
				resp.Body.Close()
				return nil, 0, fmt.Errorf("skip %d bytes: %w", offset, err)
			}
		}
		return resp.Body, size, nil

	case http.StatusPartialContent:
		start, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			resp.Body.Close()
			return nil, 0, err
		}
		if start != offset {
			resp.Body.Close()
			return nil, 0, fmt.Errorf("server resumed at %d, want %d", start, offset)
		}
		return resp.Body, total, nil

	default:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("unexpected response status %s", resp.Status)
	}
}

// parseContentRange parses "bytes start-end/total". total is -1 for "*".
func parseContentRange(v string) (int64, int64, error) {
	rest, ok := strings.CutPrefix(v, "bytes ")
	if !ok {
		return 0, 0, fmt.Errorf("malformed Content-Range %q", v)
	}
	rng, size, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, fmt.Errorf("malformed Content-Range %q", v)
	}
	first, _, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed Content-Range %q", v)
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed Content-Range %q: %w", v, err)
	}
	if size == "*" {
		return start, -1, nil
	}
	total, err := strconv.ParseInt(size, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed Content-Range %q: %w", v, err)
	}
	return start, total, nil
}
