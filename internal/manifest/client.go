package manifest

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ipsix/coresum/internal/logging"
)

const (
	DefaultAPIURL    = "https://api.finpress.org/core/checksums/1.0/"
	DefaultLocale    = "en_US"
	DefaultUserAgent = "coresum/1.0"
	maxResponseBytes = 32 << 20
)

// Source yields the manifest of one release.
type Source interface {
	Fetch(ctx context.Context, version, locale string) (*Manifest, error)
}

// Client downloads manifests from the core checksum API.
type Client struct {
	BaseURL   string
	UserAgent string
	// Insecure retries a download once without certificate verification
	// when the first attempt fails during the TLS handshake.
	Insecure bool
	Client   *http.Client
	logger   *logging.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:   baseURL,
		UserAgent: DefaultUserAgent,
		Client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

func (c *Client) Fetch(ctx context.Context, version, locale string) (*Manifest, error) {
	if version == "" {
		return nil, fmt.Errorf("%w: version is required", ErrUnavailable)
	}
	if locale == "" {
		locale = DefaultLocale
	}
	endpoint, err := c.endpoint(version, locale)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	raw, err := c.get(ctx, c.Client, endpoint)
	if err != nil && c.Insecure && isTLSError(err) {
		if c.logger != nil {
			c.logger.Warn("retrying manifest download without certificate validation",
				logging.Field{Key: "url", Value: endpoint},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
		raw, err = c.get(ctx, insecureClient(c.Client), endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	m, err := ParseResponse(raw, version)
	if err != nil {
		return nil, err
	}
	if c.logger != nil {
		c.logger.Debug("manifest downloaded",
			logging.Field{Key: "version", Value: version},
			logging.Field{Key: "locale", Value: locale},
			logging.Field{Key: "entries", Value: m.Len()},
		)
	}
	return m, nil
}

func (c *Client) endpoint(version, locale string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	q := u.Query()
	q.Set("version", version)
	q.Set("locale", locale)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

// ParseResponse extracts the manifest of version from an API response body.
// The API answers {"checksums": {...}} for a single release, a map keyed by
// version when several match, and {"checksums": false} when it knows nothing.
func ParseResponse(raw []byte, version string) (*Manifest, error) {
	var envelope struct {
		Checksums json.RawMessage `json:"checksums"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	body := bytes.TrimSpace(envelope.Checksums)
	if len(body) == 0 || body[0] != '{' {
		return nil, fmt.Errorf("%w: Couldn't get checksums from FinPress.org.", ErrUnavailable)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("%w: decode checksums: %v", ErrUnavailable, err)
	}
	if perVersion, ok := probe[version]; ok && isObject(perVersion) {
		body = perVersion
	} else {
		for key, value := range probe {
			if isObject(value) {
				return nil, fmt.Errorf("%w: no checksums for version %s (found %s)", ErrUnavailable, version, key)
			}
		}
	}

	m, err := decodeObject(json.NewDecoder(bytes.NewReader(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if m.Len() == 0 {
		return nil, fmt.Errorf("%w: manifest for %s is empty", ErrUnavailable, version)
	}
	return m, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func isTLSError(err error) bool {
	var (
		recordErr  tls.RecordHeaderError
		verifyErr  *tls.CertificateVerificationError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	return errors.As(err, &recordErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &unknownCA) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr)
}

func insecureClient(base *http.Client) *http.Client {
	var transport *http.Transport
	if t, ok := base.Transport.(*http.Transport); ok && t != nil {
		transport = t.Clone()
	} else if base.Transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	} else {
		// A custom RoundTripper cannot be reconfigured; reuse it as is.
		return base
	}
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	}
	transport.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec // opt-in via --insecure
	return &http.Client{Transport: transport, Timeout: base.Timeout}
}
