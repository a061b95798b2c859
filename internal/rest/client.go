// Package rest is a client for the trading REST API: account, orders, positions,
// assets, calendar and clock.
//
// Every request carries the APCA-API-KEY-ID and APCA-API-SECRET-KEY headers and waits
// on a shared rate limiter before it is sent. Responses outside 2xx are returned as
// *APIError.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	PaperURL = "https://paper-api.alpaca.markets/v2"
	LiveURL  = "https://api.alpaca.markets/v2"

	headerKeyID     = "APCA-API-KEY-ID"
	headerSecretKey = "APCA-API-SECRET-KEY"

	defaultRequestsPerMinute = 200
	defaultTimeout           = 30 * time.Second
	maxErrorBody             = 64 << 10
)

// ErrMissingCredentials is returned by New when the key id or secret key is empty.
var ErrMissingCredentials = errors.New("missing api credentials")

// APIError is a response with a status outside 2xx.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("api error: status %d code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

// Config configures a Client.
type Config struct {
	BaseURL   string // default PaperURL
	KeyID     string
	SecretKey string

	// RequestsPerMinute bounds the request rate. Default 200, the API's own limit.
	RequestsPerMinute int
	Timeout           time.Duration

	// HTTPClient replaces the default client; Timeout is ignored when it is set.
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	base      *url.URL
	keyID     string
	secretKey string
	http      *http.Client
	limiter   *rate.Limiter
	logger    zerolog.Logger
}

// New returns a Client for cfg.
func New(cfg Config) (*Client, error) {
	if cfg.KeyID == "" || cfg.SecretKey == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = PaperURL
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", cfg.BaseURL)
	}

	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		base:      base,
		keyID:     cfg.KeyID,
		secretKey: cfg.SecretKey,
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute),
		logger: log.With().
			Str("component", "rest").
			Str("baseURL", base.String()).
			Logger(),
	}, nil
}

// do sends one request. in is encoded as the JSON body when not nil; the response body
// is decoded into out when out is not nil and the body is not empty.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, in, out any) error {
	u := c.base.JoinPath(endpoint)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, endpoint, err)
	}
	req.Header.Set(headerKeyID, c.keyID)
	req.Header.Set(headerSecretKey, c.secretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, endpoint, err)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, endpoint, err)
	}
	return nil
}

// decodeAPIError reads the {"code","message"} body the API sends with errors. A body
// that is not JSON becomes the message.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(data, apiErr); err != nil {
		apiErr.Code = 0
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
