package weather

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	mpkg "github.com/local/smartgarden/internal/metrics"
)

const (
	DefaultURL      = "http://api.weatherstack.com/current"
	DefaultLocation = "Hanoi"

	providerName = "weatherstack"
	maxBodyBytes = 1 << 20
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("weather API key not configured")

// APIError is a failure reported by the weather provider, either as an HTTP
// status or as a {"success":false,"error":{...}} body.
type APIError struct {
	StatusCode int
	Code       int
	Type       string
	Info       string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s error %d (%s): %s", providerName, e.Code, e.Type, e.Info)
	}
	return fmt.Sprintf("%s status %d: %s", providerName, e.StatusCode, e.Info)
}

type Options struct {
	APIKey          string
	URL             string
	DefaultLocation string
	Timeout         time.Duration
	HTTPClient      *http.Client
}

// Client fetches current conditions and hands the provider's JSON back as is.
type Client struct {
	http     *http.Client
	apiKey   string
	baseURL  string
	location string
	timeout  time.Duration
}

func NewClient(opts Options) *Client {
	c := &Client{
		http:     opts.HTTPClient,
		apiKey:   opts.APIKey,
		baseURL:  opts.URL,
		location: opts.DefaultLocation,
		timeout:  opts.Timeout,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.baseURL == "" {
		c.baseURL = DefaultURL
	}
	if c.location == "" {
		c.location = DefaultLocation
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	return c
}

type providerError struct {
	Success *bool `json:"success"`
	Error   *struct {
		Code int    `json:"code"`
		Type string `json:"type"`
		Info string `json:"info"`
	} `json:"error"`
}

// Current returns the provider's report for location, or for the default
// location when location is blank.
func (c *Client) Current(ctx context.Context, location string) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	location = strings.TrimSpace(location)
	if location == "" {
		location = c.location
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("weather url: %w", err)
	}
	q := u.Query()
	q.Set("access_key", c.apiKey)
	q.Set("query", location)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := c.do(httpReq)
	result := "success"
	if err != nil {
		result = "fatal"
	}
	mpkg.ObserveProvider(providerName, "current", result, time.Since(start))
	if err != nil {
		log.Warn().Err(err).Str("location", location).Msg("weather lookup failed")
		return nil, err
	}
	log.Debug().Str("location", location).Dur("duration", time.Since(start)).Msg("weather lookup success")
	return body, nil
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", providerName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", providerName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Info: snippet(body)}
	}

	var pe providerError
	if err := json.Unmarshal(body, &pe); err != nil {
		return nil, fmt.Errorf("%s returned invalid JSON: %w", providerName, err)
	}
	if pe.Error != nil || (pe.Success != nil && !*pe.Success) {
		ae := &APIError{StatusCode: resp.StatusCode}
		if pe.Error != nil {
			ae.Code, ae.Type, ae.Info = pe.Error.Code, pe.Error.Type, pe.Error.Info
		}
		return nil, ae
	}
	return json.RawMessage(bytes.TrimSpace(body)), nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
