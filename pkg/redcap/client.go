package redcap

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ClientConfig configures the REDCap API client.
//
// Zero values get defaults: Timeout 60s.
type ClientConfig struct {
	// URL is the API endpoint, e.g. https://redcap.example.org/api/.
	URL string

	// Token is the project API token.
	Token string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// Transport overrides the default transport, mainly for tests.
	Transport http.RoundTripper

	Logger *slog.Logger
}

var _ Source = (*Client)(nil)

// Client talks to the REDCap API. Every call is a form-encoded POST that
// asks for JSON.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a Client, applying defaults for zero values.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redcap: api url must not be empty")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("redcap: api token must not be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicitly configurable
			},
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		url:   cfg.URL,
		token: cfg.Token,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger: logger,
	}, nil
}

// APIError is an error reported by the REDCap server.
type APIError struct {
	Content    string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("redcap api %s: status %d: %s", e.Content, e.StatusCode, e.Message)
}

// post sends one API request and returns the raw response body.
func (c *Client) post(ctx context.Context, content string, params url.Values) ([]byte, error) {
	form := url.Values{}
	form.Set("token", c.token)
	form.Set("content", content)
	form.Set("format", "json")
	form.Set("returnFormat", "json")
	for k, vs := range params {
		for _, v := range vs {
			form.Add(k, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("redcap: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("redcap: %s request: %w", content, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("redcap: read %s response: %w", content, err)
	}
	c.logger.Debug("redcap api call",
		slog.String("content", content),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Content: content, StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

// errorMessage extracts {"error": "..."} bodies, falling back to the raw text.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) get(ctx context.Context, content string, params url.Values, dst any) error {
	body, err := c.post(ctx, content, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("redcap: decode %s: %w", content, err)
	}
	return nil
}

func (c *Client) ProjectInfo(ctx context.Context) (ProjectInfo, error) {
	var info ProjectInfo
	err := c.get(ctx, "project", nil, &info)
	return info, err
}

func (c *Client) Metadata(ctx context.Context) ([]FieldMetadata, error) {
	var out []FieldMetadata
	err := c.get(ctx, "metadata", nil, &out)
	return out, err
}

func (c *Client) Instruments(ctx context.Context) ([]Instrument, error) {
	var out []Instrument
	err := c.get(ctx, "instrument", nil, &out)
	return out, err
}

func (c *Client) Events(ctx context.Context) ([]Event, error) {
	var out []Event
	err := c.get(ctx, "event", nil, &out)
	return out, err
}

func (c *Client) FormEventMappings(ctx context.Context) ([]FormEventMapping, error) {
	var out []FormEventMapping
	err := c.get(ctx, "formEventMapping", nil, &out)
	return out, err
}

func (c *Client) RepeatingForms(ctx context.Context) ([]RepeatingForm, error) {
	var out []RepeatingForm
	err := c.get(ctx, "repeatingFormsEvents", nil, &out)
	return out, err
}

func (c *Client) RecordIDs(ctx context.Context, recordIDField, filterLogic string) ([]string, error) {
	params := url.Values{}
	params.Set("type", "flat")
	params.Set("fields[0]", recordIDField)
	if filterLogic != "" {
		params.Set("filterLogic", filterLogic)
	}
	body, err := c.post(ctx, "record", params)
	if err != nil {
		return nil, err
	}
	rows, err := DecodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("redcap: decode record ids: %w", err)
	}
	var ids []string
	seen := map[string]bool{}
	for _, r := range rows {
		id := r[recordIDField]
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Client) Records(ctx context.Context, ids []string) ([]Record, error) {
	params := url.Values{}
	params.Set("type", "flat")
	params.Set("exportDataAccessGroups", "true")
	for i, id := range ids {
		params.Set("records["+strconv.Itoa(i)+"]", id)
	}
	body, err := c.post(ctx, "record", params)
	if err != nil {
		return nil, err
	}
	rows, err := DecodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("redcap: decode records: %w", err)
	}
	return rows, nil
}
