// Package bfl implements the Black Forest Labs flux API: a job is submitted,
// then its result is polled until it settles.
package bfl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pixelbot/pixelbot/internal/ailink/content"
	"github.com/pixelbot/pixelbot/internal/ailink/driver"
	"github.com/pixelbot/pixelbot/internal/ailink/encode"
)

const (
	providerName = "bfl"

	DefaultBaseURL      = "https://api.bfl.ai"
	DefaultModel        = "flux-pro-1.1"
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 300 * time.Second
)

// Client talks to the flux API.
type Client struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client

	// PollInterval spaces result polls; Timeout bounds the whole poll.
	PollInterval time.Duration
	Timeout      time.Duration

	SafetyTolerance  int
	PromptUpsampling bool
	OutputFormat     string
}

// NewClient returns a client with defaults applied.
func NewClient(baseURL, apiKey string) *Client {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		BaseURL:         base,
		APIKey:          strings.TrimSpace(apiKey),
		Model:           DefaultModel,
		PollInterval:    DefaultPollInterval,
		Timeout:         DefaultTimeout,
		SafetyTolerance: 2,
		OutputFormat:    "jpeg",
	}
}

// Name returns the driver identifier.
func (c *Client) Name() string {
	return providerName
}

// Job identifies a submitted generation.
type Job struct {
	ID         string `json:"id"`
	PollingURL string `json:"polling_url,omitempty"`
}

type submitRequest struct {
	Prompt           string `json:"prompt"`
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
	PromptUpsampling bool   `json:"prompt_upsampling"`
	Seed             *int   `json:"seed,omitempty"`
	SafetyTolerance  int    `json:"safety_tolerance"`
	OutputFormat     string `json:"output_format,omitempty"`
	ImagePrompt      string `json:"image_prompt,omitempty"`
}

// Submit starts a generation job.
func (c *Client) Submit(ctx context.Context, req *driver.ImageRequest) (*Job, error) {
	if c == nil {
		return nil, fmt.Errorf("bfl client not configured")
	}
	if c.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	width, height := req.Width, req.Height
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 1024
	}

	payload := submitRequest{
		Prompt:           req.Prompt,
		Width:            width,
		Height:           height,
		PromptUpsampling: c.PromptUpsampling,
		Seed:             req.Seed,
		SafetyTolerance:  c.SafetyTolerance,
		OutputFormat:     firstNonEmpty(req.OutputFormat, c.OutputFormat),
	}
	if len(req.InputImage) > 0 {
		payload.ImagePrompt = encode.EncodeBase64String(req.InputImage)
	}

	model := firstNonEmpty(req.Model, c.Model, DefaultModel)
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/v1/" + model

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	respBody, err := c.do(httpReq, model, body)
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal(respBody, &job); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("bfl returned no job id")
	}
	return &job, nil
}

// GetResult fetches the current state of a job once.
func (c *Client) GetResult(ctx context.Context, job *Job) (*Result, error) {
	if job == nil || job.ID == "" {
		return nil, fmt.Errorf("job id is required")
	}

	endpoint := job.PollingURL
	if endpoint == "" {
		endpoint = strings.TrimRight(c.BaseURL, "/") + "/v1/get_result"
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid polling url: %w", err)
	}
	query := parsed.Query()
	if query.Get("id") == "" {
		query.Set("id", job.ID)
		parsed.RawQuery = query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	respBody, err := c.do(httpReq, "", nil)
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if result.ID == "" {
		result.ID = job.ID
	}
	return &result, nil
}

// GenerateImage submits a job and polls it to completion.
func (c *Client) GenerateImage(ctx context.Context, req *driver.ImageRequest) (*driver.ImageResponse, error) {
	job, err := c.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := c.PollResult(ctx, job)
	if err != nil {
		return nil, err
	}

	format := firstNonEmpty(req.OutputFormat, c.OutputFormat)
	return &driver.ImageResponse{
		ID:           job.ID,
		Created:      time.Now().Unix(),
		OutputFormat: format,
		Size:         fmt.Sprintf("%dx%d", result.Result.Width, result.Result.Height),
		Images: []content.ContentBlock{{
			Type: content.ContentTypeURL,
			Text: result.Result.Sample,
		}},
	}, nil
}

func (c *Client) do(httpReq *http.Request, model string, reqBody []byte) ([]byte, error) {
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-key", c.APIKey)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	exchange := driver.Exchange{
		Driver:   providerName,
		Method:   httpReq.Method,
		Endpoint: redactURL(httpReq.URL),
		Model:    model,
		Request:  reqBody,
		Started:  time.Now(),
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		exchange.Err = err
		driver.TraceExchange(exchange)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	body, err := io.ReadAll(resp.Body)
	exchange.StatusCode = resp.StatusCode
	exchange.Response = body
	exchange.Err = err
	driver.TraceExchange(exchange)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, driver.NewProviderError(providerName, resp, body)
	}
	return body, nil
}

func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	clone := *u
	clone.RawQuery = ""
	return clone.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
