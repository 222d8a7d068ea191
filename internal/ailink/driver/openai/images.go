package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pixelbot/pixelbot/internal/ailink/content"
	"github.com/pixelbot/pixelbot/internal/ailink/driver"
	"github.com/pixelbot/pixelbot/internal/ailink/encode"
)

type imageGenerationRequest struct {
	Model        string `json:"model,omitempty"`
	Prompt       string `json:"prompt"`
	N            int    `json:"n,omitempty"`
	Size         string `json:"size,omitempty"`
	Quality      string `json:"quality,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
	Background   string `json:"background,omitempty"`
	// response_format is used for DALL·E models; GPT image models always return base64.
	ResponseFormat string `json:"response_format,omitempty"`
}

type imageGenerationResponse struct {
	Created      int64  `json:"created"`
	OutputFormat string `json:"output_format,omitempty"`
	Size         string `json:"size,omitempty"`
	Quality      string `json:"quality,omitempty"`
	Data         []struct {
		B64JSON string `json:"b64_json,omitempty"`
		URL     string `json:"url,omitempty"`
	} `json:"data"`
}

// GenerateImage calls images/generations. OpenAI answers synchronously, so
// there is no polling step.
func (c *Client) GenerateImage(ctx context.Context, req *driver.ImageRequest) (*driver.ImageResponse, error) {
	if c == nil {
		return nil, fmt.Errorf("openai client not configured")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if len(req.InputImage) > 0 {
		return nil, fmt.Errorf("openai driver does not support input images")
	}

	count := req.Count
	if count <= 0 {
		count = 1
	}
	if count > 10 {
		return nil, fmt.Errorf("count must be between 1 and 10")
	}

	payload := imageGenerationRequest{
		Model:   firstNonEmpty(req.Model, c.Model, "gpt-image-1"),
		Prompt:  req.Prompt,
		N:       count,
		Size:    strings.TrimSpace(req.Size),
		Quality: strings.TrimSpace(req.Quality),
	}
	if payload.Size == "" && req.Width > 0 && req.Height > 0 {
		payload.Size = fmt.Sprintf("%dx%d", req.Width, req.Height)
	}

	// DALL·E models require response_format and do not support output_format/background.
	// DALL·E 3 expects quality standard|hd; default "auto" coerces to standard.
	// GPT image models accept output_format/background and always return base64.
	if strings.HasPrefix(payload.Model, "dall-e") {
		payload.ResponseFormat = "b64_json"
		q := strings.ToLower(strings.TrimSpace(payload.Quality))
		if q == "" || q == "auto" {
			payload.Quality = "standard"
		}
	} else {
		payload.OutputFormat = strings.TrimSpace(req.OutputFormat)
		payload.Background = strings.TrimSpace(req.Background)
	}

	ctx, cancel := withTimeout(ctx, c.Timeout)
	if cancel != nil {
		defer cancel()
	}

	respBody, err := c.post(ctx, "/images/generations", payload.Model, payload)
	if err != nil {
		return nil, err
	}

	var parsed imageGenerationResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	format := parsed.OutputFormat
	if format == "" {
		format = strings.ToLower(strings.TrimSpace(req.OutputFormat))
	}

	blocks := make([]content.ContentBlock, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		if strings.TrimSpace(item.B64JSON) != "" {
			decoded, err := encode.DecodeBase64String(item.B64JSON)
			if err != nil {
				return nil, fmt.Errorf("decode image base64: %w", err)
			}
			blocks = append(blocks, content.ContentBlock{Type: content.ImageType(format), Data: decoded})
			continue
		}
		if strings.TrimSpace(item.URL) != "" {
			blocks = append(blocks, content.ContentBlock{Type: content.ContentTypeURL, Text: item.URL})
		}
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("openai returned no images")
	}

	return &driver.ImageResponse{
		Created:      parsed.Created,
		OutputFormat: parsed.OutputFormat,
		Size:         parsed.Size,
		Quality:      parsed.Quality,
		Images:       blocks,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
