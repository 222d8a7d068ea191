// Package driver defines the provider-neutral image generation contract.
package driver

import (
	"context"

	"github.com/pixelbot/pixelbot/internal/ailink/content"
)

// ImageGenerator produces images from a prompt.
type ImageGenerator interface {
	// GenerateImage runs one generation and blocks until the provider has a
	// result or ctx ends.
	GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResponse, error)
	// Name returns the driver identifier (e.g., "bfl").
	Name() string
}

// ImageRequest is a provider-agnostic image request.
type ImageRequest struct {
	Model        string
	Prompt       string
	Count        int
	Size         string
	Width        int
	Height       int
	Quality      string
	OutputFormat string
	Background   string
	Seed         *int
	// InputImage is an optional source image for edits and enhancements.
	InputImage []byte
	Metadata   map[string]string
}

// ImageResponse is a provider-agnostic image result.
type ImageResponse struct {
	// ID is the provider's job id when it has one.
	ID           string
	Created      int64
	OutputFormat string
	Size         string
	Quality      string
	Images       []content.ContentBlock
}

// First returns the first image block.
func (r *ImageResponse) First() (content.ContentBlock, bool) {
	if r == nil || len(r.Images) == 0 {
		return content.ContentBlock{}, false
	}
	return r.Images[0], true
}
