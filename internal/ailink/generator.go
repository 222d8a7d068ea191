// Package ailink builds the configured image provider and wraps it with
// per-host pacing.
package ailink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pixelbot/pixelbot/internal/ailink/driver"
	"github.com/pixelbot/pixelbot/internal/ailink/driver/bfl"
	"github.com/pixelbot/pixelbot/internal/ailink/driver/openai"
	"github.com/pixelbot/pixelbot/internal/config"
	"github.com/pixelbot/pixelbot/internal/core/pacing"
)

// NewGenerator returns the driver selected by image.provider.
func NewGenerator(cfg config.ImageConfig) (driver.ImageGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "bfl":
		client := bfl.NewClient(cfg.BFL.BaseURL, cfg.BFL.APIKey)
		if cfg.BFL.Model != "" {
			client.Model = cfg.BFL.Model
		}
		if cfg.PollInterval > 0 {
			client.PollInterval = cfg.PollInterval
		}
		if cfg.Timeout > 0 {
			client.Timeout = cfg.Timeout
		}
		client.SafetyTolerance = cfg.BFL.SafetyTolerance
		client.PromptUpsampling = cfg.BFL.PromptUpsampling
		if cfg.BFL.OutputFormat != "" {
			client.OutputFormat = cfg.BFL.OutputFormat
		}
		return client, nil
	case "openai":
		client := openai.NewClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey)
		client.Model = cfg.OpenAI.Model
		client.Timeout = cfg.Timeout
		return client, nil
	default:
		return nil, fmt.Errorf("image provider %q is not supported", cfg.Provider)
	}
}

// ProviderHost returns the upstream host used for pacing the configured
// provider.
func ProviderHost(cfg config.ImageConfig) string {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		return pacing.HostOf(firstNonEmpty(cfg.OpenAI.BaseURL, "https://api.openai.com"))
	default:
		return pacing.HostOf(firstNonEmpty(cfg.BFL.BaseURL, bfl.DefaultBaseURL))
	}
}

// ErrProviderBusy is returned by Paced when the provider's budget is spent
// or it asked us to back off.
var ErrProviderBusy = errors.New("image provider is busy")

// BusyError carries how long the provider should be left alone.
type BusyError struct {
	Host string
	Wait time.Duration
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s: %s (retry in %s)", ErrProviderBusy, e.Host, e.Wait.Round(time.Second))
}

func (e *BusyError) Unwrap() error { return ErrProviderBusy }

// Paced gates a generator with a pacing.Limiter keyed by Host.
type Paced struct {
	Generator driver.ImageGenerator
	Limiter   *pacing.Limiter
	Host      string
}

// Name returns the wrapped driver's name.
func (p *Paced) Name() string {
	return p.Generator.Name()
}

// GenerateImage refuses with *BusyError while the host is over budget,
// counts each call, and stores provider 429 backoffs. A backoff that could
// not be stored is joined onto the provider error.
func (p *Paced) GenerateImage(ctx context.Context, req *driver.ImageRequest) (*driver.ImageResponse, error) {
	ok, wait, err := p.Limiter.Acquire(ctx, p.Host)
	if err != nil {
		return nil, fmt.Errorf("provider pacing: %w", err)
	}
	if !ok {
		return nil, &BusyError{Host: p.Host, Wait: wait}
	}

	resp, err := p.Generator.GenerateImage(ctx, req)
	var perr *driver.ProviderError
	if errors.As(err, &perr) && errors.Is(err, driver.ErrProviderRateLimited) {
		// Detach from ctx so a cancelled request still stores the backoff.
		if serr := p.Limiter.Record429(context.WithoutCancel(ctx), p.Host, perr.RetryAfter); serr != nil {
			err = errors.Join(err, fmt.Errorf("store provider backoff: %w", serr))
		}
	}
	return resp, err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
