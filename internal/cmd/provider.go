package cmd

import (
	"github.com/pixelbot/pixelbot/internal/ailink"
	"github.com/pixelbot/pixelbot/internal/config"
	"github.com/pixelbot/pixelbot/internal/core/pacing"
)

// newPacedGenerator builds the configured provider behind a limiter whose
// state lives in st.
func newPacedGenerator(cfg config.ImageConfig, st pacing.Store) (*ailink.Paced, error) {
	gen, err := ailink.NewGenerator(cfg)
	if err != nil {
		return nil, invalidConfig(err)
	}

	host := ailink.ProviderHost(cfg)
	limiter := &pacing.Limiter{Store: st, Margin: cfg.PacingMargin}
	limiter.Override(map[string]int{host: cfg.ProviderRequestsPerMinute})

	return &ailink.Paced{Generator: gen, Limiter: limiter, Host: host}, nil
}
