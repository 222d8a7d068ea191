// Package appid holds the application identity used for binary naming, the
// env var prefix, XDG paths and the telemetry namespace.
package appid

import (
	"github.com/fulmenhq/gofulmen/appidentity"
)

var identity = appidentity.Identity{
	BinaryName:  "pixelbot",
	EnvPrefix:   "PIXELBOT_",
	ConfigName:  "pixelbot",
	Description: "Telegram image generation bot with admission control",
}

// Get returns a copy of the application identity.
func Get() *appidentity.Identity {
	id := identity
	return &id
}
