// Package encode holds the payload encodings providers expect.
package encode

import (
	"encoding/base64"
	"strings"
)

func DecodeBase64String(value string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(value)
}

func EncodeBase64String(value []byte) string {
	return base64.StdEncoding.EncodeToString(value)
}

// DataURL renders bytes as a data: URL with the given media type.
func DataURL(mediaType string, value []byte) string {
	return "data:" + strings.TrimSpace(mediaType) + ";base64," + EncodeBase64String(value)
}
