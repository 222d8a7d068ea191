// Package content models provider output independent of the provider.
package content

// ContentType represents supported content types using IANA media types.
type ContentType string

const (
	ContentTypeText ContentType = "text/plain"
	// ContentTypeURL marks a block whose Text is a link to the image rather
	// than its bytes.
	ContentTypeURL  ContentType = "text/uri-list"
	ContentTypeJPEG ContentType = "image/jpeg"
	ContentTypePNG  ContentType = "image/png"
	ContentTypeWebP ContentType = "image/webp"
)

// ImageType returns the media type for an output format name such as
// "jpeg", "jpg", "png" or "webp".
func ImageType(format string) ContentType {
	switch format {
	case "jpg", "jpeg":
		return ContentTypeJPEG
	case "webp":
		return ContentTypeWebP
	case "png", "":
		return ContentTypePNG
	default:
		return ContentType("image/" + format)
	}
}

// ContentBlock represents a single piece of content.
type ContentBlock struct {
	Type    ContentType `json:"type"`
	Text    string      `json:"text,omitempty"`
	Data    []byte      `json:"data,omitempty"`
	DataURL string      `json:"data_url,omitempty"`
}

// IsURL reports whether the block references remote content.
func (b ContentBlock) IsURL() bool {
	return b.Type == ContentTypeURL
}
