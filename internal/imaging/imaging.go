// Package imaging downloads, checks and resizes images exchanged with chat
// users and providers.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"slices"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultMaxSize is the largest image accepted, in bytes.
const DefaultMaxSize int64 = 10 * 1024 * 1024

var (
	ErrTooLarge          = errors.New("image too large")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrInvalidImage      = errors.New("invalid image file")
)

// DefaultFormats lists the accepted formats by decoder name.
var DefaultFormats = []string{"jpeg", "jpg", "png", "webp"}

// Service holds image limits.
type Service struct {
	MaxSize    int64
	Formats    []string
	HTTPClient *http.Client
}

// New returns a Service; non-positive maxSize and empty formats take the
// defaults.
func New(maxSize int64, formats []string) *Service {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	normalized := make([]string, 0, len(formats))
	for _, f := range formats {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(f)))
	}
	return &Service{MaxSize: maxSize, Formats: normalized}
}

// Info describes a decoded image header.
type Info struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Format    string `json:"format"`
	SizeBytes int    `json:"size_bytes"`
}

// Download fetches url, refusing bodies over MaxSize.
func (s *Service) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	if resp.ContentLength > s.MaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > s.MaxSize {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, s.MaxSize)
	}
	return data, nil
}

// Validate checks size and format.
func (s *Service) Validate(data []byte) error {
	if int64(len(data)) > s.MaxSize {
		return fmt.Errorf("%w: max size %dMB", ErrTooLarge, s.MaxSize/1024/1024)
	}
	info, err := s.Info(data)
	if err != nil {
		return err
	}
	if !slices.Contains(s.Formats, info.Format) {
		return fmt.Errorf("%w: %s (supported: %s)", ErrUnsupportedFormat, info.Format, strings.Join(s.Formats, ", "))
	}
	return nil
}

// Info reads the image header without decoding pixels.
func (s *Service) Info(data []byte) (Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return Info{Width: cfg.Width, Height: cfg.Height, Format: format, SizeBytes: len(data)}, nil
}

// Resize scales data down to fit maxWidth x maxHeight, keeping the aspect
// ratio. Images that already fit are returned unchanged. The result keeps the
// source format, except webp which is re-encoded as jpeg.
func (s *Service) Resize(data []byte, maxWidth, maxHeight int) ([]byte, string, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, "", fmt.Errorf("%w: invalid dimensions", ErrInvalidImage)
	}

	ratio := min(float64(maxWidth)/float64(width), float64(maxHeight)/float64(height))
	if ratio >= 1 {
		return data, format, nil
	}

	newW := max(int(float64(width)*ratio), 1)
	newH := max(int(float64(height)*ratio), 1)
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, dst)
	default:
		format = "jpeg"
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 95})
	}
	if err != nil {
		return nil, "", fmt.Errorf("encode resized image: %w", err)
	}
	return buf.Bytes(), format, nil
}
