package imaging

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestValidateAndInfo(t *testing.T) {
	svc := New(0, nil)
	data := pngBytes(t, 40, 20)

	require.NoError(t, svc.Validate(data))
	info, err := svc.Info(data)
	require.NoError(t, err)
	require.Equal(t, Info{Width: 40, Height: 20, Format: "png", SizeBytes: len(data)}, info)

	require.ErrorIs(t, svc.Validate([]byte("not an image")), ErrInvalidImage)

	var gifBuf bytes.Buffer
	require.NoError(t, gif.Encode(&gifBuf, image.NewPaletted(image.Rect(0, 0, 2, 2), []color.Color{color.Black}), nil))
	require.ErrorIs(t, svc.Validate(gifBuf.Bytes()), ErrUnsupportedFormat)

	small := New(10, []string{"PNG"})
	require.ErrorIs(t, small.Validate(data), ErrTooLarge)
}

func TestResize(t *testing.T) {
	svc := New(0, nil)
	data := pngBytes(t, 400, 200)

	out, format, err := svc.Resize(data, 100, 100)
	require.NoError(t, err)
	require.Equal(t, "png", format)
	info, err := svc.Info(out)
	require.NoError(t, err)
	require.Equal(t, 100, info.Width)
	require.Equal(t, 50, info.Height)

	same, _, err := svc.Resize(data, 1024, 1024)
	require.NoError(t, err)
	require.Equal(t, data, same)
}

func TestDownload(t *testing.T) {
	data := pngBytes(t, 8, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			_, _ = w.Write(data)
		case "/big.png":
			_, _ = w.Write(bytes.Repeat([]byte{1}, 64))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	svc := New(int64(len(data)), nil)
	svc.HTTPClient = srv.Client()

	got, err := svc.Download(context.Background(), srv.URL+"/ok.png")
	require.NoError(t, err)
	require.Equal(t, data, got)

	tiny := New(16, nil)
	tiny.HTTPClient = srv.Client()
	_, err = tiny.Download(context.Background(), srv.URL+"/big.png")
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = svc.Download(context.Background(), srv.URL+"/missing.png")
	require.ErrorContains(t, err, "status 404")
}
