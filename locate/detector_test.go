package locate

import (
	"context"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPNG(t *testing.T, w, h int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aerial.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, w, h))))
	require.NoError(t, f.Close())
	return path
}

func TestParseBoxResponse(t *testing.T) {
	r, err := ParseBoxResponse([]byte(`{"width":640,"height":480,"boxes":[[10,20,30,40,0.95,0]]}`))
	require.NoError(t, err)
	assert.Equal(t, 640, r.Width)
	assert.Len(t, r.Boxes, 1)

	_, err = ParseBoxResponse([]byte(`{"boxes":[[1,2,3]]}`))
	assert.Error(t, err)

	_, err = ParseBoxResponse([]byte(`not json`))
	assert.Error(t, err)
}

func TestBoxResponseToDetection(t *testing.T) {
	r := &BoxResponse{Boxes: [][]float64{
		{10, 20, 31, 41, 0.95, 0}, // centre (20.5, 30.5) truncated to (20, 30)
		{100, 100, 120, 120, 0.5, 0},
		{0, 0, 10, 10}, // no confidence, kept
	}}
	det := r.ToDetection(Size{Width: 200, Height: 100}, 0.9)

	require.Len(t, det.Points, 2)
	assert.Equal(t, Point{X: 20, Y: 70}, det.Points[0])
	assert.Equal(t, Point{X: 5, Y: 95}, det.Points[1])
	assert.Equal(t, Size{Width: 200, Height: 100}, det.Resolution)
}

func TestImageResolution(t *testing.T) {
	path := writeTestPNG(t, 64, 48)
	size, err := ImageResolution(path)
	require.NoError(t, err)
	assert.Equal(t, Size{Width: 64, Height: 48}, size)

	_, err = ImageResolution(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestHTTPDetector(t *testing.T) {
	imgPath := writeTestPNG(t, 100, 50)

	var gotType string
	var gotLen int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotLen = len(body)
		_, _ = w.Write([]byte(`{"boxes":[[0,0,10,10,0.99,0],[40,10,60,30,0.2,0]]}`))
	}))
	defer server.Close()

	det, err := NewHTTPDetector(server.URL, 0.9).Detect(context.Background(), imgPath)
	require.NoError(t, err)

	assert.Equal(t, "image/png", gotType)
	assert.Positive(t, gotLen)
	assert.Equal(t, Size{Width: 100, Height: 50}, det.Resolution, "falls back to the image header")
	assert.Equal(t, []Point{{X: 5, Y: 45}}, det.Points)
}

func TestHTTPDetectorRetriesThenFails(t *testing.T) {
	imgPath := writeTestPNG(t, 10, 10)
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := NewHTTPDetector(server.URL, 0.9, WithMaxRetries(3), WithBaseBackoff(time.Millisecond))
	_, err := d.Detect(context.Background(), imgPath)
	assert.ErrorIs(t, err, ErrDetectionFailed)
	assert.Equal(t, 3, calls)
}

func TestHTTPDetectorMissingImage(t *testing.T) {
	_, err := NewHTTPDetector("http://127.0.0.1:1", 0.9).Detect(context.Background(), "/nonexistent.png")
	assert.ErrorIs(t, err, ErrDetectionFailed)

	_, err = NewHTTPDetector("", 0.9).Detect(context.Background(), "/nonexistent.png")
	assert.ErrorIs(t, err, ErrDetectionFailed)
}

func TestFileDetector(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boxes.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"width":300,"height":200,"boxes":[[10,10,20,20,0.95],[50,50,70,70,0.91]]}`), 0o644))

	det, err := (&FileDetector{Path: path}).Detect(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []Point{{X: 15, Y: 185}, {X: 60, Y: 140}}, det.Points)

	_, err = (&FileDetector{Path: filepath.Join(dir, "missing.json")}).Detect(context.Background(), "")
	assert.ErrorIs(t, err, ErrDetectionFailed)
}
