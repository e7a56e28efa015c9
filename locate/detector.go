package locate

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"mime"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMinConfidence is the detection confidence below which boxes are ignored
const DefaultMinConfidence = 0.9

// Detection is the output of a building detector. Points are box centres in
// pixels with the origin at the bottom-left of the image.
type Detection struct {
	Points     []Point `json:"points"`
	Resolution Size    `json:"resolution"`
}

// Detector turns an aerial photograph into building centre points.
// Failures wrap ErrDetectionFailed; an image without buildings is not an error.
type Detector interface {
	Detect(ctx context.Context, imagePath string) (Detection, error)
}

// BoxResponse is the JSON document produced by the inference service.
// Each box is [x1, y1, x2, y2, confidence, class] in image pixels, origin top-left.
type BoxResponse struct {
	Width  int         `json:"width,omitempty"`
	Height int         `json:"height,omitempty"`
	Boxes  [][]float64 `json:"boxes"`
}

// ParseBoxResponse parses inference JSON
func ParseBoxResponse(data []byte) (*BoxResponse, error) {
	var r BoxResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse detections JSON: %w", err)
	}
	for i, b := range r.Boxes {
		if len(b) < 4 {
			return nil, fmt.Errorf("box %d has %d values, need at least 4", i, len(b))
		}
	}
	return &r, nil
}

// ToDetection converts boxes to centre points, dropping boxes below
// minConfidence. Centres are truncated to whole pixels and y is flipped by
// the image height. Boxes without a confidence value are always kept.
func (r *BoxResponse) ToDetection(resolution Size, minConfidence float64) Detection {
	points := make([]Point, 0, len(r.Boxes))
	for _, b := range r.Boxes {
		if len(b) >= 5 && b[4] < minConfidence {
			continue
		}
		cx := int((b[0] + b[2]) / 2)
		cy := int((b[1] + b[3]) / 2)
		points = append(points, Point{
			X: float64(cx),
			Y: resolution.Height - float64(cy),
		})
	}
	return Detection{Points: points, Resolution: resolution}
}

// resolution returns the size carried by the response, falling back to the
// image header.
func (r *BoxResponse) resolution(imagePath string) (Size, error) {
	if r.Width > 0 && r.Height > 0 {
		return Size{Width: float64(r.Width), Height: float64(r.Height)}, nil
	}
	return ImageResolution(imagePath)
}

// ImageResolution reads the pixel size from an image header.
// PNG, JPEG, GIF, BMP, TIFF and WebP are supported.
func ImageResolution(path string) (Size, error) {
	f, err := os.Open(path)
	if err != nil {
		return Size{}, fmt.Errorf("opening image: %w", err)
	}
	defer func() { _ = f.Close() }()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return Size{}, fmt.Errorf("decoding image header of %s: %w", path, err)
	}
	log.Printf("[DETECT] %s: %s %dx%d", filepath.Base(path), format, cfg.Width, cfg.Height)
	return Size{Width: float64(cfg.Width), Height: float64(cfg.Height)}, nil
}

// HTTPDetector posts image bytes to an inference service and reads back boxes
type HTTPDetector struct {
	URL           string
	MinConfidence float64
	opts          []FetchOption
}

// NewHTTPDetector creates a detector for the inference endpoint at url
func NewHTTPDetector(url string, minConfidence float64, opts ...FetchOption) *HTTPDetector {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &HTTPDetector{URL: url, MinConfidence: minConfidence, opts: opts}
}

// Detect implements Detector
func (d *HTTPDetector) Detect(ctx context.Context, imagePath string) (Detection, error) {
	if d.URL == "" {
		return Detection{}, fmt.Errorf("%w: detector URL is empty", ErrDetectionFailed)
	}
	img, err := os.ReadFile(imagePath)
	if err != nil {
		return Detection{}, fmt.Errorf("%w: reading image: %w", ErrDetectionFailed, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(imagePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var resp *BoxResponse
	err = doWithRetry(ctx, newFetchConfig(d.opts), httpRequest{
		method:      "POST",
		url:         d.URL,
		body:        img,
		contentType: contentType,
	}, func(body []byte) error {
		r, perr := ParseBoxResponse(body)
		resp = r
		return perr
	})
	if err != nil {
		return Detection{}, fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}

	size, err := resp.resolution(imagePath)
	if err != nil {
		return Detection{}, fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}
	det := resp.ToDetection(size, d.MinConfidence)
	log.Printf("[DETECT] %d of %d boxes above confidence %.2f", len(det.Points), len(resp.Boxes), d.MinConfidence)
	return det, nil
}

// FileDetector reads previously computed boxes from a JSON file on disk
type FileDetector struct {
	Path          string
	MinConfidence float64
}

// Detect implements Detector. imagePath is only used for its header when
// the file carries no resolution.
func (d *FileDetector) Detect(_ context.Context, imagePath string) (Detection, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return Detection{}, fmt.Errorf("%w: reading detections: %w", ErrDetectionFailed, err)
	}
	resp, err := ParseBoxResponse(data)
	if err != nil {
		return Detection{}, fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}
	size, err := resp.resolution(imagePath)
	if err != nil {
		return Detection{}, fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}
	minConf := d.MinConfidence
	if minConf <= 0 {
		minConf = DefaultMinConfidence
	}
	return resp.ToDetection(size, minConf), nil
}
