package locate

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// Default overlay colors
const (
	DefaultMapColor   = "#E53935"
	DefaultPhotoColor = "#1E88E5"
)

// OverlayRenderer draws a solution in map-plane meters: map buildings, the
// aligned photo detections, the photo footprint and the fix marker.
type OverlayRenderer struct {
	Solution   *Solution
	MapColor   color.RGBA
	PhotoColor color.RGBA
	Padding    float64           // in meters
	Resolution canvas.Resolution // PNG resolution
}

// NewOverlayRenderer creates a renderer from the render configuration
func NewOverlayRenderer(sol *Solution, cfg RenderConfig) *OverlayRenderer {
	mapColor, photoColor := cfg.MapColor, cfg.PhotoColor
	if mapColor == "" {
		mapColor = DefaultMapColor
	}
	if photoColor == "" {
		photoColor = DefaultPhotoColor
	}
	dpi := cfg.Resolution
	if dpi <= 0 {
		dpi = 150
	}
	return &OverlayRenderer{
		Solution:   sol,
		MapColor:   parseHexColor(mapColor),
		PhotoColor: parseHexColor(photoColor),
		Padding:    20,
		Resolution: canvas.DPI(dpi),
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the overlay as SVG
func (r *OverlayRenderer) RenderToSVG(w io.Writer) error {
	if r.Solution == nil {
		return fmt.Errorf("no solution to render")
	}
	b := r.bounds()
	width, height := b.width(r.Padding), b.height(r.Padding)

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, b, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the overlay as PNG
func (r *OverlayRenderer) RenderToPNG(w io.Writer) error {
	if r.Solution == nil {
		return fmt.Errorf("no solution to render")
	}
	b := r.bounds()
	width, height := b.width(r.Padding), b.height(r.Padding)

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, b, width, height)
	return png.Encode(w, rast)
}

type extent struct {
	minX, minY, maxX, maxY float64
}

func (e extent) width(pad float64) float64  { return math.Max(e.maxX-e.minX, 1) + 2*pad }
func (e extent) height(pad float64) float64 { return math.Max(e.maxY-e.minY, 1) + 2*pad }

func (e *extent) add(points ...Point) {
	for _, p := range points {
		e.minX = math.Min(e.minX, p.X)
		e.minY = math.Min(e.minY, p.Y)
		e.maxX = math.Max(e.maxX, p.X)
		e.maxY = math.Max(e.maxY, p.Y)
	}
}

// bounds covers the map region and the photo footprint
func (r *OverlayRenderer) bounds() extent {
	e := extent{math.MaxFloat64, math.MaxFloat64, -math.MaxFloat64, -math.MaxFloat64}
	e.add(r.Solution.MapPlane.Corners()...)
	e.add(r.Solution.MapPlane.BasePoints()...)
	e.add(r.Solution.PhotoPlane.TransformedCorners()...)
	return e
}

func (r *OverlayRenderer) renderToCanvas(renderer canvasRenderer, b extent, width, height float64) {
	sol := r.Solution

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(p Point) (float64, float64) {
		return p.X - b.minX + r.Padding, p.Y - b.minY + r.Padding
	}
	marker := math.Max(math.Max(b.maxX-b.minX, b.maxY-b.minY)/150, 0.5)

	outline := func(points []Point, c color.RGBA, dashed bool) {
		if len(points) == 0 {
			return
		}
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: canvas.Transparent}
		style.Stroke = canvas.Paint{Color: c}
		style.StrokeWidth = marker / 3
		if dashed {
			style.Dashes = []float64{marker, marker}
		}
		path := &canvas.Path{}
		for i, p := range points {
			x, y := toCanvas(p)
			if i == 0 {
				path.MoveTo(x, y)
			} else {
				path.LineTo(x, y)
			}
		}
		path.Close()
		renderer.RenderPath(path, style, canvas.Identity)
	}

	dots := func(points []Point, c color.RGBA, radius float64) {
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: c}
		style.Stroke = canvas.Paint{Color: canvas.Transparent}
		for _, p := range points {
			x, y := toCanvas(p)
			renderer.RenderPath(canvas.Circle(radius).Translate(x, y), style, canvas.Identity)
		}
	}

	// Map region, then photo footprint
	outline(sol.MapPlane.Corners(), canvas.Gray, true)
	outline(sol.PhotoPlane.TransformedCorners(), r.PhotoColor, false)

	dots(sol.MapPlane.BasePoints(), r.MapColor, marker)
	dots(sol.PhotoPlane.TransformedPoints(), r.PhotoColor, marker*0.6)

	// Fix marker: a black cross at the photo centre
	cx, cy := toCanvas(sol.PhotoPlane.TransformedCentre())
	crossStyle := canvas.DefaultStyle
	crossStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	crossStyle.Stroke = canvas.Paint{Color: canvas.Black}
	crossStyle.StrokeWidth = marker / 2
	cross := &canvas.Path{}
	cross.MoveTo(cx-2*marker, cy)
	cross.LineTo(cx+2*marker, cy)
	cross.MoveTo(cx, cy-2*marker)
	cross.LineTo(cx, cy+2*marker)
	renderer.RenderPath(cross, crossStyle, canvas.Identity)
}

// parseHexColor parses a hex color string like "#E53935" to color.RGBA
func parseHexColor(hex string) color.RGBA {
	defaultColor := color.RGBA{255, 0, 0, 255}

	if len(hex) == 0 {
		return defaultColor
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return defaultColor
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return defaultColor
	}
	return color.RGBA{r, g, b, 255}
}
