package locate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// LocateRequest asks for a fix of one image. It is accepted by POST /locate
// and on the MQTT request topic. Area is any GeoJSON accepted by
// ParseSearchArea; Corners ("lat,lon,lat,lon") is used when Area is absent.
type LocateRequest struct {
	ImagePath string          `json:"imagePath"`
	Area      json.RawMessage `json:"area,omitempty"`
	Corners   string          `json:"corners,omitempty"`
	MinHeight float64         `json:"minHeight,omitempty"`
	MaxHeight float64         `json:"maxHeight,omitempty"`
}

// ParseLocateRequest decodes and validates a request body
func ParseLocateRequest(data []byte) (LocateRequest, error) {
	var req LocateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return LocateRequest{}, fmt.Errorf("failed to parse locate request: %w", err)
	}
	if strings.TrimSpace(req.ImagePath) == "" {
		return LocateRequest{}, fmt.Errorf("imagePath is required")
	}
	if len(req.Area) == 0 && req.Corners == "" {
		return LocateRequest{}, fmt.Errorf("area or corners is required")
	}
	if req.MinHeight < 0 || (req.MaxHeight > 0 && req.MinHeight > req.MaxHeight) {
		return LocateRequest{}, fmt.Errorf("invalid height range [%v, %v]", req.MinHeight, req.MaxHeight)
	}
	return req, nil
}

// SearchArea returns the request's search polygon
func (r LocateRequest) SearchArea() (orb.Polygon, error) {
	if len(r.Area) > 0 {
		return ParseSearchArea(r.Area)
	}
	tl, br, err := ParseCorners(r.Corners)
	if err != nil {
		return nil, err
	}
	return SearchAreaFromCorners(tl, br), nil
}

// Heights returns the requested altitude range
func (r LocateRequest) Heights() HeightRange {
	return HeightRange{Min: r.MinHeight, Max: r.MaxHeight}
}
