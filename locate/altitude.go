package locate

import "math"

// EstimateAltitude derives camera altitude in map units from one matched pair
// of map points and photo points. The angle the photo pair subtends is taken
// as a linear share of the diagonal field of view fovDeg.
//
// Coincident photo points give no angle; 0 is returned and the caller must
// discard the hypothesis.
func EstimateAltitude(mapP1, mapP2, photoP1, photoP2 Point, photoSize Size, fovDeg float64) float64 {
	if photoP1 == photoP2 {
		return 0
	}
	diagonal := Distance(Point{}, Point{X: photoSize.Width, Y: photoSize.Height})
	if diagonal == 0 {
		return 0
	}
	mapDistance := Distance(mapP1, mapP2)
	pointsAngle := fovDeg * Distance(photoP1, photoP2) / diagonal
	return mapDistance / math.Tan(pointsAngle*math.Pi/180)
}
