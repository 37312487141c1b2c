// Package zonequery implements the ring-wrap-aware zone window query
// (spec §4.5): given a pose and a radius/width, it builds one or two
// seam-respecting bounding boxes, queries a ZoneStorage collaborator for
// each, and unions the results deduplicated by zone identifier.
package zonequery

import (
	"encoding/json"
	"log"

	"github.com/earthring/server/internal/ringmap"
)

// MaxZonesPerWindow caps the number of zones returned for a single window.
const MaxZonesPerWindow = 256

// MaxZoneVertices caps the total vertex count across all returned polygons.
const MaxZoneVertices = 8192

// ZoneFeature is a zone as seen by the streaming layer: enough to build a
// GeoJSON-shaped wire feature without the query package knowing about JSON
// marshaling conventions upstream.
type ZoneFeature struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	ZoneType     string          `json:"zone_type"`
	Floor        int             `json:"floor"`
	IsSystemZone bool            `json:"is_system_zone"`
	Geometry     json.RawMessage `json:"geometry,omitempty"`
	Properties   json.RawMessage `json:"properties,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// VertexCount estimates the polygon vertex count of a GeoJSON Polygon or
// MultiPolygon geometry, for the §4.5 step-6 vertex cap. A geometry that
// can't be parsed contributes zero rather than failing the window.
func (f ZoneFeature) VertexCount() int {
	if len(f.Geometry) == 0 {
		return 0
	}
	var geo struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(f.Geometry, &geo); err != nil {
		return 0
	}
	switch geo.Type {
	case "Polygon":
		var rings [][][]float64
		if json.Unmarshal(geo.Coordinates, &rings) != nil {
			return 0
		}
		n := 0
		for _, r := range rings {
			n += len(r)
		}
		return n
	case "MultiPolygon":
		var polys [][][][]float64
		if json.Unmarshal(geo.Coordinates, &polys) != nil {
			return 0
		}
		n := 0
		for _, p := range polys {
			for _, r := range p {
				n += len(r)
			}
		}
		return n
	default:
		return 0
	}
}

// ZoneStorage is the collaborator contract spec §6 describes: a single,
// never-wrapping arc-length range query on one floor.
type ZoneStorage interface {
	QueryZones(floor int, sMin, sMax, yMin, yMax float64) ([]ZoneFeature, error)
}

// Window computes the zone window for a pose, implementing the algorithm of
// spec §4.5: a direct query when the radius range doesn't cross the seam,
// two half-range queries unioned and deduplicated when it does, and a
// single full-ring query in the degenerate R >= C/2 case.
func Window(store ZoneStorage, floor int, s, radius, widthMeters float64) ([]ZoneFeature, error) {
	const circumference = float64(ringmap.RingCircumference)
	yLo, yHi := -widthMeters/2, widthMeters/2

	var raw []ZoneFeature
	if radius*2 >= circumference {
		zones, err := store.QueryZones(floor, 0, circumference, yLo, yHi)
		if err != nil {
			return nil, err
		}
		raw = zones
	} else {
		sMin := ringmap.WrapArcLength(s - radius)
		sMax := ringmap.WrapArcLength(s + radius)

		if sMin <= sMax {
			zones, err := store.QueryZones(floor, sMin, sMax, yLo, yHi)
			if err != nil {
				return nil, err
			}
			raw = zones
		} else {
			first, err := store.QueryZones(floor, sMin, circumference, yLo, yHi)
			if err != nil {
				return nil, err
			}
			second, err := store.QueryZones(floor, 0, sMax, yLo, yHi)
			if err != nil {
				return nil, err
			}
			raw = dedup(first, second)
		}
	}

	return capWindow(raw), nil
}

func dedup(first, second []ZoneFeature) []ZoneFeature {
	seen := make(map[int64]bool, len(first)+len(second))
	out := make([]ZoneFeature, 0, len(first)+len(second))
	for _, z := range first {
		if !seen[z.ID] {
			seen[z.ID] = true
			out = append(out, z)
		}
	}
	for _, z := range second {
		if !seen[z.ID] {
			seen[z.ID] = true
			out = append(out, z)
		}
	}
	return out
}

func capWindow(zones []ZoneFeature) []ZoneFeature {
	if len(zones) > MaxZonesPerWindow {
		log.Printf("zonequery: truncating window from %d to %d zones (MaxZonesPerWindow)", len(zones), MaxZonesPerWindow)
		zones = zones[:MaxZonesPerWindow]
	}

	total := 0
	for i, z := range zones {
		vc := z.VertexCount()
		if total+vc > MaxZoneVertices {
			log.Printf("zonequery: truncating window to %d zones (MaxZoneVertices=%d exceeded)", i, MaxZoneVertices)
			return zones[:i]
		}
		total += vc
	}
	return zones
}
