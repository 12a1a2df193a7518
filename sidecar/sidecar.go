// Package sidecar converts the flex-service-area .geojson file (spec.md
// §6, §4.8 "Geospatial sidecar adapter") into two synthesized CSV-shaped
// row streams that the schema-driven loader treats like any other table:
// one row per location feature (locations) and one row per outer-ring
// vertex (location_geometries). paulmach/go.geojson is the decoder —
// no GTFS-domain repo in the retrieval pack decodes GeoJSON, so this
// dependency is named and justified in DESIGN.md rather than grounded
// on a pack example.
package sidecar

import (
	"fmt"
	"strconv"

	geojson "github.com/paulmach/go.geojson"
)

// LocationsHeader and GeometriesHeader are the synthesized header rows
// the loader's CSV-row reader expects, matching schema.locationsTable /
// schema.locationGeometriesTable field order exactly.
var LocationsHeader = []string{"location_id", "stop_name", "stop_desc", "zone_id", "stop_url", "geometry_type"}
var GeometriesHeader = []string{"location_id", "sequence", "lat", "lon"}

var knownLocationProp = map[string]bool{
	"stop_name": true,
	"stop_desc": true,
	"zone_id":   true,
	"stop_url":  true,
}

// Result holds the two synthesized streams plus any non-fatal decode
// warnings: unknown geometry kinds and unknown properties don't fail
// ingestion (spec.md §6), they're just noted.
type Result struct {
	LocationRows [][]string
	GeometryRows [][]string
	Warnings     []string
}

// Adapt decodes a flex locations.geojson feature collection into the
// two row streams. Each feature's geometry must be LineString or
// Polygon; a Polygon with more than one ring reports a warning and only
// the first (outer) ring is loaded.
func Adapt(data []byte) (*Result, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("sidecar: decoding feature collection: %w", err)
	}

	res := &Result{}
	for _, feat := range fc.Features {
		id := featureID(feat)
		props := feat.Properties

		var ring [][]float64
		geomType := "unknown"

		switch {
		case feat.Geometry == nil:
			res.Warnings = append(res.Warnings, fmt.Sprintf("feature %s has no geometry", id))
			continue
		case feat.Geometry.Type == geojson.GeometryLineString:
			geomType = "linestring"
			ring = feat.Geometry.LineString
		case feat.Geometry.Type == geojson.GeometryPolygon:
			geomType = "polygon"
			if len(feat.Geometry.Polygon) == 0 {
				res.Warnings = append(res.Warnings, fmt.Sprintf("feature %s polygon has no rings", id))
				continue
			}
			if len(feat.Geometry.Polygon) > 1 {
				res.Warnings = append(res.Warnings, fmt.Sprintf("feature %s polygon has %d rings; only the first is loaded", id, len(feat.Geometry.Polygon)))
			}
			ring = feat.Geometry.Polygon[0]
		default:
			res.Warnings = append(res.Warnings, fmt.Sprintf("feature %s has unsupported geometry kind %q", id, feat.Geometry.Type))
			continue
		}

		for k := range props {
			if !knownLocationProp[k] {
				res.Warnings = append(res.Warnings, fmt.Sprintf("feature %s has unknown property %q", id, k))
			}
		}

		res.LocationRows = append(res.LocationRows, []string{
			id,
			stringProp(props, "stop_name"),
			stringProp(props, "stop_desc"),
			stringProp(props, "zone_id"),
			stringProp(props, "stop_url"),
			geomType,
		})

		for i, pt := range ring {
			if len(pt) < 2 {
				continue
			}
			lon, lat := pt[0], pt[1]
			res.GeometryRows = append(res.GeometryRows, []string{
				id,
				strconv.Itoa(i + 1),
				strconv.FormatFloat(lat, 'f', -1, 64),
				strconv.FormatFloat(lon, 'f', -1, 64),
			})
		}
	}
	return res, nil
}

func featureID(f *geojson.Feature) string {
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	if v, ok := f.Properties["id"]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

func stringProp(props map[string]interface{}, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
