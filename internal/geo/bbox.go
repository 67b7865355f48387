// Package geo holds the spatial side of a catalog query: bounding boxes, the
// WKT polygon sent as footprint filter and the country extent table.
package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// BoundingBox is a rectangle given by two opposite corners. Coordinates are
// not validated and are expected in the reference system of the catalog.
type BoundingBox struct {
	Lon1 float64
	Lat1 float64
	Lon2 float64
	Lat2 float64
}

// Polygon returns the closed ring (lon1,lat1) -> (lon1,lat2) -> (lon2,lat2)
// -> (lon2,lat1) -> (lon1,lat1).
func (b BoundingBox) Polygon() orb.Polygon {
	return orb.Polygon{
		orb.Ring{
			{b.Lon1, b.Lat1},
			{b.Lon1, b.Lat2},
			{b.Lon2, b.Lat2},
			{b.Lon2, b.Lat1},
			{b.Lon1, b.Lat1},
		},
	}
}

// WKT returns the well-known-text POLYGON of the box.
func (b BoundingBox) WKT() string {
	return wkt.MarshalString(b.Polygon())
}

// PolygonWKT converts a bounding box given by its corner coordinates to a
// WKT polygon string. Swapped or out-of-range corners still produce a
// syntactically valid polygon.
func PolygonWKT(lon1, lat1, lon2, lat2 float64) string {
	return BoundingBox{Lon1: lon1, Lat1: lat1, Lon2: lon2, Lat2: lat2}.WKT()
}
