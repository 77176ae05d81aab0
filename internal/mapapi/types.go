// Package mapapi models the Leaflet map object graph as Go values and a
// MapProvider capability, so map fixtures can be driven from Go.
package mapapi

import (
	"encoding/json"
	"fmt"
	"math"
)

// LatLng is a geographic point in degrees.
type LatLng struct {
	Lat float64
	Lng float64
}

// Valid reports whether the point lies in the WGS84 range.
func (l LatLng) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180 &&
		!math.IsNaN(l.Lat) && !math.IsNaN(l.Lng)
}

func (l LatLng) String() string {
	return fmt.Sprintf("LatLng(%g, %g)", l.Lat, l.Lng)
}

// MarshalJSON encodes the point as Leaflet's [lat, lng] pair.
func (l LatLng) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{l.Lat, l.Lng})
}

// UnmarshalJSON accepts [lat, lng] or {"lat":..,"lng":..}.
func (l *LatLng) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("latlng: want 2 coordinates, got %d", len(pair))
		}
		l.Lat, l.Lng = pair[0], pair[1]
		return nil
	}
	var obj struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("latlng: %w", err)
	}
	if obj.Lat == nil || obj.Lng == nil {
		return fmt.Errorf("latlng: lat and lng are required")
	}
	l.Lat, l.Lng = *obj.Lat, *obj.Lng
	return nil
}

// LatLngBounds is a geographic rectangle. The zero value is empty and
// becomes valid on the first Extend.
type LatLngBounds struct {
	SouthWest LatLng
	NorthEast LatLng
	valid     bool
}

// BoundsOf returns the smallest bounds containing all points.
func BoundsOf(points ...LatLng) LatLngBounds {
	var b LatLngBounds
	for _, p := range points {
		b = b.Extend(p)
	}
	return b
}

// IsValid reports whether the bounds contain at least one point.
func (b LatLngBounds) IsValid() bool { return b.valid }

// Extend returns b grown to include p.
func (b LatLngBounds) Extend(p LatLng) LatLngBounds {
	if !b.valid {
		return LatLngBounds{SouthWest: p, NorthEast: p, valid: true}
	}
	b.SouthWest.Lat = math.Min(b.SouthWest.Lat, p.Lat)
	b.SouthWest.Lng = math.Min(b.SouthWest.Lng, p.Lng)
	b.NorthEast.Lat = math.Max(b.NorthEast.Lat, p.Lat)
	b.NorthEast.Lng = math.Max(b.NorthEast.Lng, p.Lng)
	return b
}

// Union returns b grown to include o.
func (b LatLngBounds) Union(o LatLngBounds) LatLngBounds {
	if !o.valid {
		return b
	}
	return b.Extend(o.SouthWest).Extend(o.NorthEast)
}

// Contains reports whether p lies inside b, edges included.
func (b LatLngBounds) Contains(p LatLng) bool {
	return b.valid &&
		p.Lat >= b.SouthWest.Lat && p.Lat <= b.NorthEast.Lat &&
		p.Lng >= b.SouthWest.Lng && p.Lng <= b.NorthEast.Lng
}

// ContainsBounds reports whether o lies entirely inside b.
func (b LatLngBounds) ContainsBounds(o LatLngBounds) bool {
	return o.valid && b.Contains(o.SouthWest) && b.Contains(o.NorthEast)
}

// Center returns the midpoint of the rectangle.
func (b LatLngBounds) Center() LatLng {
	return LatLng{
		Lat: (b.SouthWest.Lat + b.NorthEast.Lat) / 2,
		Lng: (b.SouthWest.Lng + b.NorthEast.Lng) / 2,
	}
}

// MarshalJSON encodes the bounds as [[south, west], [north, east]].
// Empty bounds encode as null.
func (b LatLngBounds) MarshalJSON() ([]byte, error) {
	if !b.valid {
		return []byte("null"), nil
	}
	return json.Marshal([2]LatLng{b.SouthWest, b.NorthEast})
}

// UnmarshalJSON accepts the [[s, w], [n, e]] form.
func (b *LatLngBounds) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = LatLngBounds{}
		return nil
	}
	var corners []LatLng
	if err := json.Unmarshal(data, &corners); err != nil {
		return fmt.Errorf("bounds: %w", err)
	}
	if len(corners) != 2 {
		return fmt.Errorf("bounds: want 2 corners, got %d", len(corners))
	}
	*b = BoundsOf(corners...)
	return nil
}

// Point is a pixel position or size.
type Point struct {
	X float64
	Y float64
}

// Pt is shorthand for Point{x, y}.
func Pt(x, y float64) Point { return Point{X: x, Y: y} }

// Add returns p+o.
func (p Point) Add(o Point) Point { return Point{p.X + o.X, p.Y + o.Y} }

// Subtract returns p-o.
func (p Point) Subtract(o Point) Point { return Point{p.X - o.X, p.Y - o.Y} }

// MarshalJSON encodes the point as Leaflet's [x, y] pair.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// Bounds is a pixel rectangle.
type Bounds struct {
	Min Point
	Max Point
}

// PixelBounds returns the rectangle spanned by a and b.
func PixelBounds(a, b Point) Bounds {
	return Bounds{
		Min: Point{math.Min(a.X, b.X), math.Min(a.Y, b.Y)},
		Max: Point{math.Max(a.X, b.X), math.Max(a.Y, b.Y)},
	}
}

// Contains reports whether p lies inside b, edges included.
func (b Bounds) Contains(p Point) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

// ContainsBounds reports whether o lies entirely inside b.
func (b Bounds) ContainsBounds(o Bounds) bool {
	return b.Contains(o.Min) && b.Contains(o.Max)
}

// Size returns the width and height.
func (b Bounds) Size() Point { return b.Max.Subtract(b.Min) }

// Icon describes a marker image.
type Icon struct {
	IconURL     string `json:"iconUrl"`
	IconRetina  string `json:"iconRetinaUrl,omitempty"`
	ShadowURL   string `json:"shadowUrl,omitempty"`
	IconSize    *Point `json:"iconSize,omitempty"`
	ShadowSize  *Point `json:"shadowSize,omitempty"`
	IconAnchor  *Point `json:"iconAnchor,omitempty"`
	PopupAnchor *Point `json:"popupAnchor,omitempty"`
	ClassName   string `json:"className,omitempty"`
}

// MapOptions configures a new map. A nil Center leaves the view unset.
type MapOptions struct {
	Center      *LatLng `json:"center,omitempty"`
	Zoom        *int    `json:"zoom,omitempty"`
	MinZoom     *int    `json:"minZoom,omitempty"`
	MaxZoom     *int    `json:"maxZoom,omitempty"`
	ZoomControl *bool   `json:"zoomControl,omitempty"`
}

// MarkerOptions configures L.marker.
type MarkerOptions struct {
	Icon         *Icon    `json:"icon,omitempty"`
	Title        string   `json:"title,omitempty"`
	Alt          string   `json:"alt,omitempty"`
	Draggable    bool     `json:"draggable,omitempty"`
	Opacity      *float64 `json:"opacity,omitempty"`
	ZIndexOffset int      `json:"zIndexOffset,omitempty"`
}

// TileLayerOptions configures L.tileLayer.
type TileLayerOptions struct {
	Attribution string   `json:"attribution,omitempty"`
	MinZoom     *int     `json:"minZoom,omitempty"`
	MaxZoom     *int     `json:"maxZoom,omitempty"`
	Subdomains  []string `json:"subdomains,omitempty"`
	TileSize    int      `json:"tileSize,omitempty"`
}

// PathStyle styles vector layers and circle markers.
type PathStyle struct {
	Color       string   `json:"color,omitempty"`
	Weight      *float64 `json:"weight,omitempty"`
	Opacity     *float64 `json:"opacity,omitempty"`
	Fill        *bool    `json:"fill,omitempty"`
	FillColor   string   `json:"fillColor,omitempty"`
	FillOpacity *float64 `json:"fillOpacity,omitempty"`
	Radius      *float64 `json:"radius,omitempty"`
	DashArray   string   `json:"dashArray,omitempty"`
}
