package mapapi

import (
	"context"
	"encoding/json"
)

// Layer is anything that can be added to a map: markers, tile layers,
// GeoJSON groups and the layers inside them.
type Layer interface {
	Handle() string
}

// Map is a live map bound to a page element.
type Map interface {
	Layer
	AddLayer(ctx context.Context, l Layer) error
	RemoveLayer(ctx context.Context, l Layer) error
	SetView(ctx context.Context, center LatLng, zoom int) error
	GetBounds(ctx context.Context) (LatLngBounds, error)
	FitBounds(ctx context.Context, b LatLngBounds) error
	InvalidateSize(ctx context.Context) error
}

// Marker is a point layer. SetStyle and BringToFront only apply to
// circle markers; plain markers return an error.
type Marker interface {
	Layer
	BindPopup(ctx context.Context, html string) error
	OpenPopup(ctx context.Context) error
	SetStyle(ctx context.Context, style PathStyle) error
	BringToFront(ctx context.Context) error
}

// GeoJSONLayer is a feature group built from GeoJSON data.
type GeoJSONLayer interface {
	Layer
	AddTo(ctx context.Context, m Map) error
	Layers(ctx context.Context) ([]Layer, error)
	Bounds(ctx context.Context) (LatLngBounds, error)
}

// Control is a map UI control.
type Control interface {
	Handle() string
	AddTo(ctx context.Context, m Map) error
}

// ControlOptions configures the layers and zoom controls.
type ControlOptions struct {
	Position  string `json:"position,omitempty"` // topleft, topright, bottomleft, bottomright
	Collapsed *bool  `json:"collapsed,omitempty"`
}

// MapProvider creates maps, layers and controls.
type MapProvider interface {
	NewMap(ctx context.Context, elementID string, opts MapOptions) (Map, error)
	Marker(ctx context.Context, at LatLng, opts MarkerOptions) (Marker, error)
	CircleMarker(ctx context.Context, at LatLng, style PathStyle) (Marker, error)
	TileLayer(ctx context.Context, urlTemplate string, opts TileLayerOptions) (Layer, error)
	GeoJSON(ctx context.Context, data json.RawMessage, style PathStyle) (GeoJSONLayer, error)
	LayersControl(ctx context.Context, base, overlays map[string]Layer, opts ControlOptions) (Control, error)
	ZoomControl(ctx context.Context, opts ControlOptions) (Control, error)
}
