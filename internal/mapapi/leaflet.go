package mapapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pagerun/internal/logging"

	"go.uber.org/zap"
)

// ErrUnexpectedResult is returned when the page answers with a value of the
// wrong shape.
var ErrUnexpectedResult = errors.New("unexpected result from page")

// Evaluator runs a JavaScript function expression in a page.
// *browser.Page satisfies it.
type Evaluator interface {
	Eval(ctx context.Context, js string, args ...interface{}) (interface{}, error)
}

// registryPrelude sets up window.__pagerun, the handle table mapping Go-side
// handles to Leaflet objects.
const registryPrelude = `
	const r = (window.__pagerun = window.__pagerun || { seq: 0, objs: {} });
	const put = (o) => { const id = "h" + (++r.seq); r.objs[id] = o; return id; };
	const get = (id) => {
		const o = r.objs[id];
		if (!o) throw new Error("unknown map handle " + id);
		return o;
	};
	const boundsOf = (b) => (b && b.isValid() ?
		[[b.getSouth(), b.getWest()], [b.getNorth(), b.getEast()]] : null);
	if (typeof L === "undefined") throw new Error("Leaflet (L) is not loaded");
`

// script wraps fn so it runs with the registry helpers in scope.
func script(fn string) string {
	return "(...args) => {" + registryPrelude + "return (" + fn + ")(...args); }"
}

var (
	jsNewMap = script(`(id, opts) => {
		const el = document.getElementById(id);
		if (!el) throw new Error("no element with id " + id);
		return put(L.map(el, opts));
	}`)
	jsAddLayer       = script(`(m, l) => { get(m).addLayer(get(l)); }`)
	jsRemoveLayer    = script(`(m, l) => { get(m).removeLayer(get(l)); }`)
	jsSetView        = script(`(m, center, zoom) => { get(m).setView(center, zoom); }`)
	jsGetBounds      = script(`(m) => boundsOf(get(m).getBounds())`)
	jsFitBounds      = script(`(m, b) => { get(m).fitBounds(b); }`)
	jsInvalidateSize = script(`(m) => { get(m).invalidateSize(); }`)
	jsMarker         = script(`(at, opts) => {
		const o = Object.assign({}, opts);
		if (o.icon) o.icon = L.icon(o.icon);
		return put(L.marker(at, o));
	}`)
	jsCircleMarker = script(`(at, style) => put(L.circleMarker(at, style))`)
	jsTileLayer    = script(`(url, opts) => put(L.tileLayer(url, opts))`)
	jsGeoJSON      = script(`(data, style) => put(L.geoJson(data, { style: style }))`)
	jsBindPopup    = script(`(h, html) => { get(h).bindPopup(html); }`)
	jsOpenPopup    = script(`(h) => { get(h).openPopup(); }`)
	jsSetStyle     = script(`(h, style) => {
		const l = get(h);
		if (typeof l.setStyle !== "function") throw new Error("layer " + h + " has no setStyle");
		l.setStyle(style);
	}`)
	jsBringToFront = script(`(h) => {
		const l = get(h);
		if (typeof l.bringToFront !== "function") throw new Error("layer " + h + " has no bringToFront");
		l.bringToFront();
	}`)
	jsAddTo         = script(`(h, m) => { get(h).addTo(get(m)); }`)
	jsGeoLayers     = script(`(g) => get(g).getLayers().map(put)`)
	jsGeoBounds     = script(`(g) => boundsOf(get(g).getBounds())`)
	jsLayersControl = script(`(base, overlays, opts) => {
		const resolve = (o) => Object.fromEntries(Object.entries(o || {}).map(([k, v]) => [k, get(v)]));
		return put(L.control.layers(resolve(base), resolve(overlays), opts));
	}`)
	jsZoomControl = script(`(opts) => put(L.control.zoom(opts))`)
	jsRelease     = script(`(ids) => { for (const id of ids) delete r.objs[id]; }`)
)

// Leaflet implements MapProvider against the Leaflet library loaded in a page.
type Leaflet struct {
	eval   Evaluator
	logger *zap.Logger
}

var _ MapProvider = (*Leaflet)(nil)

// NewLeaflet returns a provider that drives L.* through ev.
func NewLeaflet(ev Evaluator) *Leaflet {
	return &Leaflet{
		eval:   ev,
		logger: logging.Get(logging.CategoryBrowser).Named("leaflet"),
	}
}

func (p *Leaflet) call(ctx context.Context, op, js string, args ...interface{}) (interface{}, error) {
	p.logger.Debug("call", zap.String("op", op))
	v, err := p.eval.Eval(ctx, js, args...)
	if err != nil {
		return nil, fmt.Errorf("leaflet %s: %w", op, err)
	}
	return v, nil
}

func (p *Leaflet) create(ctx context.Context, op, js string, args ...interface{}) (handle, error) {
	v, err := p.call(ctx, op, js, args...)
	if err != nil {
		return handle{}, err
	}
	id, ok := v.(string)
	if !ok || id == "" {
		return handle{}, fmt.Errorf("leaflet %s: %w: want handle, got %T", op, ErrUnexpectedResult, v)
	}
	return handle{p: p, id: id}, nil
}

func (p *Leaflet) bounds(ctx context.Context, op, js string, args ...interface{}) (LatLngBounds, error) {
	v, err := p.call(ctx, op, js, args...)
	if err != nil {
		return LatLngBounds{}, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return LatLngBounds{}, fmt.Errorf("leaflet %s: %w", op, err)
	}
	var b LatLngBounds
	if err := json.Unmarshal(raw, &b); err != nil {
		return LatLngBounds{}, fmt.Errorf("leaflet %s: %w: %v", op, ErrUnexpectedResult, err)
	}
	return b, nil
}

// NewMap creates a map in the element with the given id.
func (p *Leaflet) NewMap(ctx context.Context, elementID string, opts MapOptions) (Map, error) {
	h, err := p.create(ctx, "map", jsNewMap, elementID, opts)
	if err != nil {
		return nil, err
	}
	return &leafletMap{h}, nil
}

// Marker creates a marker at the given point.
func (p *Leaflet) Marker(ctx context.Context, at LatLng, opts MarkerOptions) (Marker, error) {
	h, err := p.create(ctx, "marker", jsMarker, at, opts)
	if err != nil {
		return nil, err
	}
	return &leafletMarker{h}, nil
}

// CircleMarker creates a fixed-radius circle marker.
func (p *Leaflet) CircleMarker(ctx context.Context, at LatLng, style PathStyle) (Marker, error) {
	h, err := p.create(ctx, "circleMarker", jsCircleMarker, at, style)
	if err != nil {
		return nil, err
	}
	return &leafletMarker{h}, nil
}

// TileLayer creates a tile layer from a URL template such as
// https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png.
func (p *Leaflet) TileLayer(ctx context.Context, urlTemplate string, opts TileLayerOptions) (Layer, error) {
	h, err := p.create(ctx, "tileLayer", jsTileLayer, urlTemplate, opts)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// GeoJSON creates a feature group from a GeoJSON document.
func (p *Leaflet) GeoJSON(ctx context.Context, data json.RawMessage, style PathStyle) (GeoJSONLayer, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("leaflet geoJson: invalid JSON")
	}
	h, err := p.create(ctx, "geoJson", jsGeoJSON, data, style)
	if err != nil {
		return nil, err
	}
	return &leafletGeoJSON{h}, nil
}

// LayersControl creates a layer switcher.
func (p *Leaflet) LayersControl(ctx context.Context, base, overlays map[string]Layer, opts ControlOptions) (Control, error) {
	h, err := p.create(ctx, "control.layers", jsLayersControl, handles(base), handles(overlays), opts)
	if err != nil {
		return nil, err
	}
	return &leafletControl{h}, nil
}

// ZoomControl creates a zoom control.
func (p *Leaflet) ZoomControl(ctx context.Context, opts ControlOptions) (Control, error) {
	h, err := p.create(ctx, "control.zoom", jsZoomControl, opts)
	if err != nil {
		return nil, err
	}
	return &leafletControl{h}, nil
}

// Release drops the page's references to the given objects. Objects still
// on a map stay there.
func (p *Leaflet) Release(ctx context.Context, layers ...Layer) error {
	ids := make([]string, 0, len(layers))
	for _, l := range layers {
		ids = append(ids, l.Handle())
	}
	_, err := p.call(ctx, "release", jsRelease, ids)
	return err
}

func handles(layers map[string]Layer) map[string]string {
	out := make(map[string]string, len(layers))
	for name, l := range layers {
		out[name] = l.Handle()
	}
	return out
}

// handle is a reference into the page registry.
type handle struct {
	p  *Leaflet
	id string
}

func (h handle) Handle() string { return h.id }

func (h handle) do(ctx context.Context, op, js string, args ...interface{}) error {
	_, err := h.p.call(ctx, op, js, append([]interface{}{h.id}, args...)...)
	return err
}

type leafletMap struct{ handle }

func (m *leafletMap) AddLayer(ctx context.Context, l Layer) error {
	return m.do(ctx, "addLayer", jsAddLayer, l.Handle())
}

func (m *leafletMap) RemoveLayer(ctx context.Context, l Layer) error {
	return m.do(ctx, "removeLayer", jsRemoveLayer, l.Handle())
}

func (m *leafletMap) SetView(ctx context.Context, center LatLng, zoom int) error {
	return m.do(ctx, "setView", jsSetView, center, zoom)
}

func (m *leafletMap) GetBounds(ctx context.Context) (LatLngBounds, error) {
	return m.p.bounds(ctx, "getBounds", jsGetBounds, m.id)
}

func (m *leafletMap) FitBounds(ctx context.Context, b LatLngBounds) error {
	if !b.IsValid() {
		return fmt.Errorf("leaflet fitBounds: empty bounds")
	}
	return m.do(ctx, "fitBounds", jsFitBounds, b)
}

func (m *leafletMap) InvalidateSize(ctx context.Context) error {
	return m.do(ctx, "invalidateSize", jsInvalidateSize)
}

type leafletMarker struct{ handle }

func (mk *leafletMarker) BindPopup(ctx context.Context, html string) error {
	return mk.do(ctx, "bindPopup", jsBindPopup, html)
}

func (mk *leafletMarker) OpenPopup(ctx context.Context) error {
	return mk.do(ctx, "openPopup", jsOpenPopup)
}

func (mk *leafletMarker) SetStyle(ctx context.Context, style PathStyle) error {
	return mk.do(ctx, "setStyle", jsSetStyle, style)
}

func (mk *leafletMarker) BringToFront(ctx context.Context) error {
	return mk.do(ctx, "bringToFront", jsBringToFront)
}

type leafletGeoJSON struct{ handle }

func (g *leafletGeoJSON) AddTo(ctx context.Context, m Map) error {
	return g.do(ctx, "addTo", jsAddTo, m.Handle())
}

func (g *leafletGeoJSON) Layers(ctx context.Context) ([]Layer, error) {
	v, err := g.p.call(ctx, "getLayers", jsGeoLayers, g.id)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("leaflet getLayers: %w: want list, got %T", ErrUnexpectedResult, v)
	}
	layers := make([]Layer, 0, len(items))
	for _, item := range items {
		id, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("leaflet getLayers: %w: want handle, got %T", ErrUnexpectedResult, item)
		}
		layers = append(layers, &leafletMarker{handle{p: g.p, id: id}})
	}
	return layers, nil
}

func (g *leafletGeoJSON) Bounds(ctx context.Context) (LatLngBounds, error) {
	return g.p.bounds(ctx, "getBounds", jsGeoBounds, g.id)
}

type leafletControl struct{ handle }

func (c *leafletControl) AddTo(ctx context.Context, m Map) error {
	return c.do(ctx, "addTo", jsAddTo, m.Handle())
}
