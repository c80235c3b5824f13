package mapview

import (
	"log/slog"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/poisonednumber/scanner-map-client/internal/geo"
	"github.com/poisonednumber/scanner-map-client/internal/store"
	"github.com/poisonednumber/scanner-map-client/pkg/core"
)

// Marker is one rendered call position, already projected to the map's
// coordinate system.
type Marker struct {
	CallID   int64
	Position geom.Point
	Category string
	Popup    string
}

// MarkerSurface is the rendering boundary. The engine drives it through
// store mutations; implementations own the actual drawing.
type MarkerSurface interface {
	AddMarker(m Marker)
	RemoveMarker(callID int64)
	SetMarkerVisible(callID int64, visible bool)
	SetMarkerPulse(callID int64, pulse bool)
}

// Adapter mirrors store mutations onto a MarkerSurface, projecting each
// call's lat/lon to web mercator on the way through. It satisfies
// store.Listener; callbacks run with the store lock held and therefore
// never call back into the store.
type Adapter struct {
	surface MarkerSurface
	logger  *slog.Logger
}

var _ store.Listener = (*Adapter)(nil)

// NewAdapter creates a store listener backed by the given surface.
func NewAdapter(surface MarkerSurface, logger *slog.Logger) *Adapter {
	return &Adapter{surface: surface, logger: logger}
}

func (a *Adapter) marker(call core.Call) (Marker, bool) {
	point, err := geo.MercatorPoint(call.Lat, call.Lon)
	if err != nil {
		a.logger.Warn("unprojectable call position", "callId", call.ID, "lat", call.Lat, "lon", call.Lon)
		return Marker{}, false
	}
	return Marker{
		CallID:   call.ID,
		Position: point,
		Category: call.NormalizedCategory(),
		Popup:    call.Transcription,
	}, true
}

// CallAdded projects and draws the new call's marker.
func (a *Adapter) CallAdded(rec store.Record) {
	m, ok := a.marker(rec.Call)
	if !ok {
		return
	}
	a.surface.AddMarker(m)
	if rec.Visible {
		a.surface.SetMarkerVisible(rec.Call.ID, true)
	}
	if rec.Pulse {
		a.surface.SetMarkerPulse(rec.Call.ID, true)
	}
}

// CallUpdated redraws a marker in place, e.g. after a location correction
// or a resolved transcription.
func (a *Adapter) CallUpdated(rec store.Record) {
	m, ok := a.marker(rec.Call)
	if !ok {
		return
	}
	a.surface.RemoveMarker(rec.Call.ID)
	a.surface.AddMarker(m)
	a.surface.SetMarkerVisible(rec.Call.ID, rec.Visible)
	a.surface.SetMarkerPulse(rec.Call.ID, rec.Pulse)
}

func (a *Adapter) CallRemoved(id int64) {
	a.surface.RemoveMarker(id)
}

func (a *Adapter) VisibilityChanged(id int64, visible bool) {
	a.surface.SetMarkerVisible(id, visible)
}

func (a *Adapter) PulseChanged(id int64, pulse bool) {
	a.surface.SetMarkerPulse(id, pulse)
}

// LogSurface is the headless surface: it logs marker operations instead
// of drawing them. Useful for daemon runs and as a wiring default.
type LogSurface struct {
	logger *slog.Logger
}

// NewLogSurface creates a surface that logs every marker operation.
func NewLogSurface(logger *slog.Logger) *LogSurface {
	return &LogSurface{logger: logger}
}

func (s *LogSurface) AddMarker(m Marker) {
	xy, _ := m.Position.XY()
	s.logger.Debug("marker added", "callId", m.CallID, "x", xy.X, "y", xy.Y, "category", m.Category)
}

func (s *LogSurface) RemoveMarker(callID int64) {
	s.logger.Debug("marker removed", "callId", callID)
}

func (s *LogSurface) SetMarkerVisible(callID int64, visible bool) {
	s.logger.Debug("marker visibility", "callId", callID, "visible", visible)
}

func (s *LogSurface) SetMarkerPulse(callID int64, pulse bool) {
	s.logger.Debug("marker pulse", "callId", callID, "pulse", pulse)
}
