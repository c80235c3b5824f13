package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLatLon(t *testing.T) {
	assert.NoError(t, ValidateLatLon(29.76, -95.36))
	assert.NoError(t, ValidateLatLon(-90, 180))

	assert.ErrorIs(t, ValidateLatLon(90.1, 0), ErrInvalidCoordinates)
	assert.ErrorIs(t, ValidateLatLon(-90.1, 0), ErrInvalidCoordinates)
	assert.ErrorIs(t, ValidateLatLon(0, 180.1), ErrInvalidCoordinates)
	assert.ErrorIs(t, ValidateLatLon(0, -180.1), ErrInvalidCoordinates)
}

func TestMercatorPoint_Origin(t *testing.T) {
	p, err := MercatorPoint(0, 0)
	require.NoError(t, err)

	xy, ok := p.XY()
	require.True(t, ok)
	assert.InDelta(t, 0, xy.X, 0.001)
	assert.InDelta(t, 0, xy.Y, 0.001)
}

func TestMercatorPoint_KnownCoordinate(t *testing.T) {
	// Houston: mercator X tracks longitude linearly, Y grows with latitude.
	p, err := MercatorPoint(29.76, -95.36)
	require.NoError(t, err)

	xy, ok := p.XY()
	require.True(t, ok)
	assert.InDelta(t, -10615425, xy.X, 2000)
	assert.InDelta(t, 3472650, xy.Y, 5000)
}

func TestMercatorPoint_RejectsOutOfRange(t *testing.T) {
	_, err := MercatorPoint(120, 0)
	assert.ErrorIs(t, err, ErrInvalidCoordinates)
}

func TestBounds_Contains(t *testing.T) {
	b := Bounds{MinLat: 29, MinLon: -96, MaxLat: 30, MaxLon: -95}

	assert.True(t, b.Contains(29.5, -95.5))
	assert.False(t, b.Contains(31, -95.5))
	assert.False(t, b.Contains(29.5, -94))
}
