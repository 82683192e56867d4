package elevatr

import (
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb"
)

func TestValidateCRS(t *testing.T) {
	for _, tc := range []struct {
		crs      string
		expected error
	}{
		{crs: "EPSG:4326"},
		{crs: "EPSG:3857"},
		{crs: "epsg:32631"},
		{crs: "+proj=utm +zone=31 +datum=WGS84 +units=m +no_defs"},
		{crs: "", expected: ErrInvalidCRS},
		{crs: "   ", expected: ErrInvalidCRS},
		{crs: "not a crs", expected: ErrInvalidCRS},
		{crs: "EPSG:999999", expected: ErrInvalidCRS},
	} {
		t.Run(tc.crs, func(t *testing.T) {
			err := ValidateCRS(tc.crs)
			if tc.expected == nil {
				assert.NoError(t, err)
			} else {
				assert.IsError(t, err, tc.expected)
			}
		})
	}
}

func TestProjectBounds(t *testing.T) {
	lonLat := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}
	webMercator, err := ProjectBounds(lonLat, "EPSG:4326", "EPSG:3857")
	assert.NoError(t, err)
	assertNear(t, 0, webMercator.Min.X(), 1e-6)
	assertNear(t, 0, webMercator.Min.Y(), 1e-6)
	assertNear(t, 111319.49, webMercator.Max.X(), 0.01)
	assertNear(t, 111325.14, webMercator.Max.Y(), 0.01)

	roundTrip, err := ProjectBounds(webMercator, "EPSG:3857", "EPSG:4326")
	assert.NoError(t, err)
	assertNear(t, 1, roundTrip.Max.X(), 1e-9)
	assertNear(t, 1, roundTrip.Max.Y(), 1e-9)

	same, err := ProjectBounds(lonLat, "EPSG:4326", "epsg:4326")
	assert.NoError(t, err)
	assert.Equal(t, lonLat, same)

	_, err = ProjectBounds(lonLat, "EPSG:4326", "not a crs")
	assert.IsError(t, err, ErrInvalidCRS)
}

func TestProjectBounds_UTM(t *testing.T) {
	lonLat := orb.Bound{Min: orb.Point{2, 45}, Max: orb.Point{3, 46}}
	utm, err := ProjectBounds(lonLat, "EPSG:4326", "EPSG:32631")
	assert.NoError(t, err)
	// The eastern edge lies on the zone's central meridian.
	assertNear(t, 500000, utm.Max.X(), 0.01)
	assertNear(t, 4982950.40, utm.Min.Y(), 1)
	assert.True(t, utm.Min.X() > 400000 && utm.Min.X() < 430000)
}

func newTestWebMercatorGrid(width, height int) *Grid {
	originX, originY := lonLatToWebMercator(2, 46)
	g := NewGrid(width, height, Transform{
		OriginX:     originX,
		OriginY:     originY,
		PixelWidth:  1000,
		PixelHeight: 1000,
	}, "EPSG:3857", Float64, -9999)
	for row := range height {
		for col := range width {
			g.Data[row*width+col] = float64(10*col + row)
		}
	}
	return g
}

func TestReprojectGrid_RoundTrip(t *testing.T) {
	g := newTestWebMercatorGrid(40, 30)

	lonLat, err := ReprojectGrid(g, "EPSG:4326", Bilinear)
	assert.NoError(t, err)
	assert.Equal(t, "EPSG:4326", lonLat.CRS)
	assert.Equal(t, Float64, lonLat.DataType)
	assert.Equal(t, lonLat.Transform.PixelWidth, lonLat.Transform.PixelHeight)
	expectedBound, err := ProjectBounds(g.Bound(), "EPSG:3857", "EPSG:4326")
	assert.NoError(t, err)
	assertNear(t, expectedBound.Min.X(), lonLat.Bound().Min.X(), 1e-9)
	assertNear(t, expectedBound.Max.Y(), lonLat.Bound().Max.Y(), 1e-9)
	assert.True(t, lonLat.ValidCount() > lonLat.Width*lonLat.Height*9/10)

	back, err := ReprojectGrid(lonLat, "EPSG:3857", Bilinear)
	assert.NoError(t, err)
	assert.True(t, math.Abs(float64(back.Width-g.Width)) <= 2)
	assert.True(t, math.Abs(float64(back.Height-g.Height)) <= 2)
	assertNear(t, g.Transform.PixelWidth, back.Transform.PixelWidth, 0.05*g.Transform.PixelWidth)

	// Values at the center survive the round trip of a linear surface.
	x, y := g.Transform.World(20, 15)
	actual := InterpolateBilinear(back, [][]float64{{x, y}})
	assertNear(t, 10*19.5+14.5, actual[0], 2)
}

func TestReprojectGrid_UTM(t *testing.T) {
	g := newTestWebMercatorGrid(20, 20)
	utm, err := ReprojectGrid(g, "EPSG:32631", Nearest)
	assert.NoError(t, err)
	assert.Equal(t, "EPSG:32631", utm.CRS)
	assert.True(t, utm.ValidCount() > 0)
	for _, v := range utm.Data {
		assert.True(t, v == utm.NoData || v == math.Trunc(v))
	}
}

func TestReprojectGrid_SameCRS(t *testing.T) {
	g := newTestWebMercatorGrid(4, 4)
	actual, err := ReprojectGrid(g, "epsg:900913", Bilinear)
	assert.NoError(t, err)
	assert.Equal(t, g.Data, actual.Data)
	actual.Data[0] = 1
	assert.Equal(t, 0.0, g.Data[0])
}

func TestReprojectGrid_IntegerTypes(t *testing.T) {
	g := newTestWebMercatorGrid(10, 10)
	g.DataType = Int16
	lonLat, err := ReprojectGrid(g, "EPSG:4326", Bilinear)
	assert.NoError(t, err)
	assert.Equal(t, Int16, lonLat.DataType)
	for _, v := range lonLat.Data {
		assert.Equal(t, math.Round(v), v)
	}
}

func TestReprojectGrid_InvalidCRS(t *testing.T) {
	_, err := ReprojectGrid(newTestWebMercatorGrid(2, 2), "not a crs", Bilinear)
	assert.IsError(t, err, ErrInvalidCRS)
}
