package elevatr

import (
	"fmt"
	"image/color"
	"maps"
	"math"
	"slices"
	"strings"
)

// A Colormap maps values in [0, 1] to colors.
type Colormap struct {
	name  string
	stops []colorStop
}

type colorStop struct {
	at    float64
	color color.RGBA
}

var colormaps = map[string]*Colormap{
	"gray": {
		name: "gray",
		stops: []colorStop{
			{0, color.RGBA{0, 0, 0, 255}},
			{1, color.RGBA{255, 255, 255, 255}},
		},
	},
	"terrain": {
		name: "terrain",
		stops: []colorStop{
			{0, color.RGBA{51, 51, 153, 255}},
			{0.15, color.RGBA{0, 153, 255, 255}},
			{0.25, color.RGBA{0, 204, 102, 255}},
			{0.5, color.RGBA{255, 255, 153, 255}},
			{0.75, color.RGBA{128, 92, 84, 255}},
			{1, color.RGBA{255, 255, 255, 255}},
		},
	},
	"viridis": {
		name: "viridis",
		stops: []colorStop{
			{0, color.RGBA{68, 1, 84, 255}},
			{0.25, color.RGBA{59, 82, 139, 255}},
			{0.5, color.RGBA{33, 145, 140, 255}},
			{0.75, color.RGBA{94, 201, 98, 255}},
			{1, color.RGBA{253, 231, 37, 255}},
		},
	},
}

// LookupColormap returns the colormap called name.
func LookupColormap(name string) (*Colormap, error) {
	name = strings.ToLower(name)
	if name == "grey" {
		name = "gray"
	}
	colormap, ok := colormaps[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown colormap %q", ErrInvalidInput, name)
	}
	return colormap, nil
}

// ColormapNames returns the names of all colormaps.
func ColormapNames() []string {
	return slices.Sorted(maps.Keys(colormaps))
}

func (c *Colormap) Name() string {
	return c.name
}

// At returns the color at t, which is clamped to [0, 1].
func (c *Colormap) At(t float64) color.RGBA {
	if math.IsNaN(t) {
		t = 0
	}
	t = max(0, min(t, 1))
	i, _ := slices.BinarySearchFunc(c.stops, t, func(s colorStop, t float64) int {
		switch {
		case s.at < t:
			return -1
		case s.at > t:
			return 1
		default:
			return 0
		}
	})
	switch {
	case i == 0:
		return c.stops[0].color
	case i == len(c.stops):
		return c.stops[len(c.stops)-1].color
	}
	lo, hi := c.stops[i-1], c.stops[i]
	f := (t - lo.at) / (hi.at - lo.at)
	lerp := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + f*(float64(b)-float64(a))))
	}
	return color.RGBA{
		R: lerp(lo.color.R, hi.color.R),
		G: lerp(lo.color.G, hi.color.G),
		B: lerp(lo.color.B, hi.color.B),
		A: lerp(lo.color.A, hi.color.A),
	}
}
