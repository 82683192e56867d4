package elevatr

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strings"

	"golang.org/x/image/colornames"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gopkg.in/go-playground/colors.v1"
)

// Rendering defaults.
const (
	DefaultColormap  = "terrain"
	DefaultClipColor = "white"
)

const (
	titleHeight    = 24
	footerHeight   = 20
	colorbarMargin = 80
	colorbarWidth  = 16
)

// ShowOptions are options for Raster.Show.
type ShowOptions struct {
	Colormap   string    // Colormap name. Defaults to DefaultColormap.
	ClipZero   bool      // Draw samples below zero in ClipColor. Display only.
	ClipColor  string    // Color name, #rrggbb, or rgb(r,g,b). Defaults to DefaultClipColor.
	ShowExtras bool      // Draw a title, a colorbar, and the resolution.
	FilePath   string    // Write the PNG here.
	Output     io.Writer // Write the PNG here.
	Width      int       // Width of the image area in pixels. Defaults to the raster width.
	Height     int       // Height of the image area in pixels. Defaults to the raster height.
}

// Show renders r as a PNG image and writes it to options.FilePath and/or
// options.Output. It does not modify r.
func (r *Raster) Show(options ShowOptions) error {
	if options.FilePath == "" && options.Output == nil {
		return fmt.Errorf("%w: no file path or output", ErrInvalidInput)
	}
	img, err := renderGrid(r.snapshot(), r.ImagerySources(), options)
	if err != nil {
		return err
	}
	if options.FilePath != "" {
		if err := writeFileAtomic(options.FilePath, func(w io.Writer) error {
			return png.Encode(w, img)
		}); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrWrite, options.FilePath, err)
		}
	}
	if options.Output != nil {
		if err := png.Encode(options.Output, img); err != nil {
			return fmt.Errorf("%w: %w", ErrWrite, err)
		}
	}
	return nil
}

func renderGrid(g *Grid, sources string, options ShowOptions) (image.Image, error) {
	colormapName := options.Colormap
	if colormapName == "" {
		colormapName = DefaultColormap
	}
	colormap, err := LookupColormap(colormapName)
	if err != nil {
		return nil, err
	}
	clipColorName := options.ClipColor
	if clipColorName == "" {
		clipColorName = DefaultClipColor
	}
	clipColor, err := parseColor(clipColorName)
	if err != nil {
		return nil, err
	}

	minValue, maxValue := math.Inf(1), math.Inf(-1)
	for _, v := range g.Data {
		if g.IsNoData(v) || (options.ClipZero && v < 0) {
			continue
		}
		minValue = min(minValue, v)
		maxValue = max(maxValue, v)
	}
	if minValue > maxValue {
		minValue, maxValue = 0, 0
	}
	scale := func(v float64) float64 {
		if maxValue == minValue {
			return 0.5
		}
		return (v - minValue) / (maxValue - minValue)
	}

	src := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	for row := range g.Height {
		for col := range g.Width {
			switch v := g.At(col, row); {
			case g.IsNoData(v):
			case options.ClipZero && v < 0:
				src.SetRGBA(col, row, clipColor)
			default:
				src.SetRGBA(col, row, colormap.At(scale(v)))
			}
		}
	}

	width, height := imageSize(g.Width, g.Height, options.Width, options.Height)
	var plot *image.RGBA
	if width == g.Width && height == g.Height {
		plot = src
	} else {
		plot = image.NewRGBA(image.Rect(0, 0, width, height))
		draw.ApproxBiLinear.Scale(plot, plot.Bounds(), src, src.Bounds(), draw.Src, nil)
	}
	if !options.ShowExtras {
		return plot, nil
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width+colorbarMargin, titleHeight+height+footerHeight))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(colornames.White), image.Point{}, draw.Src)
	plotRect := image.Rect(0, titleHeight, width, titleHeight+height)
	draw.Draw(canvas, plotRect, plot, image.Point{}, draw.Over)

	title := "Elevation"
	if sources != "" {
		title += " (" + sources + ")"
	}
	drawText(canvas, 4, titleHeight-8, title)

	barLeft := width + 10
	for y := range height {
		c := colormap.At(1 - float64(y)/float64(max(height-1, 1)))
		for x := barLeft; x < barLeft+colorbarWidth; x++ {
			canvas.SetRGBA(x, titleHeight+y, c)
		}
	}
	drawText(canvas, barLeft+colorbarWidth+4, titleHeight+10, formatElevation(maxValue))
	drawText(canvas, barLeft+colorbarWidth+4, titleHeight+height, formatElevation(minValue))

	unit := crsUnit(g.CRS)
	footer := fmt.Sprintf("%s  %.6g x %.6g %s", g.CRS, g.Transform.PixelWidth, g.Transform.PixelHeight, unit)
	drawText(canvas, 4, titleHeight+height+footerHeight-6, footer)

	return canvas, nil
}

// imageSize returns the size of the image area, preserving the aspect ratio
// when only one dimension is given.
func imageSize(gridWidth, gridHeight, width, height int) (int, int) {
	switch {
	case width > 0 && height > 0:
		return width, height
	case width > 0:
		return width, max(1, int(math.Round(float64(width)*float64(gridHeight)/float64(gridWidth))))
	case height > 0:
		return max(1, int(math.Round(float64(height)*float64(gridWidth)/float64(gridHeight)))), height
	default:
		return gridWidth, gridHeight
	}
}

func drawText(dst draw.Image, x, y int, s string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(colornames.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func formatElevation(v float64) string {
	return fmt.Sprintf("%.0f m", v)
}

// parseColor parses an SVG color name or a CSS color.
func parseColor(s string) (color.RGBA, error) {
	if c, ok := colornames.Map[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c, nil
	}
	c, err := colors.Parse(s)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: color %q: %w", ErrInvalidInput, s, err)
	}
	rgba := c.ToRGBA()
	alpha := max(0, min(rgba.A, 1))
	premultiply := func(v uint8) uint8 {
		return uint8(math.Round(float64(v) * alpha))
	}
	return color.RGBA{
		R: premultiply(rgba.R),
		G: premultiply(rgba.G),
		B: premultiply(rgba.B),
		A: uint8(math.Round(alpha * 255)),
	}, nil
}
