package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/twpayne/go-elevatr"
)

type options struct {
	zoom        int
	crs         string
	cacheDir    string
	noCache     bool
	deleteCache bool
	noClip      bool
	output      string
	compression string
	png         string
	colormap    string
	clipZero    bool
	clipColor   string
	extras      bool
	width       int
	height      int
	yes         bool
	logLevel    string
	concurrency int
}

func newRootCmd() *cobra.Command {
	cfg := elevatr.ConfigFromEnv()
	o := &options{}

	rootCmd := &cobra.Command{
		Use:   "elevatr min-lon min-lat max-lon max-lat",
		Short: "Download a mosaicked elevation raster for a bounding box",
		Long: `Download the elevation tiles covering a bounding box at a zoom level,
mosaic them into a single raster, and write it as a GeoTIFF and/or PNG.

Settings are taken from flags, then ELEVATR_* environment variables, then
defaults.

Examples:
  elevatr --zoom 6 --output france.tif -- -5.14 41.33 9.56 51.09
  elevatr --zoom 10 --crs EPSG:4326 --png alps.png --extras 6 45 7 46`,
		Args:         cobra.ExactArgs(4),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRaster(cmd, cfg, o, args)
		},
	}

	flags := rootCmd.Flags()
	flags.IntVarP(&o.zoom, "zoom", "z", 8, "zoom level (0-14)")
	flags.StringVar(&o.crs, "crs", elevatr.DefaultCRS, "output CRS")
	flags.StringVar(&o.cacheDir, "cache-dir", cfg.CacheDir, "tile cache directory (env ELEVATR_CACHE_DIR)")
	flags.BoolVar(&o.noCache, "no-cache", !cfg.UseCache, "do not use the tile cache (env ELEVATR_USE_CACHE)")
	flags.BoolVar(&o.deleteCache, "delete-cache", false, "delete the tile cache when done")
	flags.BoolVar(&o.noClip, "no-clip", false, "keep whole tiles instead of clipping to the bounding box")
	flags.StringVarP(&o.output, "output", "o", "", "write a GeoTIFF to this path")
	flags.StringVar(&o.compression, "compression", "deflate", "GeoTIFF compression (none or deflate)")
	flags.StringVar(&o.png, "png", "", "write a rendered PNG to this path")
	flags.StringVar(&o.colormap, "colormap", elevatr.DefaultColormap, "PNG colormap")
	flags.BoolVar(&o.clipZero, "clip-zero", false, "draw elevations below zero in the clip color")
	flags.StringVar(&o.clipColor, "clip-color", elevatr.DefaultClipColor, "clip color")
	flags.BoolVar(&o.extras, "extras", false, "draw a title, colorbar, and resolution")
	flags.IntVar(&o.width, "width", 0, "PNG image width in pixels")
	flags.IntVar(&o.height, "height", 0, "PNG image height in pixels")
	flags.BoolVarP(&o.yes, "yes", "y", false, "confirm large requests")
	flags.StringVar(&o.logLevel, "log-level", logLevelDefault(cfg.LogLevel), "log level (env ELEVATR_LOG_LEVEL)")
	flags.IntVar(&o.concurrency, "concurrency", cfg.Concurrency, "maximum concurrent tile fetches (env ELEVATR_CONCURRENCY)")

	rootCmd.AddCommand(newProvidersCmd())

	return rootCmd
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the providers in the default catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tZOOM\tRESOLUTION\tREGION")
			for _, p := range elevatr.DefaultCatalog().Providers() {
				bound := p.Region.Bound()
				fmt.Fprintf(w, "%s\t%s\t%d-%d\t%gm\t%g,%g,%g,%g\n",
					p.Name, p.Kind, p.MinZoom, p.MaxZoom, p.Resolution,
					bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat())
			}
			return w.Flush()
		},
	}
}

func runRaster(cmd *cobra.Command, cfg elevatr.Config, o *options, args []string) error {
	var coords [4]float64
	for i, arg := range args {
		value, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
		coords[i] = value
	}
	bbox, err := elevatr.NewBoundingBox(coords[0], coords[1], coords[2], coords[3])
	if err != nil {
		return err
	}

	var compression elevatr.Compression
	switch o.compression {
	case "none":
		compression = elevatr.CompressionNone
	case "deflate":
		compression = elevatr.CompressionDeflate
	default:
		return fmt.Errorf("%s: unknown compression", o.compression)
	}

	cfg.CacheDir = o.cacheDir
	cfg.Concurrency = o.concurrency
	clientOptions := append(cfg.ClientOptions(),
		elevatr.WithLogger(elevatr.NewLogger(elevatr.LogConfig{
			Level:   o.logLevel,
			Console: true,
		}, cmd.ErrOrStderr())),
		elevatr.WithConfirmLargeRequest(func(estimate elevatr.RequestEstimate) bool {
			return o.yes
		}),
	)
	client, err := elevatr.NewClient(clientOptions...)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	requestOptions := []elevatr.RequestOption{
		elevatr.WithCRS(o.crs),
		elevatr.WithUseCache(!o.noCache),
		elevatr.WithDeleteCache(o.deleteCache),
		elevatr.WithClip(!o.noClip),
	}
	if cmd.Flags().Changed("cache-dir") {
		requestOptions = append(requestOptions, elevatr.WithCacheFolder(o.cacheDir))
	}
	raster, err := client.GetElevRaster(ctx, bbox, o.zoom, requestOptions...)
	var largeRequestErr *elevatr.LargeRequestError
	if errors.As(err, &largeRequestErr) {
		return fmt.Errorf("%w (use --yes to proceed)", err)
	} else if err != nil {
		return err
	}
	if err := raster.PartialFailure(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	resolution := raster.Resolution()
	fmt.Fprintf(cmd.OutOrStdout(), "sources: %s\nsize: %dx%d\nresolution: %g x %g %s\ncrs: %s\n",
		raster.ImagerySources(), raster.Width(), raster.Height(),
		resolution.X, resolution.Y, resolution.Unit, raster.CRS())

	if o.output != "" {
		if err := raster.WriteGeoTIFF(o.output, elevatr.WithCompression(compression)); err != nil {
			return err
		}
	}
	if o.png != "" {
		if err := raster.Show(elevatr.ShowOptions{
			Colormap:   o.colormap,
			ClipZero:   o.clipZero,
			ClipColor:  o.clipColor,
			ShowExtras: o.extras,
			FilePath:   o.png,
			Width:      o.width,
			Height:     o.height,
		}); err != nil {
			return err
		}
	}
	return nil
}

func logLevelDefault(level string) string {
	if level == "" {
		return "warn"
	}
	return level
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
