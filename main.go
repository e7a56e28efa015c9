package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions carries the parsed command line
type AppOptions struct {
	ConfigFile     string
	ImagePath      string
	DetectionsFile string
	AreaFile       string
	Corners        string
	MinHeight      float64
	MaxHeight      float64
	RenderFile     string
	GeoJSONFile    string
	FixCache       string
	MqttMode       bool
	HttpMode       bool
	HttpPort       int
}

// Runner is implemented by App; tests substitute a mock
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunLocate(ctx context.Context) error
	RunService(ctx context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("skyfix: %v", err)
	}
}

func run(ctx context.Context, args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("skyfix", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.ImagePath, "image", "", "Aerial photograph to locate (one-shot mode)")
	fs.StringVar(&opts.DetectionsFile, "detections", "", "Precomputed detection JSON, overrides detector.url")
	fs.StringVar(&opts.AreaFile, "area", "", "GeoJSON file with the search area polygon")
	fs.StringVar(&opts.Corners, "corners", "", "Search area as \"topLat,topLon,bottomLat,bottomLon\"")
	fs.Float64Var(&opts.MinHeight, "min-height", 0, "Minimum plausible camera altitude in meters")
	fs.Float64Var(&opts.MaxHeight, "max-height", 0, "Maximum plausible camera altitude in meters (0 = unbounded)")
	fs.StringVar(&opts.RenderFile, "render", "", "Write the alignment overlay to this .svg or .png file")
	fs.StringVar(&opts.GeoJSONFile, "geojson", "", "Write the fix as a GeoJSON feature collection")
	fs.StringVar(&opts.FixCache, "fix-cache", ".skyfix-last-fix.json", "Path of the last-fix cache used in service mode")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Serve location requests over MQTT")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve the HTTP API")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")

	if err := fs.Parse(args); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "skyfix version: %s\n", Version)
	app.ApplyOptions(opts)

	if opts.ImagePath != "" {
		return app.RunLocate(ctx)
	}

	if opts.MqttMode || opts.HttpMode {
		return app.RunService(ctx)
	}

	_, _ = fmt.Fprintln(out, "Nothing to do.")
	_, _ = fmt.Fprintln(out, "Use --image PHOTO --corners lat,lon,lat,lon to locate one photograph")
	_, _ = fmt.Fprintln(out, "Use --render overlay.svg or --geojson fix.geojson to save the result")
	_, _ = fmt.Fprintln(out, "Use --mqtt to serve requests on <prefix>/request")
	_, _ = fmt.Fprintln(out, "Use --http to serve the HTTP API")
	_, _ = fmt.Fprintln(out, "\nConfiguration:")
	_, _ = fmt.Fprintln(out, "  config.yaml - detector, Overpass, solver, MQTT and tracing settings")
	return nil
}
