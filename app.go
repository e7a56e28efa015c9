package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kwv/skyfix/locate"
	"github.com/prometheus/client_golang/prometheus"
)

// errInvalidRequest marks requests rejected before the resolver runs
var errInvalidRequest = errors.New("invalid request")

// App encapsulates the application state and dependencies
type App struct {
	Config     *locate.Config
	Resolver   *locate.Resolver
	Tracker    *locate.FixTracker
	Metrics    *locate.Metrics
	Registry   *prometheus.Registry
	MQTTClient *locate.MQTTClient
	Publisher  *locate.Publisher
	Out        io.Writer

	// CLI Flags (effectively dependencies)
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
	HttpPort       int
	MqttMode       bool
	HttpMode       bool

	shutdownTracing func(context.Context) error
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Tracker:  locate.NewFixTracker(),
		Registry: prometheus.NewRegistry(),
		Out:      os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.ImagePath = opts.ImagePath
	a.DetectionsFile = opts.DetectionsFile
	a.AreaFile = opts.AreaFile
	a.Corners = opts.Corners
	a.MinHeight = opts.MinHeight
	a.MaxHeight = opts.MaxHeight
	a.RenderFile = opts.RenderFile
	a.GeoJSONFile = opts.GeoJSONFile
	a.FixCache = opts.FixCache
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadConfig reads the config file when present and applies CLI overrides.
// A missing file is not an error when the command line supplies a detector.
func (a *App) loadConfig() (*locate.Config, error) {
	var config *locate.Config
	if _, err := os.Stat(a.ConfigFile); err == nil {
		config, err = locate.LoadConfig(a.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", a.ConfigFile, err)
		}
		log.Printf("Loaded config from %s", a.ConfigFile)
	} else {
		log.Printf("No config at %s, using defaults", a.ConfigFile)
		config = locate.DefaultConfig()
		locate.ApplyEnvOverrides(config)
	}

	if a.DetectionsFile != "" {
		config.Detector.File = a.DetectionsFile
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// setup loads configuration and builds the resolver, metrics and tracing.
// Pieces already set on the App are kept.
func (a *App) setup(ctx context.Context) error {
	if a.Config == nil {
		config, err := a.loadConfig()
		if err != nil {
			return err
		}
		a.Config = config
	}

	if a.Registry == nil {
		a.Registry = prometheus.NewRegistry()
	}
	if a.Metrics == nil {
		metrics, err := locate.NewMetrics(a.Registry)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		a.Metrics = metrics
	}

	if a.shutdownTracing == nil {
		shutdown, err := locate.InitTracing(ctx, a.Config.Tracing)
		if err != nil {
			return err
		}
		a.shutdownTracing = shutdown
	}

	if a.Resolver == nil {
		a.Resolver = locate.NewResolver(
			newDetector(a.Config.Detector),
			newMapProvider(a.Config.Map),
			a.Config.Locate,
		).WithMetrics(a.Metrics)
	}
	if a.Tracker == nil {
		a.Tracker = locate.NewFixTracker()
	}
	return nil
}

func (a *App) teardown() {
	if a.shutdownTracing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locate.ShutdownTracing(ctx, a.shutdownTracing)
	a.shutdownTracing = nil
}

func newDetector(cfg locate.DetectorConfig) locate.Detector {
	if cfg.File != "" {
		log.Printf("[DETECT] Reading detections from %s", cfg.File)
		return &locate.FileDetector{Path: cfg.File, MinConfidence: cfg.MinConfidence}
	}
	log.Printf("[DETECT] Using inference service %s", cfg.URL)
	return locate.NewHTTPDetector(cfg.URL, cfg.MinConfidence, fetchOptions(cfg.TimeoutSec, cfg.MaxRetries)...)
}

func newMapProvider(cfg locate.MapConfig) locate.MapProvider {
	return locate.NewOverpassProvider(cfg.OverpassURL, fetchOptions(cfg.TimeoutSec, cfg.MaxRetries)...)
}

func fetchOptions(timeoutSec, maxRetries int) []locate.FetchOption {
	var opts []locate.FetchOption
	if timeoutSec > 0 {
		opts = append(opts, locate.WithTimeout(time.Duration(timeoutSec)*time.Second))
	}
	if maxRetries > 0 {
		opts = append(opts, locate.WithMaxRetries(maxRetries))
	}
	return opts
}

// searchArea builds the search polygon from --area or --corners
func (a *App) searchArea() (locate.LocateRequest, error) {
	req := locate.LocateRequest{
		ImagePath: a.ImagePath,
		Corners:   a.Corners,
		MinHeight: a.MinHeight,
		MaxHeight: a.MaxHeight,
	}
	if a.AreaFile != "" {
		data, err := os.ReadFile(a.AreaFile)
		if err != nil {
			return req, fmt.Errorf("reading search area: %w", err)
		}
		req.Area = data
	}
	if len(req.Area) == 0 && req.Corners == "" {
		return req, errors.New("--area or --corners is required")
	}
	return req, nil
}

// locate runs one request through the resolver and records the outcome in
// the tracker, metrics and, when connected, on MQTT.
func (a *App) locate(ctx context.Context, req locate.LocateRequest, source string) (*locate.Solution, error) {
	sol, err := a.resolve(ctx, req)
	a.Metrics.RecordRequest(source, err)
	if err != nil {
		a.Tracker.RecordError(req.ImagePath, err)
		if a.Publisher != nil {
			if perr := a.Publisher.PublishError(req.ImagePath, err); perr != nil {
				log.Printf("[MQTT] Error publishing failure for %s: %v", req.ImagePath, perr)
			}
		}
		return nil, err
	}

	a.Tracker.Update(req.ImagePath, sol)
	if a.Publisher != nil {
		if perr := a.Publisher.PublishFix(req.ImagePath, sol.Fix); perr != nil {
			log.Printf("[MQTT] Error publishing fix for %s: %v", req.ImagePath, perr)
		}
	}
	return sol, nil
}

func (a *App) resolve(ctx context.Context, req locate.LocateRequest) (*locate.Solution, error) {
	area, err := req.SearchArea()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	return a.Resolver.Resolve(ctx, req.ImagePath, area, req.Heights())
}

// RunLocate locates a single photograph and writes the requested outputs
func (a *App) RunLocate(ctx context.Context) error {
	req, err := a.searchArea()
	if err != nil {
		return err
	}
	if err := a.setup(ctx); err != nil {
		return err
	}
	defer a.teardown()

	sol, err := a.locate(ctx, req, "cli")
	if err != nil {
		return fmt.Errorf("locating %s: %w", req.ImagePath, err)
	}

	fix := sol.Fix
	_, _ = fmt.Fprintf(a.Out, "\nLocation: %.6f, %.6f\n", fix.Location.Lat, fix.Location.Lon)
	_, _ = fmt.Fprintf(a.Out, "Height:   %d m\n", fix.Height)
	_, _ = fmt.Fprintf(a.Out, "Rotation: %.2f°  Scale: %.4f m/px\n", fix.Rotation, fix.Scale)
	_, _ = fmt.Fprintf(a.Out, "Quality:  %.3f (%d correspondences, %d rounds)\n", fix.Quality, fix.Correspondences, fix.Rounds)

	if a.GeoJSONFile != "" {
		if err := locate.SaveGeoJSON(a.GeoJSONFile, locate.FixFeatureCollection(sol)); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(a.Out, "Saved GeoJSON to %s\n", a.GeoJSONFile)
	}

	if a.RenderFile != "" {
		if err := a.writeOverlay(a.RenderFile, sol); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(a.Out, "Saved overlay to %s\n", a.RenderFile)
	}
	return nil
}

// writeOverlay renders sol to path, picking SVG or PNG by extension
func (a *App) writeOverlay(path string, sol *locate.Solution) error {
	renderer := locate.NewOverlayRenderer(sol, a.Config.Render)

	var render func(io.Writer) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		render = renderer.RenderToSVG
	case ".png":
		render = renderer.RenderToPNG
	default:
		return fmt.Errorf("unsupported overlay format %q (use .svg or .png)", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create overlay file: %w", err)
	}
	if err := render(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to render overlay: %w", err)
	}
	return f.Close()
}

// mqttRequestHandler returns the handler run for each message on the
// request topic.
func (a *App) mqttRequestHandler(ctx context.Context) locate.RequestHandler {
	return func(req locate.LocateRequest, err error) {
		a.Metrics.RecordMQTT("request")
		if err != nil {
			log.Printf("[MQTT] Rejected request: %v", err)
			a.Metrics.RecordRequest("mqtt", err)
			a.Tracker.RecordError(req.ImagePath, err)
			if a.Publisher != nil {
				if perr := a.Publisher.PublishError(req.ImagePath, err); perr != nil {
					log.Printf("[MQTT] Error publishing failure: %v", perr)
				}
			}
			return
		}
		if _, err := a.locate(ctx, req, "mqtt"); err != nil {
			log.Printf("[MQTT] Request for %s failed: %v", req.ImagePath, err)
		}
	}
}

// RunService serves location requests over MQTT and/or HTTP until ctx is done
func (a *App) RunService(ctx context.Context) error {
	fmt.Println("Starting skyfix service...")

	if a.FixCache != "" && (a.Tracker == nil || !a.Tracker.HasFix()) {
		a.Tracker = locate.NewFixTrackerWithCache(a.FixCache)
	}
	if err := a.setup(ctx); err != nil {
		return err
	}
	defer a.teardown()

	if a.MqttMode {
		client, err := locate.InitMQTT(a.Config.MQTT, a.mqttRequestHandler(ctx))
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if client == nil {
			return errors.New("MQTT broker not configured in config.yaml")
		}
		a.MQTTClient = client
		a.Publisher = locate.NewPublisher(client.GetClient(), client.Prefix()).WithMetrics(a.Metrics)
		fmt.Println("MQTT fix publisher initialized")
	}

	var server *http.Server
	if a.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
			}
		}()
	}

	a.printServiceInfo()

	<-ctx.Done()

	fmt.Println("\nShutting down service...")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
		cancel()
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
	return nil
}

func (a *App) printServiceInfo() {
	fmt.Println("\nService Running")
	fmt.Println("===============")

	if a.MqttMode && a.MQTTClient != nil {
		prefix := a.MQTTClient.Prefix()
		fmt.Println("\nMQTT:")
		fmt.Printf("  Requests:  %s\n", locate.RequestTopic(prefix))
		fmt.Printf("  Fixes:     %s (retained)\n", locate.FixTopic(prefix))
		fmt.Printf("  Failures:  %s\n", locate.ErrorTopic(prefix))
	}

	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET  /health       - Health check")
		fmt.Println("  GET  /fix          - Latest fix")
		fmt.Println("  GET  /fix.geojson  - Latest fix as GeoJSON")
		fmt.Println("  GET  /overlay.svg  - Alignment overlay")
		fmt.Println("  GET  /overlay.png  - Alignment overlay (raster)")
		fmt.Println("  POST /locate       - Locate a photograph")
		fmt.Println("  GET  /metrics      - Prometheus metrics")
	}

	fmt.Println("\nPress Ctrl+C to stop")
}
