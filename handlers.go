package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kwv/skyfix/locate"
)

// maxRequestBytes limits POST /locate bodies
const maxRequestBytes = 1 << 20

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(app *App) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			HasFix    bool      `json:"hasFix"`
			MQTT      bool      `json:"mqtt"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			HasFix:    app.Tracker.HasFix(),
			MQTT:      app.MQTTClient != nil && app.MQTTClient.IsConnected(),
		}
		writeJSON(w, http.StatusOK, status)
	})

	// Latest fix, with the last failure if one happened since
	mux.HandleFunc("GET /fix", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := app.Tracker.Last()
		if !ok {
			http.Error(w, "No fix available", http.StatusNotFound)
			return
		}
		resp := struct {
			locate.FixRecord
			LastError *locate.FailureRecord `json:"lastError,omitempty"`
		}{FixRecord: rec}
		if failure, ok := app.Tracker.LastError(); ok && failure.Timestamp.After(rec.Fix.Timestamp) {
			resp.LastError = &failure
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("GET /fix/history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.Tracker.History())
	})

	mux.HandleFunc("GET /fix.geojson", func(w http.ResponseWriter, r *http.Request) {
		sol := app.Tracker.Solution()
		if sol == nil {
			http.Error(w, "No solution available", http.StatusNotFound)
			return
		}
		data, err := json.Marshal(locate.FixFeatureCollection(sol))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	})

	mux.HandleFunc("GET /overlay.svg", overlayHandler(app, "image/svg+xml", (*locate.OverlayRenderer).RenderToSVG))
	mux.HandleFunc("GET /overlay.png", overlayHandler(app, "image/png", (*locate.OverlayRenderer).RenderToPNG))

	mux.HandleFunc("POST /locate", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
		if err != nil {
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}
		req, err := locate.ParseLocateRequest(body)
		if err != nil {
			app.Metrics.RecordRequest("http", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		sol, err := app.locate(r.Context(), req, "http")
		if err != nil {
			writeJSON(w, locateErrorStatus(err), locate.ErrorMessage{
				ImagePath: req.ImagePath,
				Error:     err.Error(),
				Timestamp: time.Now().Unix(),
			})
			return
		}
		writeJSON(w, http.StatusOK, locate.FixMessage{ImagePath: req.ImagePath, Fix: sol.Fix})
	})

	mux.Handle("GET /metrics", app.Metrics.Handler())

	// Default route serves an HTML page embedding the overlay
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>skyfix</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
html,body{width:100%;height:100%;overflow:hidden;background:#1a1a1a}
img{display:block;width:100vw;height:100vh;object-fit:contain}
</style>
</head>
<body>
<img src="/overlay.svg" alt="Alignment overlay">
</body>
</html>`)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

// overlayHandler renders the latest solution with render
func overlayHandler(app *App, contentType string, render func(*locate.OverlayRenderer, io.Writer) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sol := app.Tracker.Solution()
		if sol == nil {
			http.Error(w, "No solution available", http.StatusNotFound)
			return
		}
		var cfg locate.RenderConfig
		if app.Config != nil {
			cfg = app.Config.Render
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-cache")
		if err := render(locate.NewOverlayRenderer(sol, cfg), w); err != nil {
			log.Printf("Error rendering overlay: %v", err)
		}
	}
}

// locateErrorStatus maps resolver failures to HTTP status codes
func locateErrorStatus(err error) int {
	switch {
	case errors.Is(err, locate.ErrDetectionFailed), errors.Is(err, locate.ErrMapQueryFailed):
		return http.StatusBadGateway
	case errors.Is(err, locate.ErrNoConvergentSolution), errors.Is(err, locate.ErrInsufficientPoints):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errInvalidRequest), errors.Is(err, locate.ErrHeightsWithoutCamera):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Error encoding response: %v", err)
	}
}
