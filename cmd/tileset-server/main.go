package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cesium3dtiles/tilestream/internal/accessor"
	"github.com/cesium3dtiles/tilestream/internal/config"
	"github.com/cesium3dtiles/tilestream/internal/content"
	"github.com/cesium3dtiles/tilestream/internal/fixtureaccessor"
	"github.com/cesium3dtiles/tilestream/internal/geom"
	"github.com/cesium3dtiles/tilestream/internal/inspector"
	"github.com/cesium3dtiles/tilestream/internal/loader"
	"github.com/cesium3dtiles/tilestream/internal/obslog"
	"github.com/cesium3dtiles/tilestream/internal/tileset"
	"github.com/cesium3dtiles/tilestream/internal/tilesetmgr"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		optionsPath = flag.String("options", "", "path to tileset options yaml (default: built-in Cesium defaults)")
		dataDir     = flag.String("data", "./data", "runtime data directory (frame/load logs)")
		fixtureDB   = flag.String("fixture_db", "", "sqlite fixture asset store path (empty disables; use instead of -bearer_token for offline demos)")
		bearerToken = flag.String("bearer_token", "", "static bearer token for tile server requests (or set TILESTREAM_BEARER_TOKEN)")
		tilesetFlag = flag.String("tileset", "", "id=url pairs to register at startup, comma-separated (e.g. city=https://example.com/tileset.json)")
		disableLogs = flag.Bool("disable_logs", false, "disable frame/load JSONL logging")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[tileset-server] ", log.LstdFlags|log.Lmicroseconds)

	opts := tileset.DefaultOptions()
	if strings.TrimSpace(*optionsPath) != "" {
		loaded, err := config.Load(*optionsPath)
		if err != nil {
			logger.Fatalf("load options: %v", err)
		}
		opts = loaded
	}

	var frameLogger *obslog.FrameLogger
	if !*disableLogs {
		frameLogger = obslog.NewFrameLogger(filepath.Join(*dataDir, "logs"))
	}

	acc, authRefresh, closeAcc, err := buildAccessor(*fixtureDB, *bearerToken, logger)
	if err != nil {
		logger.Fatalf("build accessor: %v", err)
	}
	if closeAcc != nil {
		defer closeAcc()
	}

	mgr := tilesetmgr.NewManager(logger, frameLogger)
	defer mgr.Close()

	factory := content.NewFactory()

	ctx, cancel := signalContext()
	defer cancel()

	for id, url := range parseTilesetFlag(*tilesetFlag) {
		if err := mgr.AddTileset(ctx, id, url, opts, acc, factory, authRefresh); err != nil {
			logger.Fatalf("add tileset %s: %v", id, err)
		}
		logger.Printf("registered tileset %s from %s", id, url)
	}

	hub := inspector.NewHub()
	obsSrv := inspector.NewServer(hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(mgr))
	mux.HandleFunc("/v1/tilesets", listTilesetsHandler(mgr))
	mux.HandleFunc("/v1/tilesets/", frameHandler(mgr, hub))

	if envBool("TILESTREAM_ENABLE_ADMIN_HTTP", true) {
		mux.HandleFunc("/admin/v1/tilesets/add", addTilesetHandler(mgr, acc, authRefresh, factory, opts))
		mux.HandleFunc("/admin/v1/inspector/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (TILESTREAM_ENABLE_ADMIN_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// buildAccessor also returns the loader.AuthRefresher a bearer-token
// accessor can offer, so a 401 mid-stream triggers a single-flight
// re-handshake instead of terminating at Failed (spec.md §7). It is nil
// for the fixture accessor and for an unauthenticated HTTP accessor.
func buildAccessor(fixtureDB, bearerToken string, logger *log.Logger) (loader.Accessor, loader.AuthRefresher, func(), error) {
	if strings.TrimSpace(fixtureDB) != "" {
		fa, err := fixtureaccessor.Open(fixtureDB)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open fixture db: %w", err)
		}
		logger.Printf("serving tile content from fixture db %s", fixtureDB)
		return fa, nil, func() { _ = fa.Close() }, nil
	}

	token := strings.TrimSpace(bearerToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("TILESTREAM_BEARER_TOKEN"))
	}
	var tokenSource *accessor.RefreshingTokenSource
	if token != "" {
		tokenSource = accessor.NewRefreshingTokenSource(func(ctx context.Context) (string, time.Duration, error) {
			return token, 24 * time.Hour, nil
		})
	}
	if tokenSource == nil {
		return accessor.NewHTTPAccessor(nil), nil, nil, nil
	}
	return accessor.NewHTTPAccessor(tokenSource), tokenSource, nil, nil
}

func parseTilesetFlag(raw string) map[string]string {
	out := map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}

func listTilesetsHandler(mgr *tilesetmgr.Manager) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"tilesets": mgr.IDs()})
	}
}

// frameRequest is the wire shape for POST /v1/tilesets/{id}/frame: a
// caller-supplied camera state for one render frame. Plane extraction
// from a projection matrix is the caller's responsibility (spec.md §1);
// this endpoint only carries the already-extracted Frustum fields.
type frameRequest struct {
	CurrentFrameNumber  int64           `json:"current_frame_number"`
	PreviousFrameNumber int64           `json:"previous_frame_number"`
	Frustums            []frustumWire   `json:"frustums"`
	FogDensities        []float64       `json:"fog_densities"`
}

type frustumWire struct {
	Position          geom.Vec3    `json:"position"`
	Direction         geom.Vec3    `json:"direction"`
	Planes            [6]planeWire `json:"planes"`
	ViewportHeight    float64      `json:"viewport_height"`
	SSEDenominator    float64      `json:"sse_denominator"`
	HasGroundPosition bool         `json:"has_ground_position"`
	GroundLon         float64      `json:"ground_lon"`
	GroundLat         float64      `json:"ground_lat"`
}

type planeWire struct {
	Normal geom.Vec3 `json:"normal"`
	D      float64   `json:"d"`
}

type frameResponse struct {
	TilesRendered []string `json:"tiles_rendered"`
	TilesVisited  int      `json:"tiles_visited"`
	TilesCulled   int      `json:"tiles_culled"`
}

func frameHandler(mgr *tilesetmgr.Manager, hub *inspector.Hub) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		id, ok := tilesetIDFromFramePath(r.URL.Path)
		if !ok || r.Method != http.MethodPost {
			http.NotFound(rw, r)
			return
		}

		var req frameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(rw, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}

		frame := tileset.FrameState{
			CurrentFrameNumber:  req.CurrentFrameNumber,
			PreviousFrameNumber: req.PreviousFrameNumber,
			FogDensities:        req.FogDensities,
			Frustums:            make([]geom.Frustum, len(req.Frustums)),
		}
		for i, fw := range req.Frustums {
			var planes [6]geom.Plane
			for j, pw := range fw.Planes {
				planes[j] = geom.Plane{Normal: pw.Normal, D: pw.D}
			}
			frame.Frustums[i] = geom.Frustum{
				Position:          fw.Position,
				Direction:         fw.Direction,
				Planes:            planes,
				ViewportHeight:    fw.ViewportHeight,
				SSEDenominator:    fw.SSEDenominator,
				HasGroundPosition: fw.HasGroundPosition,
				GroundLon:         fw.GroundLon,
				GroundLat:         fw.GroundLat,
			}
		}

		result, err := mgr.UpdateView(id, frame)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusNotFound)
			return
		}

		rendered := make([]string, len(result.TilesToRender))
		for i, t := range result.TilesToRender {
			rendered[i] = t.ID.String()
		}

		if hub != nil {
			if b, err := json.Marshal(frameResponse{
				TilesRendered: rendered,
				TilesVisited:  result.TilesVisited,
				TilesCulled:   result.TilesCulled,
			}); err == nil {
				hub.Publish(id, b)
			}
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(frameResponse{
			TilesRendered: rendered,
			TilesVisited:  result.TilesVisited,
			TilesCulled:   result.TilesCulled,
		})
	}
}

func tilesetIDFromFramePath(p string) (string, bool) {
	p = strings.TrimPrefix(p, "/v1/tilesets/")
	p = strings.TrimSuffix(p, "/frame")
	if p == "" || strings.Contains(p, "/") {
		return "", false
	}
	return p, true
}

func addTilesetHandler(mgr *tilesetmgr.Manager, acc loader.Accessor, authRefresh loader.AuthRefresher, factory *content.Factory, opts tileset.Options) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(rw, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := mgr.AddTileset(r.Context(), req.ID, req.URL, opts, acc, factory, authRefresh); err != nil {
			http.Error(rw, err.Error(), http.StatusBadGateway)
			return
		}
		rw.WriteHeader(http.StatusCreated)
	}
}

func metricsHandler(mgr *tilesetmgr.Manager) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		fmt.Fprintf(rw, "# HELP tilestream_registered_tilesets Number of registered tilesets.\n")
		fmt.Fprintf(rw, "# TYPE tilestream_registered_tilesets gauge\n")
		fmt.Fprintf(rw, "tilestream_registered_tilesets %d\n", len(mgr.IDs()))

		fmt.Fprintf(rw, "# HELP tilestream_cache_bytes_used Cached content bytes currently held, per tileset.\n")
		fmt.Fprintf(rw, "# TYPE tilestream_cache_bytes_used gauge\n")
		for _, id := range mgr.IDs() {
			rt := mgr.Runtime(id)
			if rt == nil {
				continue
			}
			fmt.Fprintf(rw, "tilestream_cache_bytes_used{tileset=%q} %d\n", id, rt.Cache.TotalBytes)
		}
	}
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch v {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return def
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
