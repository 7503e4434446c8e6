// Package obslog implements the structured event log of spec.md §7's
// ambient observability stack: JSONL entries compressed with zstd and
// rotated hourly, ported directly from the teacher's
// internal/persistence/log.JSONLZstdWriter.
package obslog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Writer appends JSON-encoded events to an hourly-rotated,
// zstd-compressed JSONL file.
type Writer struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewWriter(baseDir, prefix string) *Writer {
	return &Writer{baseDir: baseDir, prefix: prefix}
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *Writer) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// FrameLogEntry is one per-frame traversal summary (spec.md §4.1's
// ViewUpdateResult counters), the tileset analogue of the teacher's
// TickLogEntry.
type FrameLogEntry struct {
	FrameNumber          int64  `json:"frame"`
	TimestampUnixMilli    int64  `json:"ts"`
	TilesRendered        int    `json:"tiles_rendered"`
	TilesCulled          int    `json:"tiles_culled"`
	TilesVisited         int    `json:"tiles_visited"`
	MaxDepthVisited      uint32 `json:"max_depth_visited"`
	LoadingHighPriority  int    `json:"loading_high"`
	LoadingMediumPriority int   `json:"loading_medium"`
	LoadingLowPriority   int    `json:"loading_low"`
	CacheBytesUsed       int64  `json:"cache_bytes_used"`
}

// FrameLogger writes one compressed JSONL entry per traversed frame.
type FrameLogger struct{ w *Writer }

func NewFrameLogger(dir string) *FrameLogger {
	return &FrameLogger{w: NewWriter(filepath.Join(dir, "frames"), "frames")}
}

func (l *FrameLogger) WriteFrame(e FrameLogEntry) error { return l.w.Write(e) }
func (l *FrameLogger) Close() error                     { return l.w.Close() }

// LoadEventEntry records one tile load state transition, for debugging
// load-storm/thrash issues (spec.md §7).
type LoadEventEntry struct {
	TimestampUnixMilli int64  `json:"ts"`
	TileID             string `json:"tile_id"`
	State              string `json:"state"`
	URL                string `json:"url,omitempty"`
	Error              string `json:"error,omitempty"`
	ByteSize           int64  `json:"byte_size,omitempty"`
}

// LoadEventLogger writes one compressed JSONL entry per load transition.
type LoadEventLogger struct{ w *Writer }

func NewLoadEventLogger(dir string) *LoadEventLogger {
	return &LoadEventLogger{w: NewWriter(filepath.Join(dir, "loads"), "loads")}
}

func (l *LoadEventLogger) WriteEvent(e LoadEventEntry) error { return l.w.Write(e) }
func (l *LoadEventLogger) Close() error                      { return l.w.Close() }
