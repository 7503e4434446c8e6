package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/cesium3dtiles/tilestream/internal/obslog"
)

func main() {
	var (
		dataDir  = flag.String("data", "./data", "runtime data directory (same -data passed to tileset-server)")
		fromTick = flag.Int64("from_frame", 0, "only summarize frames >= this frame number")
		toTick   = flag.Int64("to_frame", 0, "stop summarizing at this frame number (0 = no limit)")
	)
	flag.Parse()

	if err := summarizeFrames(filepath.Join(*dataDir, "logs", "frames"), *fromTick, *toTick); err != nil {
		fmt.Fprintln(os.Stderr, "frames:", err)
		os.Exit(1)
	}
	if err := summarizeLoads(filepath.Join(*dataDir, "logs", "loads")); err != nil {
		fmt.Fprintln(os.Stderr, "loads:", err)
		os.Exit(1)
	}
}

func summarizeFrames(dir string, fromFrame, toFrame int64) error {
	files, err := listLogFiles(dir, "frames-")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("no frame logs found in", dir)
		return nil
	}

	var (
		count                    int64
		totalRendered            int64
		totalCulled              int64
		totalVisited             int64
		maxDepth                 uint32
		maxCacheBytes            int64
		lastFrame                int64
	)

	for _, path := range files {
		err := scanJSONLZst(path, func(line []byte) error {
			var e obslog.FrameLogEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			if e.FrameNumber < fromFrame {
				return nil
			}
			if toFrame != 0 && e.FrameNumber > toFrame {
				return nil
			}
			count++
			totalRendered += int64(e.TilesRendered)
			totalCulled += int64(e.TilesCulled)
			totalVisited += int64(e.TilesVisited)
			if e.MaxDepthVisited > maxDepth {
				maxDepth = e.MaxDepthVisited
			}
			if e.CacheBytesUsed > maxCacheBytes {
				maxCacheBytes = e.CacheBytesUsed
			}
			lastFrame = e.FrameNumber
			return nil
		})
		if err != nil {
			return err
		}
	}

	if count == 0 {
		fmt.Println("no frames matched the requested range")
		return nil
	}

	fmt.Printf("frames: count=%d last_frame=%d avg_rendered=%.1f avg_culled=%.1f avg_visited=%.1f max_depth=%d peak_cache_bytes=%d\n",
		count, lastFrame,
		float64(totalRendered)/float64(count),
		float64(totalCulled)/float64(count),
		float64(totalVisited)/float64(count),
		maxDepth, maxCacheBytes)
	return nil
}

func summarizeLoads(dir string) error {
	files, err := listLogFiles(dir, "loads-")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("no load logs found in", dir)
		return nil
	}

	byState := map[string]int64{}
	var failedTile []string

	for _, path := range files {
		err := scanJSONLZst(path, func(line []byte) error {
			var e obslog.LoadEventEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			byState[e.State]++
			if e.State == "Failed" {
				failedTile = append(failedTile, e.TileID)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	states := make([]string, 0, len(byState))
	for s := range byState {
		states = append(states, s)
	}
	sort.Strings(states)

	fmt.Println("load events by state:")
	for _, s := range states {
		fmt.Printf("  %-20s %d\n", s, byState[s])
	}
	if len(failedTile) > 0 {
		fmt.Printf("failed tiles (%d): %s\n", len(failedTile), strings.Join(failedTile, ", "))
	}
	return nil
}

func listLogFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func scanJSONLZst(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}
