package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattn/go-isatty"
)

// tileset-inspect is a thin client for the inspector websocket feed
// (internal/inspector), the admin-tooling analogue of the teacher's
// cmd/admin: where cmd/admin reads persisted world state from disk,
// this connects live and prints each frame's status as it streams in.
func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/admin/v1/inspector/ws", "inspector websocket url")
		tilesetID = flag.String("tileset", "", "tileset id to subscribe to (required)")
	)
	flag.Parse()

	if strings.TrimSpace(*tilesetID) == "" {
		fmt.Fprintln(os.Stderr, "missing -tileset")
		os.Exit(2)
	}

	logger := log.New(os.Stdout, "[tileset-inspect] ", log.LstdFlags|log.Lmicroseconds)
	color := isatty.IsTerminal(os.Stdout.Fd())

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := map[string]string{"type": "SUBSCRIBE", "tileset_id": *tilesetID}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
		os.Exit(0)
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("connection closed: %v", err)
			return
		}

		var pretty map[string]any
		if err := json.Unmarshal(msg, &pretty); err != nil {
			fmt.Println(string(msg))
			continue
		}
		printFrame(color, mustJSON(pretty))
	}
}

func printFrame(color bool, line string) {
	ts := time.Now().Format(time.RFC3339)
	if !color {
		fmt.Printf("[%s] %s\n", ts, line)
		return
	}
	// Dim timestamp, default-color payload — only worth the escape codes
	// when stdout is actually a terminal, not a pipe or log file.
	fmt.Printf("\x1b[2m[%s]\x1b[0m %s\n", ts, line)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
