// Package inspector implements the live debug feed spec.md §7 names as
// an ambient operational concern: a websocket endpoint a developer
// points a browser or CLI at to watch per-tileset frame/load activity
// as it happens, grounded on internal/transport/observer.Server's
// subscribe-handshake + writer-goroutine/reader-loop shape.
package inspector

import "sync"

// Hub fans a tileset's per-frame status updates out to every currently
// subscribed client. Publish is called from the goroutine driving
// Manager.UpdateView; Subscribe is called once per websocket connection.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: map[string]map[chan []byte]struct{}{}}
}

// Subscribe registers a new per-connection channel for tilesetID and
// returns it along with an unsubscribe func the caller must defer.
func (h *Hub) Subscribe(tilesetID string) (chan []byte, func()) {
	ch := make(chan []byte, 32)
	h.mu.Lock()
	set, ok := h.subscribers[tilesetID]
	if !ok {
		set = map[chan []byte]struct{}{}
		h.subscribers[tilesetID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers[tilesetID], ch)
		if len(h.subscribers[tilesetID]) == 0 {
			delete(h.subscribers, tilesetID)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish sends b to every subscriber of tilesetID, dropping it for any
// client whose buffer is currently full rather than blocking the
// publisher — matching the teacher's "drop updates under load" stance on
// dataOut/tickOut channels.
func (h *Hub) Publish(tilesetID string, b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[tilesetID] {
		select {
		case ch <- b:
		default:
		}
	}
}
