package devserver

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/coder/websocket"
)

// pushHub fans out PushMessage frames to every /ws/changes connection
// subscribed for a given user, adapted from the teacher's habit of a
// small in-process broadcaster rather than a message broker — devserver
// is single-process by design (see SPEC_FULL.md §6.3).
type pushHub struct {
	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]struct{}
}

func newPushHub() *pushHub {
	return &pushHub{conns: make(map[string]map[*websocket.Conn]struct{})}
}

func (h *pushHub) subscribe(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[userID]
	if !ok {
		set = make(map[*websocket.Conn]struct{})
		h.conns[userID] = set
	}
	set[conn] = struct{}{}
}

func (h *pushHub) unsubscribe(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], conn)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}

func (h *pushHub) publish(userID string, msg PushMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Write(context.Background(), websocket.MessageText, data)
	}
}
