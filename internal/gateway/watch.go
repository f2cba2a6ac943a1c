package gateway

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fanzone/memefeed/internal/feed"
	"github.com/fanzone/memefeed/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024

	sendBuffer = 16
)

// Send pings to peer with this period. Must be less than pongWait.
var pingPeriod = (pongWait * 9) / 10

// Message types pushed to watch clients.
const (
	MessageSnapshot = "snapshot"
	MessageState    = "state"
	MessageError    = "error"
)

// Actions a watch client may send.
const (
	ActionNext    = "next"
	ActionRefresh = "refresh"
)

// WatchMessage is a server-to-client frame.
type WatchMessage struct {
	Type  string              `json:"type"`
	Items []model.CachedEntry `json:"items,omitempty"`
	State *StateResponse      `json:"state,omitempty"`
	Error string              `json:"error,omitempty"`
}

// WatchCommand is a client-to-server frame.
type WatchCommand struct {
	Action string `json:"action"`
}

// checkOrigin allows non-browser clients, the request's own host, and the
// configured origins.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return strings.EqualFold(u.Hostname(), hostname(r.Host))
}

func hostname(hostport string) string {
	if h, _, ok := strings.Cut(hostport, ":"); ok {
		return h
	}
	return hostport
}

// handleWatch streams partition snapshots and pagination state over a
// WebSocket. Clients page with {"action":"next"} and {"action":"refresh"}.
func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	key, ok := h.filterFromPath(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snapshots, err := h.repo.Observe(ctx, key)
	if err != nil {
		h.writeFeedError(w, r, err)
		return
	}
	states := h.repo.SubscribeState(ctx)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	logger := h.logger.With("filter", key, "remote", r.RemoteAddr)
	logger.Debug("Watch client connected")

	send := make(chan WatchMessage, sendBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Unblocks readPump when the stream ends server-side.
		defer conn.Close()
		defer cancel()
		h.writePump(ctx, conn, snapshots, states, send)
	}()

	h.readPump(ctx, conn, key, send)
	cancel()
	<-done
	logger.Debug("Watch client disconnected")
}

func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, key model.FilterKey, send chan<- WatchMessage) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		var cmd WatchCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("Watch read failed", "error", err)
			}
			return
		}

		var op func(context.Context, model.FilterKey) error
		switch cmd.Action {
		case ActionNext:
			op = h.repo.LoadNextPage
		case ActionRefresh:
			op = h.repo.Refresh
		default:
			msg := WatchMessage{Type: MessageError, Error: "unknown action: " + cmd.Action}
			select {
			case send <- msg:
			case <-ctx.Done():
				return
			}
			continue
		}

		opCtx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
		err := op(opCtx, key)
		cancel()
		if err != nil {
			select {
			case send <- WatchMessage{Type: MessageError, Error: err.Error()}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, snapshots <-chan []model.CachedEntry, states <-chan feed.PaginationState, send <-chan WatchMessage) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(msg WatchMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			h.logger.Debug("Watch write failed", "error", err)
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case items, ok := <-snapshots:
			if !ok {
				return
			}
			if items == nil {
				items = []model.CachedEntry{}
			}
			if !write(WatchMessage{Type: MessageSnapshot, Items: items}) {
				return
			}
		case st, ok := <-states:
			if !ok {
				return
			}
			resp := h.stateResponse(st)
			if !write(WatchMessage{Type: MessageState, State: &resp}) {
				return
			}
		case msg := <-send:
			if !write(msg) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
