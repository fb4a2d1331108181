package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"as-backtester/pkg/types"
)

// hub fans out metric rows to every connected websocket client, per the
// teacher's Hub pattern: a single goroutine owns the client set, so
// register/unregister/broadcast never race.
type hub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcastC chan types.MetricRow
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcastC: make(chan types.MetricRow, 1024),
	}
}

func (h *hub) broadcast(row types.MetricRow) {
	select {
	case h.broadcastC <- row:
	default:
		// Slow consumer: drop the row rather than block the backtest loop.
	}
}

func (h *hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case row := <-h.broadcastC:
			for c := range h.clients {
				select {
				case c.send <- row:
				default:
					// client buffer full; drop rather than block the hub.
				}
			}
		}
	}
}

// wsClient is one connected dashboard websocket, rate-limited so a burst of
// rows (e.g. replaying a fast historical window) doesn't overwhelm a
// browser's render loop.
type wsClient struct {
	conn    *websocket.Conn
	send    chan types.MetricRow
	limiter *rate.Limiter
}

func (c *wsClient) writeLoop(h *hub, logger *slog.Logger) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	for row := range c.send {
		if err := c.limiter.Wait(context.Background()); err != nil {
			return
		}
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(row); err != nil {
			logger.Debug("websocket write failed, closing client", "error", err)
			return
		}
	}
}
