package hub

import (
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// FastHTTPHandler returns a raw fasthttp handler for WebSocket upgrades.
// Each upgraded connection gets a fresh UUID, is registered with the hub
// (running the connection callbacks) and then pumps until it closes.
func (h *Hub) FastHTTPHandler() fasthttp.RequestHandler {
	upgrader := websocket.FastHTTPUpgrader{
		ReadBufferSize:  h.cfg.ReadBufferSize,
		WriteBufferSize: h.cfg.WriteBufferSize,
	}

	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}
		if limit := h.cfg.MaxConnections; limit > 0 && h.ClientCount() >= limit {
			h.logger.Warn().Int("max_connections", limit).Msg("connection limit reached")
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetBodyString(`{"error":"too_many_connections"}`)
			return
		}

		clientID := uuid.New().String()
		userAgent := string(ctx.UserAgent())
		writeTimeout := h.cfg.WriteDeadline()

		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			client := NewClient(clientID, &fasthttpConn{conn: conn, writeTimeout: writeTimeout}, h)
			client.SetUserAgent(userAgent)
			if !h.Register(client) {
				conn.Close()
				return
			}
			go client.WritePump()
			client.ReadPump()
		})
		if err != nil {
			h.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

// fasthttpConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type fasthttpConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (f *fasthttpConn) WriteJSON(v any) error {
	if f.writeTimeout > 0 {
		if err := f.conn.SetWriteDeadline(time.Now().Add(f.writeTimeout)); err != nil {
			return err
		}
	}
	return f.conn.WriteJSON(v)
}

func (f *fasthttpConn) ReadJSON(v any) error { return f.conn.ReadJSON(v) }

func (f *fasthttpConn) Ping() error {
	var deadline time.Time
	if f.writeTimeout > 0 {
		deadline = time.Now().Add(f.writeTimeout)
	}
	return f.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (f *fasthttpConn) Close() error { return f.conn.Close() }
