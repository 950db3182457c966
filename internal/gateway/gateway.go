// Package gateway exposes the chat engine over WebSocket. Each connection
// gets one registry session; the read loop feeds client frames into the room
// session protocol and the write loop drains the session's outbound events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parleychat/parley/internal/chat/protocol"
	"github.com/parleychat/parley/internal/chat/registry"
	"github.com/parleychat/parley/internal/config"
)

const maxFrameBytes = 32 * 1024

// Gateway is the WebSocket front end. It implements server.Service.
type Gateway struct {
	serverCfg config.ServerConfig
	chatCfg   config.ChatConfig
	registry  *registry.Registry
	protocol  *protocol.Protocol
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	srv       *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// New creates a Gateway.
//
// Precondition: reg, proto, and logger must be non-nil.
func New(
	serverCfg config.ServerConfig,
	chatCfg config.ChatConfig,
	reg *registry.Registry,
	proto *protocol.Protocol,
	logger *zap.Logger,
) *Gateway {
	return &Gateway{
		serverCfg: serverCfg,
		chatCfg:   chatCfg,
		registry:  reg,
		protocol:  proto,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is enforced upstream at the edge proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]bool),
	}
}

// Start listens on the configured address and serves WebSocket upgrades until
// Stop is called. The connection registry is marked ready once the listener
// is bound, so empty room queries from then on mean "no one connected".
func (g *Gateway) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	g.srv = &http.Server{
		Addr:    g.serverCfg.Addr(),
		Handler: mux,
	}

	ln, err := net.Listen("tcp", g.srv.Addr)
	if err != nil {
		return err
	}

	g.registry.MarkReady()
	g.logger.Info("gateway listening", zap.String("addr", ln.Addr().String()))

	if err := g.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down and closes every live WebSocket.
func (g *Gateway) Stop() {
	if g.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.srv.Shutdown(ctx); err != nil {
			g.logger.Warn("gateway shutdown", zap.Error(err))
		}
	}

	// Shutdown does not reach hijacked connections; close them directly.
	g.mu.Lock()
	for conn := range g.conns {
		conn.Close()
	}
	g.conns = make(map[*websocket.Conn]bool)
	g.mu.Unlock()
}

func (g *Gateway) track(conn *websocket.Conn) {
	g.mu.Lock()
	g.conns[conn] = true
	g.mu.Unlock()
}

func (g *Gateway) untrack(conn *websocket.Conn) {
	g.mu.Lock()
	delete(g.conns, conn)
	g.mu.Unlock()
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	g.track(conn)
	defer g.untrack(conn)

	connID := uuid.NewString()
	sess := registry.NewSession(connID, g.chatCfg.SessionBuffer)
	if err := g.registry.Register(sess); err != nil {
		g.logger.Error("session registration failed", zap.Error(err))
		conn.Close()
		return
	}

	g.logger.Info("connection opened",
		zap.String("conn", connID),
		zap.String("remote", conn.RemoteAddr().String()),
	)

	go g.writeLoop(conn, sess)
	g.readLoop(conn, sess)

	// The transport dropped or the client closed: the protocol decides
	// whether a grace timer starts.
	g.protocol.Disconnect(context.Background(), sess)
	conn.Close()

	g.logger.Info("connection closed", zap.String("conn", connID))
}

// readLoop consumes client frames until the connection fails or closes.
func (g *Gateway) readLoop(conn *websocket.Conn, sess *registry.Session) {
	conn.SetReadLimit(maxFrameBytes)

	pongWait := g.serverCfg.ReadTimeout
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("read loop ended", zap.String("conn", sess.ConnID), zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		g.dispatch(sess, data)
	}
}

// dispatch routes one inbound frame through the protocol and queues the reply.
func (g *Gateway) dispatch(sess *registry.Session, data []byte) {
	ctx := context.Background()

	frame, err := parseFrame(data)
	if err != nil {
		g.reply(sess, errorReply{Type: frameError, Error: err.Error()})
		return
	}

	switch frame.Type {
	case frameJoin:
		res, err := g.protocol.Join(ctx, sess, frame.joinRequest())
		if err != nil {
			g.reply(sess, errorReply{Type: frameError, Error: err.Error()})
			return
		}
		g.reply(sess, newJoinedReply(res))

	case frameRejoin:
		res, err := g.protocol.Rejoin(ctx, sess, frame.rejoinRequest())
		if err != nil {
			g.reply(sess, errorReply{Type: frameError, Error: err.Error()})
			return
		}
		g.reply(sess, newJoinedReply(res))

	case frameLeave:
		if err := g.protocol.Leave(ctx, sess, frame.leaveRequest()); err != nil {
			g.reply(sess, errorReply{Type: frameError, Error: err.Error()})
			return
		}
		g.reply(sess, leaveReply{Type: frameLeft, RoomID: frame.RoomID})

	case frameHeartbeat:
		state, err := normalizeAppState(frame.AppState)
		if err != nil {
			g.reply(sess, errorReply{Type: frameError, Error: err.Error()})
			return
		}
		sess.RecordHeartbeat(time.Now(), state)
		g.reply(sess, heartbeatReply{
			Type:          frameHeartbeatAck,
			Timestamp:     time.Now().UnixMilli(),
			GracePeriodMs: g.protocol.GracePeriod().Milliseconds(),
		})

	default:
		g.reply(sess, errorReply{Type: frameError, Error: "unknown frame type " + frame.Type})
	}
}

// reply queues a direct response on the session's outbound channel, keeping a
// single writer per connection.
func (g *Gateway) reply(sess *registry.Session, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("marshalling reply", zap.Error(err))
		return
	}
	if err := sess.Push(data); err != nil {
		g.logger.Debug("reply dropped", zap.String("conn", sess.ConnID), zap.Error(err))
	}
}

// writeLoop drains the session's outbound events onto the wire and keeps the
// connection alive with pings. It exits when the session closes.
func (g *Gateway) writeLoop(conn *websocket.Conn, sess *registry.Session) {
	pongWait := g.serverCfg.ReadTimeout
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	pingPeriod := pongWait * 9 / 10

	writeWait := g.serverCfg.WriteTimeout
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-sess.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				g.logger.Debug("write failed", zap.String("conn", sess.ConnID), zap.Error(err))
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
