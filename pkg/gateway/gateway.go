// Package gateway accepts WebSocket connections from voice devices and
// binds each one to a session. Text messages carry JSON control traffic,
// binary messages carry audio frames; both travel on the same connection.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/echoear/voicegate/pkg/protocol"
	"github.com/echoear/voicegate/pkg/session"
)

// defaultHandshakeTimeout bounds the wait for the device hello.
const defaultHandshakeTimeout = 10 * time.Second

// maxMessageSize bounds a single inbound message. Control messages are
// small and audio frames are tens of milliseconds; anything bigger is a
// misbehaving client.
const maxMessageSize = 1 << 20

// Options configures a Gateway.
type Options struct {
	// Session is the per-connection session configuration. The Router
	// field is required.
	Session session.Options

	// HandshakeTimeout bounds the wait for the hello message. Defaults
	// to 10s.
	HandshakeTimeout time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Gateway upgrades device connections and runs their read loops. It
// implements http.Handler.
type Gateway struct {
	upgrader         websocket.Upgrader
	sessionOpts      session.Options
	handshakeTimeout time.Duration
	logger           *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// New creates a gateway.
func New(opts Options) *Gateway {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Devices connect directly, not from browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessionOpts:      opts.Session,
		handshakeTimeout: opts.HandshakeTimeout,
		logger:           opts.Logger,
	}
}

// ServeHTTP upgrades the connection and runs the session until the device
// disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)
	g.serve(conn, r.RemoteAddr)
}

// serve performs the handshake and runs the read loop. It owns the
// connection and closes it on return.
func (g *Gateway) serve(conn *websocket.Conn, remote string) {
	defer conn.Close()

	hello, err := g.handshake(conn)
	if err != nil {
		g.logger.Warn("handshake failed", "remote", remote, "error", err)
		conn.WriteMessage(websocket.TextMessage, protocol.Marshal(protocol.NewError(err.Error())))
		return
	}

	transport := newWSTransport(conn)
	sess := session.New(transport, hello, g.sessionOpts)

	g.register(sess)
	defer func() {
		g.unregister(sess)
		sess.Close()
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Warn("connection dropped", "session", sess.ID(), "error", err)
			}
			return
		}
		switch mt {
		case websocket.TextMessage:
			sess.HandleControl(data)
		case websocket.BinaryMessage:
			sess.HandleFrame(data)
		}
	}
}

// handshake reads the first message and requires a hello with a device id.
func (g *Gateway) handshake(conn *websocket.Conn) (*protocol.Hello, error) {
	conn.SetReadDeadline(time.Now().Add(g.handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	mt, data, err := conn.ReadMessage()
	if err != nil {
		return nil, errHandshake("no hello received")
	}
	if mt != websocket.TextMessage {
		return nil, errHandshake("first message must be text")
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		return nil, errHandshake("first message must be hello")
	}
	hello, ok := msg.(*protocol.Hello)
	if !ok {
		return nil, errHandshake("first message must be hello")
	}
	if hello.DeviceID == "" {
		return nil, errHandshake("hello missing device_id")
	}
	return hello, nil
}

type errHandshake string

func (e errHandshake) Error() string { return "gateway: " + string(e) }

func (g *Gateway) register(s *session.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessions == nil {
		g.sessions = make(map[string]*session.Session)
	}
	g.sessions[s.ID()] = s
}

func (g *Gateway) unregister(s *session.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, s.ID())
}

// SessionCount returns the number of live sessions.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Shutdown closes every live session and waits until the read loops have
// unregistered them or the context expires.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	for _, s := range g.sessions {
		s.Close()
	}
	g.mu.Unlock()

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		if g.SessionCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}
