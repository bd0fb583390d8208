package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeTimeout bounds a single outbound write; a device that stops reading
// must not wedge the session goroutines.
const writeTimeout = 10 * time.Second

// wsTransport adapts a websocket connection to session.Transport.
// gorilla/websocket allows one concurrent writer, so all writes are
// serialized behind a mutex; the session's utterance and meeting
// goroutines may write concurrently.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) SendText(msg []byte) error {
	return t.write(websocket.TextMessage, msg)
}

func (t *wsTransport) SendFrame(frame []byte) error {
	return t.write(websocket.BinaryMessage, frame)
}

func (t *wsTransport) write(mt int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(mt, data)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(time.Second))
	t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return t.conn.Close()
}
