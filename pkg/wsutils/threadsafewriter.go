package wsutils

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeWait = time.Second

// ThreadSafeWriter serializes writes on a websocket. Reads are left to a
// single reader goroutine.
type ThreadSafeWriter struct {
	*websocket.Conn
	sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func (t *ThreadSafeWriter) WriteJSON(val any) error {
	t.Lock()
	defer t.Unlock()

	return t.Conn.WriteJSON(val)
}

// Close sends a normal close frame and closes the socket. It is safe to call
// more than once.
func (t *ThreadSafeWriter) Close() error {
	t.closeOnce.Do(func() {
		t.Lock()
		_ = t.Conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait),
		)
		t.Unlock()
		t.closeErr = t.Conn.Close()
	})
	return t.closeErr
}

func NewThreadSafeWriter(conn *websocket.Conn) *ThreadSafeWriter {
	return &ThreadSafeWriter{
		Conn: conn,
	}
}
