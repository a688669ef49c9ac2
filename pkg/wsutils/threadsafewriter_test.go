package wsutils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	N int `json:"n"`
}

func TestThreadSafeWriter(t *testing.T) {
	const writers = 8

	received := make(chan []frame, 1)
	closeCode := make(chan int, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var frames []frame
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				received <- frames
				if closeErr, ok := err.(*websocket.CloseError); ok {
					closeCode <- closeErr.Code
				} else {
					closeCode <- -1
				}
				return
			}
			var f frame
			if err := json.Unmarshal(msg, &f); err != nil {
				t.Errorf("interleaved frame %q", msg)
			}
			frames = append(frames, f)
		}
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	w := NewThreadSafeWriter(conn)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := w.WriteJSON(frame{N: n}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	first := w.Close()
	if second := w.Close(); second != first {
		t.Fatalf("second close returned %v, first %v", second, first)
	}

	select {
	case frames := <-received:
		if len(frames) != writers {
			t.Fatalf("expected %d frames, got %d", writers, len(frames))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the close")
	}
	if code := <-closeCode; code != websocket.CloseNormalClosure {
		t.Fatalf("expected normal closure, got %d", code)
	}
}
