package tui

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the terminal's end of the frame channel. Writes are serialized;
// inbound frames are delivered on Frames until the socket closes.
type Conn struct {
	ws     *websocket.Conn
	writeM sync.Mutex
	frames chan []byte
	done   chan struct{}
	stop   chan struct{}
	once   sync.Once
	err    error
}

// Dial connects to a panel websocket such as ws://127.0.0.1:8787/v1/panel/ws.
func Dial(ctx context.Context, url string) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Conn{ws: ws, frames: make(chan []byte, 64), done: make(chan struct{}), stop: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.frames)
	defer close(c.done)
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.err = err
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case c.frames <- data:
		case <-c.stop:
			return
		}
	}
}

// Frames yields raw inbound frames and is closed when the socket ends.
func (c *Conn) Frames() <-chan []byte { return c.frames }

// Err is the read error that ended the connection, valid after Frames closes.
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

func (c *Conn) Send(v any) error {
	c.writeM.Lock()
	defer c.writeM.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(v)
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.stop) })
	c.writeM.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeM.Unlock()
	return c.ws.Close()
}
