package connection

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the transport under a shard. ReadMessage is only called from one
// goroutine and WriteMessage only from another; Close may be called from any.
type Conn interface {
	// ReadMessage blocks until the next text frame arrives.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one text frame.
	WriteMessage(data []byte) error

	// Close tears down the connection and unblocks ReadMessage.
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials websocket connections with gorilla/websocket.
type WSDialer struct {
	HandshakeTimeout time.Duration // Websocket upgrade timeout
	WriteTimeout     time.Duration // Write deadline for each frame
	Header           http.Header
}

// DefaultWSDialer returns sensible defaults.
func DefaultWSDialer() WSDialer {
	return WSDialer{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// Dial establishes the websocket connection.
func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}

	return &wsConn{conn: conn, writeTimeout: d.WriteTimeout}, nil
}

// wsConn adapts *websocket.Conn to Conn.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame and closes the socket. Safe to call more than once.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// closeCode extracts the websocket close code from a read error, or 0.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
