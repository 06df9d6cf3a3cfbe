package ws

import (
	"context"
	"fmt"

	"github.com/akmonengine/tether/netsync"
	"github.com/gorilla/websocket"
)

// Client reads packets published by a Hub
type Client struct {
	conn *websocket.Conn
}

// Dial connects to a Hub endpoint, url uses the ws or wss scheme
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Next blocks until the next packet arrives. Non binary messages are skipped,
// a packet that fails to decode is returned as a netsync.ErrDecode error and
// the connection stays usable.
func (c *Client) Next() (netsync.SyncPacket, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return netsync.SyncPacket{}, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		return netsync.Decode(data)
	}
}

// Close sends a normal closure and releases the connection
func (c *Client) Close() error {
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteMessage(websocket.CloseMessage, message)
	return c.conn.Close()
}

// IsClosed reports whether err is the normal end of a Hub stream
func IsClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
