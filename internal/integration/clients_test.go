package integration

import (
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"roboclass/pkg/types"
)

const waitTimeout = 5 * time.Second

// wsClient is a browser or WebSocket robot talking JSON messages.
type wsClient struct {
	t        *testing.T
	conn     *websocket.Conn
	messages chan *types.Message
}

func dialWebSocket(t *testing.T, serverURL, clientType string) *wsClient {
	t.Helper()
	u, err := url.Parse(serverURL)
	if err != nil {
		t.Fatalf("Invalid server URL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/connections/" + clientType

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("Failed to connect %s: %v", clientType, err)
	}
	c := &wsClient{t: t, conn: conn, messages: make(chan *types.Message, 100)}
	go c.readLoop()
	t.Cleanup(func() { conn.Close() })
	return c
}

func (c *wsClient) readLoop() {
	defer close(c.messages)
	for {
		var msg types.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.messages <- &msg
	}
}

func (c *wsClient) send(msg *types.Message) {
	c.t.Helper()
	if err := c.conn.WriteJSON(msg); err != nil {
		c.t.Fatalf("Send %s failed: %v", msg.Type, err)
	}
}

// waitFor skips messages until one of type t arrives.
func (c *wsClient) waitFor(t types.MessageType) *types.Message {
	c.t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case msg, ok := <-c.messages:
			if !ok {
				c.t.Fatalf("Connection closed waiting for %s", t)
			}
			if msg.Type == t {
				return msg
			}
		case <-timeout:
			c.t.Fatalf("Timed out waiting for %s", t)
		}
	}
}

// socketClient is a robot speaking binary frames over raw TCP.
type socketClient struct {
	t      *testing.T
	conn   net.Conn
	reader *types.FrameReader
	seq    uint16
}

func dialSocket(t *testing.T, addr string) *socketClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Failed to connect socket robot: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &socketClient{t: t, conn: conn, reader: types.NewFrameReader(conn)}
}

func (c *socketClient) send(msg *types.Message) {
	c.t.Helper()
	c.seq++
	frame, err := types.EncodeFrame(msg, c.seq)
	if err != nil {
		c.t.Fatalf("Encode %s failed: %v", msg.Type, err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		c.t.Fatalf("Send %s failed: %v", msg.Type, err)
	}
}

func (c *socketClient) waitFor(t types.MessageType) *types.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(waitTimeout))
	for {
		frame, err := c.reader.ReadFrame()
		if err != nil {
			c.t.Fatalf("Read failed waiting for %s: %v", t, err)
		}
		msg, _, err := types.DecodeFrame(frame)
		if err != nil {
			c.t.Fatalf("Decode failed: %v", err)
		}
		if msg.Type == t {
			return msg
		}
	}
}

// message builds a message in conversation conv (nil for none) from key/value pairs.
func message(t types.MessageType, conv *int64, kv ...string) *types.Message {
	msg := types.NewMessage(t)
	if conv != nil {
		msg.SetConversation(*conv)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		msg.Values.Set(kv[i], kv[i+1])
	}
	return msg
}
