package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/MIK-RC/aws-aiops/internal/agent"
	"github.com/MIK-RC/aws-aiops/internal/workflow"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024
)

// Invoker runs an invocation for a client.
type Invoker interface {
	Invoke(ctx context.Context, inv workflow.Invocation) (*workflow.Outcome, error)
}

// Client is one websocket connection. It receives the swarm events of runs
// started by its subject and the results of its own invocations.
type Client struct {
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	Subject string

	invoker Invoker
	ctx     context.Context
}

func NewClient(ctx context.Context, hub *Hub, conn *websocket.Conn, subject string, invoker Invoker) *Client {
	return &Client{
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		Subject: subject,
		invoker: invoker,
		ctx:     ctx,
	}
}

// ReadPump reads invocations until the connection closes.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("websocket", "read error: %v", err)
			}
			break
		}

		var msg IncomingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.SendMessage(NewError("parse_error", "failed to parse message"))
			continue
		}
		c.handle(&msg)
	}
}

func (c *Client) handle(msg *IncomingMessage) {
	if msg.Type != TypeInvoke {
		c.SendMessage(NewError("unknown_type", "unsupported message type: "+msg.Type))
		return
	}

	inv := msg.Invocation
	if err := workflow.Validate(&inv); err != nil {
		out := NewError("validation_error", err.Error())
		var verr *workflow.ValidationError
		if errors.As(err, &verr) {
			out.Field = verr.Field
		}
		c.SendMessage(out)
		return
	}

	inv.RunID = uuid.New().String()
	c.SendMessage(NewAccepted(inv.Mode, inv.RunID))
	ctx := agent.WithOwner(c.ctx, c.Subject)
	go func() {
		out, err := c.invoker.Invoke(ctx, inv)
		if err != nil {
			c.SendMessage(NewError("invoke_error", err.Error()))
			return
		}
		c.SendMessage(NewResult(out))
	}()
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Warn("websocket", "failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage sends a message to the client
func (c *Client) SendMessage(msg *OutgoingMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Warn("websocket", "failed to marshal message: %v", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends raw bytes to the client. A full buffer drops the message.
func (c *Client) SendRaw(data []byte) {
	defer func() {
		// Send is closed once the hub unregistered the client
		recover()
	}()
	select {
	case c.Send <- data:
	default:
		logging.Warn("websocket", "client buffer full, dropping message for subject=%s", c.Subject)
	}
}
