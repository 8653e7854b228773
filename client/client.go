// Package client speaks the room protocol from the participant side.
package client

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/labstack/gommon/log"

	"syncwatch.app/protocol"
	"syncwatch.app/syncpolicy"
)

type Client struct {
	conn net.Conn
	r    io.Reader

	wmu sync.Mutex
}

// Dial opens a websocket to the room server, e.g. ws://localhost:3000/ws.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, r: conn}
	if br != nil {
		c.r = br
	}
	return c, nil
}

func (c *Client) Send(m protocol.Inbound) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return c.write(ws.OpText, b)
}

// SendRaw writes an arbitrary text frame.
func (c *Client) SendRaw(b []byte) error {
	return c.write(ws.OpText, b)
}

func (c *Client) write(op ws.OpCode, b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wsutil.WriteClientMessage(c.conn, op, b)
}

// Receive blocks until the next server message. Frames that do not parse are
// logged and skipped.
func (c *Client) Receive() (protocol.Outbound, error) {
	for {
		h, err := ws.ReadHeader(c.r)
		if err != nil {
			return nil, err
		}
		payload := make([]byte, h.Length)
		if _, err = io.ReadFull(c.r, payload); err != nil {
			return nil, err
		}

		switch h.OpCode {
		case ws.OpPing:
			if err := c.write(ws.OpPong, payload); err != nil {
				return nil, err
			}
		case ws.OpClose:
			return nil, io.EOF
		case ws.OpText:
			m, err := protocol.ParseOutbound(payload)
			if err != nil {
				log.Warnf("client: %v", err)
				continue
			}
			return m, nil
		}
	}
}

// ReceiveTimeout is Receive with a read deadline.
func (c *Client) ReceiveTimeout(d time.Duration) (protocol.Outbound, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return nil, err
	}
	defer c.conn.SetReadDeadline(time.Time{})
	return c.Receive()
}

func (c *Client) Close() error {
	err := c.write(ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	return errors.Join(err, c.conn.Close())
}

// Emitter returns a syncpolicy.Emitter that sends intents over c.
func (c *Client) Emitter() syncpolicy.Emitter {
	return func(m protocol.Playback) {
		if err := c.Send(m); err != nil {
			log.Warnf("client: send %s: %v", m.Type(), err)
		}
	}
}

// Watch feeds server messages into policy until the connection fails. The
// policy learns its identity from created and state messages. handle, when
// set, sees every message after the policy.
func (c *Client) Watch(policy *syncpolicy.Policy, handle func(protocol.Outbound)) error {
	for {
		m, err := c.Receive()
		if err != nil {
			return err
		}
		switch ev := m.(type) {
		case protocol.Created:
			policy.SetIdentity(ev.ClientID, ev.RoomID)
		case protocol.RoomState:
			policy.SetIdentity(ev.ClientID, ev.RoomID)
		case protocol.VideoSync:
			policy.ApplyDirective(ev)
		}
		if handle != nil {
			handle(m)
		}
	}
}
