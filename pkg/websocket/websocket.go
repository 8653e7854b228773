package websocket

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/labstack/gommon/log"
)

const writeWait = 10 * time.Second

var (
	ErrClosed          = errors.New("connection closed")
	ErrSendQueueFull   = errors.New("send queue full")
	ErrMessageTooLarge = errors.New("message too large")
)

type Options struct {
	PingInterval   time.Duration
	SendQueueSize  int
	MaxMessageSize int64
}

func (o *Options) withDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 64
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
}

// Conn is a server side websocket connection. A single writer goroutine owns
// every write to the socket; the read loop runs on the caller's goroutine.
type Conn struct {
	conn      net.Conn
	opts      Options
	out       chan ws.Frame
	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(conn net.Conn, opts Options) *Conn {
	opts.withDefaults()
	return &Conn{
		conn: conn,
		opts: opts,
		out:  make(chan ws.Frame, opts.SendQueueSize),
		done: make(chan struct{}),
	}
}

// Send queues p as a text frame without blocking.
func (c *Conn) Send(p []byte) error {
	return c.enqueue(ws.NewTextFrame(p))
}

func (c *Conn) enqueue(f ws.Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- f:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSendQueueFull
	}
}

// Serve reads complete text messages and passes them to handle until the peer
// closes the connection, the keepalive lapses, or Close is called. The socket
// is closed when Serve returns.
func (c *Conn) Serve(handle func([]byte)) error {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	err := c.readLoop(handle)
	_ = c.Close()
	<-writerDone
	_ = c.conn.Close()
	return err
}

// Close stops both loops. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.SetReadDeadline(time.Now())
	})
	return nil
}

func (c *Conn) readLoop(handle func([]byte)) error {
	var message []byte
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(2 * c.opts.PingInterval)); err != nil {
			return err
		}
		// Close may have run before the deadline above replaced its own.
		select {
		case <-c.done:
			return ErrClosed
		default:
		}

		h, err := ws.ReadHeader(c.conn)
		if err != nil {
			select {
			case <-c.done:
				return ErrClosed
			default:
				return err
			}
		}
		if h.Length > c.opts.MaxMessageSize {
			return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, h.Length)
		}
		payload := make([]byte, h.Length)
		if _, err = io.ReadFull(c.conn, payload); err != nil {
			return err
		}
		if h.Masked {
			ws.Cipher(payload, h.Mask, 0)
		}

		switch h.OpCode {
		case ws.OpPing:
			if err := c.enqueue(ws.NewPongFrame(payload)); err != nil {
				log.Debugf("pong dropped: %v", err)
			}
		case ws.OpPong:
		case ws.OpClose:
			return nil
		case ws.OpText, ws.OpBinary, ws.OpContinuation:
			message = append(message, payload...)
			if int64(len(message)) > c.opts.MaxMessageSize {
				return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(message))
			}
			if h.Fin {
				handle(message)
				message = nil
			}
		}
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case f := <-c.out:
			if err := c.write(f); err != nil {
				log.Warn(err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(ws.NewPingFrame([]byte("ping"))); err != nil {
				log.Warn(err)
				_ = c.Close()
				return
			}
		case <-c.done:
			_ = c.write(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
			return
		}
	}
}

func (c *Conn) write(f ws.Frame) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteFrame(c.conn, f)
}
