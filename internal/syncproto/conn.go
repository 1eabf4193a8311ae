package syncproto

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lithammer/shortuuid/v4"
)

// Handler processes one inbound Envelope and optionally returns a response
// payload to ack with. A non-nil error causes an ErrorPayload ack.
type Handler func(ctx context.Context, env *Envelope) (any, error)

// Conn wraps a gorilla/websocket connection with envelope framing, a single
// read loop (Run), writes serialized by a mutex, and request/ack
// correlation.
type Conn struct {
	ws      *websocket.Conn
	handler Handler

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *Envelope
}

// NewConn wraps an already-upgraded/dialed websocket connection.
func NewConn(ws *websocket.Conn, handler Handler) *Conn {
	return &Conn{
		ws:      ws,
		handler: handler,
		pending: make(map[string]chan *Envelope),
	}
}

// Run reads envelopes until the connection closes or ctx is cancelled. Acks
// and errors are routed to their pending Call from the read loop; every other
// envelope is dispatched to the handler on its own goroutine so a slow
// handler never blocks the read loop.
func (c *Conn) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = c.ws.Close()
	}()

	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			return fmt.Errorf("read envelope: %w", err)
		}

		if env.Method == MethodAck || env.Method == MethodError {
			c.deliverPending(&env)
			continue
		}

		go c.dispatch(ctx, env)
	}
}

func (c *Conn) dispatch(ctx context.Context, env Envelope) {
	if c.handler == nil {
		return
	}
	result, err := c.handler(ctx, &env)
	if err != nil {
		errEnv, encErr := Encode(env.ID, MethodError, ErrorPayload{Code: "handler_error", Message: err.Error()})
		if encErr != nil {
			slog.Error("sync: encode error ack failed", "error", encErr)
			return
		}
		if sendErr := c.send(errEnv); sendErr != nil {
			slog.Error("sync: send error ack failed", "error", sendErr)
		}
		return
	}
	if result == nil {
		return
	}
	ackEnv, err := Encode(env.ID, MethodAck, result)
	if err != nil {
		slog.Error("sync: encode ack failed", "error", err)
		return
	}
	if err := c.send(ackEnv); err != nil {
		slog.Error("sync: send ack failed", "error", err)
	}
}

func (c *Conn) deliverPending(env *Envelope) {
	c.pendingMu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- env
	}
}

func (c *Conn) send(env *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(env)
}

// Send fires an envelope without waiting for an ack (used for batches and
// heartbeats, where loss is acceptable and retried on the next tick).
func (c *Conn) Send(method Method, payload any) error {
	env, err := Encode(shortuuid.New(), method, payload)
	if err != nil {
		return err
	}
	return c.send(env)
}

// Call sends an envelope and blocks for its ack/error, or until timeout.
func (c *Conn) Call(ctx context.Context, method Method, payload any, timeout time.Duration, result any) error {
	env, err := Encode(shortuuid.New(), method, payload)
	if err != nil {
		return err
	}

	ch := make(chan *Envelope, 1)
	c.pendingMu.Lock()
	c.pending[env.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, env.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.send(env); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case reply := <-ch:
		if reply.Method == MethodError {
			var errPayload ErrorPayload
			if err := reply.Decode(&errPayload); err == nil {
				return fmt.Errorf("%s: %s", errPayload.Code, errPayload.Message)
			}
			return fmt.Errorf("%s failed", method)
		}
		if result != nil {
			return reply.Decode(result)
		}
		return nil
	case <-callCtx.Done():
		return fmt.Errorf("%s: %w", method, callCtx.Err())
	}
}
