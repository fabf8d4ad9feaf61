package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	terrors "github.com/vango-dev/tether/internal/errors"
	"github.com/vango-dev/tether/pkg/link"
	"github.com/vango-dev/tether/pkg/protocol"
)

// client is one websocket connection.
type client struct {
	hub  *Hub
	id   link.ClientID
	conn *websocket.Conn

	// ctx is passed to trigger calls and cancelled on disconnect.
	ctx    context.Context
	cancel context.CancelFunc

	send chan []byte
	done chan struct{}
	once sync.Once

	// mu orders sequence assignment with enqueueing.
	mu  sync.Mutex
	seq uint64

	closeReason protocol.CloseReason
	closeMsg    string
}

func newClient(h *Hub, id link.ClientID, conn *websocket.Conn) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		hub:    h,
		id:     id,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, h.config.SendBuffer),
		done:   make(chan struct{}),
	}
}

// publish queues a Publish frame with the next sequence number.
func (c *client) publish(topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := protocol.EncodePublish(c.seq+1, topic, payload, topic == link.TopicSnapshot)
	if err != nil {
		return err
	}
	if err := c.enqueue(f.Encode()); err != nil {
		return err
	}
	c.seq++
	return nil
}

func (c *client) sendMessage(ft protocol.FrameType, msg any) error {
	f, err := protocol.EncodeMessage(ft, msg)
	if err != nil {
		return err
	}
	return c.enqueue(f.Encode())
}

func (c *client) sendError(id uint64, err error) {
	te := terrors.Classify(err)
	em := &protocol.ErrorMessage{
		ID:       id,
		Code:     te.Code,
		Category: string(te.Category),
		Message:  te.Error(),
	}
	if sendErr := c.sendMessage(protocol.FrameError, em); sendErr != nil {
		c.hub.logger.Debug("error frame dropped", "client", c.id, "error", sendErr)
	}
}

// enqueue never blocks. A full queue disconnects the client.
func (c *client) enqueue(data []byte) error {
	select {
	case <-c.done:
		return link.ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.hub.logger.Warn("dropping slow client", "client", c.id, "queued", len(c.send))
		c.shutdown(protocol.CloseSlowClient, "send queue full")
		return ErrSlowClient
	}
}

// shutdown asks the writer to send a close frame and hang up.
func (c *client) shutdown(reason protocol.CloseReason, msg string) {
	c.once.Do(func() {
		c.closeReason = reason
		c.closeMsg = msg
		close(c.done)
	})
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.BinaryMessage, data); err != nil {
				c.hub.logger.Debug("write error", "client", c.id, "error", err)
				c.shutdown(protocol.CloseError, "write failed")
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.hub.config.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.shutdown(protocol.CloseGoingAway, "ping failed")
				return
			}

		case <-c.done:
			c.flushClose()
			return
		}
	}
}

// flushClose writes what is still queued, then the close frames.
func (c *client) flushClose() {
	for {
		select {
		case data := <-c.send:
			if c.write(websocket.BinaryMessage, data) != nil {
				return
			}
			continue
		default:
		}
		break
	}

	if f, err := protocol.EncodeMessage(protocol.FrameControl, protocol.NewClose(c.closeReason, c.closeMsg)); err == nil {
		c.write(websocket.BinaryMessage, f.Encode())
	}
	code := websocket.CloseNormalClosure
	if c.closeReason == protocol.CloseServerShutdown {
		code = websocket.CloseGoingAway
	}
	deadline := time.Now().Add(c.hub.config.WriteTimeout)
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, c.closeMsg), deadline)
}

func (c *client) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *client) readLoop(handler link.Handler) {
	defer func() {
		c.hub.remove(c.id)
		c.cancel()
		c.shutdown(protocol.CloseGoingAway, "connection closed")
		handler.ClientDisconnected(context.Background(), c.id)
		c.hub.logger.Debug("client disconnected", "client", c.id)
		c.hub.wg.Done()
	}()

	pongWait := c.hub.config.PongWait
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	handler.ClientConnected(c.ctx, c.id)

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.hub.logger.Error("read error", "client", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		frame, err := protocol.DecodeFrame(msg, int(c.hub.config.MaxMessageSize))
		if err != nil {
			c.sendError(0, malformed(err))
			continue
		}

		switch frame.Type {
		case protocol.FrameCall:
			c.handleCall(handler, frame)
		case protocol.FrameControl:
			if !c.handleControl(handler, frame) {
				return
			}
		default:
			c.sendError(0, terrors.New(terrors.CodeUnexpectedFrame).
				WithDetail(frame.Type.String()))
		}
	}
}

func (c *client) handleCall(handler link.Handler, frame *protocol.Frame) {
	call, err := protocol.DecodeMessage[protocol.Call](frame, protocol.FrameCall)
	if err != nil {
		c.sendError(0, malformed(err))
		return
	}

	result, err := handler.HandleCall(c.ctx, c.id, call.Name, call.Args, call.Kwargs)
	if err != nil {
		c.sendError(call.ID, err)
		return
	}

	value, err := json.Marshal(result)
	if err != nil {
		c.sendError(call.ID, terrors.New(terrors.CodeNotSerializable).Wrap(err))
		return
	}
	if err := c.sendMessage(protocol.FrameResult, &protocol.Result{ID: call.ID, Value: value}); err != nil {
		c.hub.logger.Debug("result dropped", "client", c.id, "error", err)
	}
}

// handleControl reports false when the client asked to close.
func (c *client) handleControl(handler link.Handler, frame *protocol.Frame) bool {
	ctrl, err := protocol.DecodeMessage[protocol.Control](frame, protocol.FrameControl)
	if err != nil {
		c.sendError(0, malformed(err))
		return true
	}

	switch ctrl.Type {
	case protocol.ControlPing:
		c.sendMessage(protocol.FrameControl, protocol.NewPong(ctrl.Timestamp))
	case protocol.ControlPong:
	case protocol.ControlResync:
		c.hub.logger.Debug("resync requested", "client", c.id, "last_seq", ctrl.LastSeq)
		handler.Resync(c.ctx, c.id)
	case protocol.ControlClose:
		c.hub.logger.Debug("client closing", "client", c.id, "reason", ctrl.Reason, "message", ctrl.Message)
		return false
	}
	return true
}

func malformed(err error) error {
	te := terrors.Classify(err)
	if te.Code == terrors.CodeInternal {
		return terrors.New(terrors.CodeMalformedFrame).Wrap(err)
	}
	return te
}
