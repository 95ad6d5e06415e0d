package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/wppc/internal/bus"
)

// Event names pushed by the server.
const (
	eventReceivedMessage = "received-message"
	eventAck             = "onack"
	eventStatus          = "whatsapp-status"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// MessageEvent is published on the bus for every pushed message.
type MessageEvent struct {
	Session string
	Message Message
}

// AckEvent is published on the bus for every delivery receipt.
type AckEvent struct {
	Session string
	Ack     Ack
}

// ConnectionEvent is published when the server reports the phone connection.
type ConnectionEvent struct {
	Session   string
	Connected bool
}

type eventChannel struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startEventsLocked opens the push channel for the current binding. c.mu must
// be held.
func (c *Client) startEventsLocked() {
	if c.opts.SocketURL == "" || !c.binding.Bound() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch := &eventChannel{cancel: cancel, done: make(chan struct{})}
	c.events = ch
	go c.runEvents(ctx, c.binding, ch.done)
}

// stopEventsLocked closes the push channel and waits for it to exit. c.mu
// must be held; the channel goroutine never takes it.
func (c *Client) stopEventsLocked() {
	if c.events == nil {
		return
	}
	c.events.cancel()
	<-c.events.done
	c.events = nil
}

func (c *Client) runEvents(ctx context.Context, b Binding, done chan struct{}) {
	defer close(done)
	endpoint, err := socketURL(c.opts.SocketURL)
	if err != nil {
		c.logger.Error("event channel disabled", zap.Error(err))
		return
	}
	logger := c.logger.With(zap.String("session", b.Session))

	for attempt := 0; ; attempt++ {
		connected, err := c.serveEvents(ctx, endpoint, b, logger)
		if ctx.Err() != nil {
			return
		}
		if connected {
			attempt = 0
		}
		delay := min(reconnectBase<<min(attempt, 5), reconnectMax)
		logger.Warn("event channel lost, reconnecting",
			zap.Error(err),
			zap.Duration("delay", delay),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// serveEvents runs one websocket connection until it fails. connected
// reports whether the handshake completed.
func (c *Client) serveEvents(ctx context.Context, endpoint string, b Binding, logger *zap.Logger) (connected bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	conn, _, err := websocket.Dial(dialCtx, endpoint, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(32 << 20)

	open, err := readOpen(ctx, conn)
	if err != nil {
		return false, err
	}
	if err := conn.Write(ctx, websocket.MessageText, connectFrame(b.Token)); err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}

	for {
		readCtx, cancel := context.WithTimeout(ctx, open.deadline())
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			return connected, fmt.Errorf("read: %w", err)
		}
		if len(data) == 0 {
			continue
		}
		switch data[0] {
		case eioPing:
			if err := conn.Write(ctx, websocket.MessageText, []byte{eioPong}); err != nil {
				return connected, fmt.Errorf("pong: %w", err)
			}
		case eioClose:
			return connected, errors.New("server closed the channel")
		case eioMessage:
			if len(data) < 2 {
				continue
			}
			switch data[1] {
			case sioConnect:
				connected = true
				logger.Info("event channel connected")
			case sioConnectError:
				return connected, fmt.Errorf("connect refused: %s", data[2:])
			case sioDisconnect:
				return connected, errors.New("server disconnected the namespace")
			case sioEvent:
				c.dispatch(b.Session, data[2:], logger)
			}
		}
	}
}

func readOpen(ctx context.Context, conn *websocket.Conn) (openPacket, error) {
	readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, data, err := conn.Read(readCtx)
	if err != nil {
		return openPacket{}, fmt.Errorf("read open: %w", err)
	}
	if len(data) == 0 || data[0] != eioOpen {
		return openPacket{}, fmt.Errorf("unexpected handshake %q", data)
	}
	var open openPacket
	if err := json.Unmarshal(data[1:], &open); err != nil {
		return openPacket{}, fmt.Errorf("decode open: %w", err)
	}
	return open, nil
}

type messagePush struct {
	Session  string  `json:"session"`
	Response Message `json:"response"`
}

func (c *Client) dispatch(session string, payload []byte, logger *zap.Logger) {
	name, args, err := decodeEvent(payload)
	if err != nil {
		logger.Debug("ignoring malformed event", zap.Error(err))
		return
	}
	if len(args) == 0 {
		return
	}

	switch name {
	case eventReceivedMessage:
		var push messagePush
		if err := json.Unmarshal(args[0], &push); err != nil {
			logger.Warn("decode message event", zap.Error(err))
			return
		}
		if push.Session != "" && push.Session != session {
			return
		}
		c.bus.Emit(bus.KindRemoteMessage, MessageEvent{Session: session, Message: push.Response})
	case eventAck:
		var ack Ack
		if err := json.Unmarshal(args[0], &ack); err != nil {
			logger.Warn("decode ack event", zap.Error(err))
			return
		}
		c.bus.Emit(bus.KindRemoteAck, AckEvent{Session: session, Ack: ack})
	case eventStatus:
		var connected bool
		if err := json.Unmarshal(args[0], &connected); err != nil {
			logger.Warn("decode status event", zap.Error(err))
			return
		}
		c.bus.Emit(bus.KindRemoteConnection, ConnectionEvent{Session: session, Connected: connected})
	default:
		logger.Debug("unhandled event", zap.String("event", name))
	}
}

// OnMessage registers cb for pushed messages under key. Registering the same
// key again replaces the earlier callback. The returned func unregisters it.
func (c *Client) OnMessage(key string, cb func(Message)) func() {
	return c.bus.Handle(bus.KindRemoteMessage, bus.KindRemoteMessage+"/"+key, func(evt bus.Event) {
		if e, ok := evt.Payload.(MessageEvent); ok {
			cb(e.Message)
		}
	})
}

// OnAck registers cb for delivery receipts under key, replacing any earlier
// callback with the same key.
func (c *Client) OnAck(key string, cb func(Ack)) func() {
	return c.bus.Handle(bus.KindRemoteAck, bus.KindRemoteAck+"/"+key, func(evt bus.Event) {
		if e, ok := evt.Payload.(AckEvent); ok {
			cb(e.Ack)
		}
	})
}

// OnConnectionStatus registers cb for phone connection changes under key,
// replacing any earlier callback with the same key.
func (c *Client) OnConnectionStatus(key string, cb func(bool)) func() {
	return c.bus.Handle(bus.KindRemoteConnection, bus.KindRemoteConnection+"/"+key, func(evt bus.Event) {
		if e, ok := evt.Payload.(ConnectionEvent); ok {
			cb(e.Connected)
		}
	})
}
