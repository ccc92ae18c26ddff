// Package realtime consumes the server's push channel: a lazy, infinite,
// non-restartable sequence of events over a websocket. The engine treats the
// wire transport as a collaborator; this package only decodes envelopes into
// the closed event taxonomy and hands them to the coordinator.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/telemetry"
)

// EventKind is the closed set of realtime event kinds. Anything the server
// sends outside this set decodes to EventUnknown and is ignored upstream.
type EventKind string

const (
	EventNewMessage    EventKind = "message_new"
	EventDeleteMessage EventKind = "message_delete"
	EventFlush         EventKind = "flush"
	EventError         EventKind = "error"
	EventUnknown       EventKind = "unknown"
)

// Event is one decoded push. Message is set for new/delete kinds; Err
// carries the server-reported description for error kinds.
type Event struct {
	Kind    EventKind
	Message models.Message
	Err     string
}

// envelope is the wire shape of one push.
type envelope struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Channel is a live realtime subscription. Events() is closed when the
// socket dies or Close is called; a Channel cannot be restarted — dial a new
// one.
type Channel struct {
	conn   *websocket.Conn
	events chan Event

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the realtime endpoint and starts the read loop.
func Dial(ctx context.Context, url string, handshakeTimeout time.Duration) (*Channel, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		logger.Error("realtime_dial_failed", "url", url, "error", err)
		return nil, err
	}
	ch := &Channel{
		conn:   conn,
		events: make(chan Event, 16),
		closed: make(chan struct{}),
	}
	logger.Info("realtime_connected", "url", url)
	go ch.readLoop()
	return ch, nil
}

// Events returns the event stream. It is closed on socket failure or Close.
func (c *Channel) Events() <-chan Event { return c.events }

// Close tears down the socket and the event stream. Events already decoded
// but not yet consumed are dropped with the channel.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Channel) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				// deliberate teardown
			default:
				logger.Warn("realtime_read_failed", "error", err)
			}
			return
		}
		ev := decode(data)
		telemetry.RealtimeEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
		select {
		case c.events <- ev:
		case <-c.closed:
			return
		}
	}
}

func decode(data []byte) Event {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Warn("realtime_bad_envelope", "error", err)
		return Event{Kind: EventUnknown}
	}
	switch EventKind(env.Type) {
	case EventNewMessage, EventDeleteMessage:
		var m models.Message
		if len(env.Message) > 0 {
			if err := json.Unmarshal(env.Message, &m); err != nil {
				logger.Warn("realtime_bad_message", "type", env.Type, "error", err)
				return Event{Kind: EventUnknown}
			}
		}
		return Event{Kind: EventKind(env.Type), Message: m}
	case EventFlush:
		return Event{Kind: EventFlush}
	case EventError:
		return Event{Kind: EventError, Err: env.Error}
	default:
		return Event{Kind: EventUnknown}
	}
}
