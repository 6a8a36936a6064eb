package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

const (
	wsOutboxSize   = 32
	wsWriteTimeout = 5 * time.Second
)

var errOutboxFull = errors.New("tab outbox full")

// WSBridge exposes the coordinator to browser tabs over websocket. Each
// connection becomes one Port.
type WSBridge struct {
	coord          *Coordinator
	originPatterns []string
}

func NewWSBridge(coord *Coordinator, originPatterns ...string) *WSBridge {
	return &WSBridge{coord: coord, originPatterns: originPatterns}
}

// wsPort queues outbound messages so the coordinator loop never waits on a
// socket write.
type wsPort struct {
	id     string
	outbox chan Message
}

func (p *wsPort) ID() string { return p.id }

func (p *wsPort) Send(msg Message) error {
	select {
	case p.outbox <- msg:
		return nil
	default:
		return errOutboxFull
	}
}

func (b *WSBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.originPatterns})
	if err != nil {
		logger.LogErr(err, "websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	port := &wsPort{id: "tab-" + uuid.NewString(), outbox: make(chan Message, wsOutboxSize)}
	if err := b.coord.Connect(ctx, port); err != nil {
		logger.LogErr(err, "failed to register tab")
		_ = conn.Close(websocket.StatusTryAgainLater, "coordinator unavailable")
		return
	}
	defer func() {
		// the request context is gone by now
		dctx, dcancel := context.WithTimeout(context.Background(), time.Second)
		defer dcancel()
		if err := b.coord.Disconnect(dctx, port.id); err != nil && !errors.Is(err, ErrStopped) {
			logger.LogErr(err, "failed to unregister tab", "port", port.id)
		}
	}()

	go writeLoop(ctx, conn, port)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				logger.Debug("Tab read ended", "port", port.id, "error", err.Error())
			}
			return
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			_ = port.Send(Message{Type: MsgSyncError, Message: err.Error()})
			continue
		}
		if err := b.coord.Post(ctx, port.id, msg); err != nil {
			logger.LogErr(err, "failed to post tab message", "port", port.id, "type", msg.Type)
			if errors.Is(err, ErrStopped) {
				_ = conn.Close(websocket.StatusGoingAway, "coordinator stopped")
				return
			}
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, port *wsPort) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-port.outbox:
			if err := writeMessage(ctx, conn, msg); err != nil {
				logger.LogErr(err, "failed to write to tab", "port", port.id)
				return
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return serr.Wrap(err, "failed to encode message")
	}
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
