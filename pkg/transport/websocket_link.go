package transport

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/octerm/octerm-hub/pkg/connection"
)

var ErrLinkClosed = stderrors.New("websocket link closed")

const (
	DefaultWriteWait = 10 * time.Second
	closeFrameWait   = time.Second
)

type readResult struct {
	frame connection.Frame
	err   error
}

// wsLink adapts a gorilla connection to connection.Sender and connection.FrameSource.
// A single pump goroutine owns all reads; pong control frames are surfaced in
// order with data frames so the reader sees replies without waiting for the next
// data message.
type wsLink struct {
	conn      *websocket.Conn
	writeWait time.Duration

	mut_write sync.Mutex

	frames    chan readResult
	closed    chan struct{}
	closeOnce sync.Once
	pumpOnce  sync.Once
}

func newWsLink(conn *websocket.Conn, writeWait time.Duration) *wsLink {
	if writeWait <= 0 {
		writeWait = DefaultWriteWait
	}

	l := &wsLink{
		conn:      conn,
		writeWait: writeWait,
		frames:    make(chan readResult, 16),
		closed:    make(chan struct{}),
	}

	conn.SetPongHandler(func(appData string) error {
		l.deliver(readResult{frame: connection.Frame{Kind: connection.FrameKind_Pong, Data: []byte(appData)}})
		return nil
	})

	return l
}

func (l *wsLink) deliver(r readResult) bool {
	select {
	case l.frames <- r:
		return true
	case <-l.closed:
		return false
	}
}

func (l *wsLink) pump() {
	for {
		msgType, payload, err := l.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if stderrors.As(err, &closeErr) {
				l.deliver(readResult{frame: connection.Frame{Kind: connection.FrameKind_Close, Data: []byte(closeErr.Text)}})
				return
			}
			l.deliver(readResult{err: err})
			return
		}

		kind := connection.FrameKind_Text
		if msgType == websocket.BinaryMessage {
			kind = connection.FrameKind_Binary
		}
		if !l.deliver(readResult{frame: connection.Frame{Kind: kind, Data: payload}}) {
			return
		}
	}
}

func (l *wsLink) Next(ctx context.Context) (connection.Frame, error) {
	l.pumpOnce.Do(func() { go l.pump() })

	select {
	case r := <-l.frames:
		return r.frame, r.err
	case <-l.closed:
		return connection.Frame{}, ErrLinkClosed
	case <-ctx.Done():
		return connection.Frame{}, ctx.Err()
	}
}

func (l *wsLink) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(l.writeWait)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

func (l *wsLink) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mut_write.Lock()
	defer l.mut_write.Unlock()

	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}

	if err := l.conn.SetWriteDeadline(l.deadline(ctx)); err != nil {
		return err
	}
	return l.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (l *wsLink) SendPing(ctx context.Context) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}

	return l.conn.WriteControl(websocket.PingMessage, nil, l.deadline(ctx))
}

// CloseWithCode sends a close frame carrying code before tearing the connection down.
func (l *wsLink) CloseWithCode(code int, text string) error {
	return l.closeWith(code, text)
}

func (l *wsLink) Close() error {
	return l.closeWith(websocket.CloseGoingAway, "")
}

func (l *wsLink) closeWith(code int, text string) error {
	var err error
	l.closeOnce.Do(func() {
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(closeFrameWait))
		close(l.closed)
		err = l.conn.Close()
	})
	return err
}
